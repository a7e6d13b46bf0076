// Package httpapi exposes the tool-call surface over plain HTTP/JSON:
// GET /, GET /tools, and POST /tools/{name}. It is the primary transport;
// the stdio MCP server in internal/mcp is an additive second front door onto
// the same idea of named, schema-described tools.
package httpapi

import (
	"encoding/json"
	"reflect"
	"strings"
)

// Handler runs one tool call against a raw JSON parameters object and
// returns a JSON-serializable result.
type Handler func(ctx *RequestContext, params json.RawMessage) (any, error)

// Tool is one named, schema-described operation in the registry.
type Tool struct {
	Name        string
	Description string
	// ParamsType, if non-nil, is reflected into a JSON-schema-shaped object
	// the same way internal/mcp/tools.go's struct-tagged input types
	// document their parameters.
	ParamsType reflect.Type
	Handle     Handler
}

// ToolInfo is the public, listable shape of a Tool (GET /tools entries).
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Registry holds the set of tools reachable over the tool-call surface.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds tool to the registry. Registering a name twice replaces the
// earlier tool but keeps its position in List order.
func (r *Registry) Register(tool Tool) {
	if _, exists := r.tools[tool.Name]; !exists {
		r.order = append(r.order, tool.Name)
	}
	r.tools[tool.Name] = tool
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool's public info, in registration order.
func (r *Registry) List() []ToolInfo {
	infos := make([]ToolInfo, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		infos = append(infos, ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaFor(t.ParamsType),
		})
	}
	return infos
}

// schemaFor builds a minimal JSON-schema object describing t's exported
// fields, using each field's "json" tag for the property name and its
// "jsonschema" tag (the same tag internal/mcp/tools.go uses) for the
// description. A nil type describes a tool that takes no parameters.
func schemaFor(t reflect.Type) map[string]any {
	if t == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}

	properties := make(map[string]any, t.NumField())
	var required []string

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		name, omitempty := parseJSONTag(jsonTag, field.Name)
		if name == "-" {
			continue
		}

		prop := map[string]any{"type": jsonSchemaType(field.Type)}
		if desc := field.Tag.Get("jsonschema"); desc != "" {
			prop["description"] = desc
		}
		properties[name] = prop

		if !omitempty {
			required = append(required, name)
		}
	}

	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func parseJSONTag(tag, fieldName string) (name string, omitempty bool) {
	if tag == "" {
		return fieldName, false
	}
	parts := strings.Split(tag, ",")
	name = parts[0]
	if name == "" {
		name = fieldName
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitempty = true
		}
	}
	return name, omitempty
}

func jsonSchemaType(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	default:
		return "string"
	}
}
