package chunk

import (
	"regexp"
	"strings"
)

// Purpose is a short, human-readable guess at what a symbol is for, derived
// from its name. It has no bearing on indexing correctness; callers use it
// only to enrich a chunk's metadata for display and reranking.
type Purpose string

const (
	PurposeConstructor Purpose = "constructor"
	PurposeAccessor    Purpose = "accessor"
	PurposePredicate   Purpose = "predicate"
	PurposeParser      Purpose = "parser"
	PurposeSerializer  Purpose = "serializer"
	PurposeValidator   Purpose = "validator"
	PurposeHandler     Purpose = "handler"
	PurposeUnknown     Purpose = ""
)

// namePrefixPurposes maps common naming prefixes to an inferred purpose, in
// priority order: the first matching prefix wins.
var namePrefixPurposes = []struct {
	prefix  string
	purpose Purpose
}{
	{"new", PurposeConstructor},
	{"make", PurposeConstructor},
	{"get", PurposeAccessor},
	{"is", PurposePredicate},
	{"has", PurposePredicate},
	{"can", PurposePredicate},
	{"parse", PurposeParser},
	{"decode", PurposeParser},
	{"marshal", PurposeSerializer},
	{"encode", PurposeSerializer},
	{"validate", PurposeValidator},
	{"check", PurposeValidator},
	{"handle", PurposeHandler},
	{"serve", PurposeHandler},
}

// InferPurpose guesses a symbol's purpose from its name's leading word,
// matched case-insensitively against namePrefixPurposes.
func InferPurpose(name string) Purpose {
	lower := strings.ToLower(name)
	for _, candidate := range namePrefixPurposes {
		if strings.HasPrefix(lower, candidate.prefix) {
			return candidate.purpose
		}
	}
	return PurposeUnknown
}

// Complexity scores a chunk's structural complexity on a roughly-linear
// scale starting at 1.0, based on branching and nesting keywords. It is a
// cheap proxy for cyclomatic complexity, not a replacement for one: it
// counts keyword occurrences rather than walking the control-flow graph.
func Complexity(content string) float32 {
	branchKeywords := []string{"if ", "else", "for ", "switch ", "case ", "catch", "&&", "||"}
	score := float32(1.0)
	for _, kw := range branchKeywords {
		score += float32(strings.Count(content, kw)) * 0.3
	}
	score += float32(strings.Count(content, "\n")) * 0.02
	return score
}

// Tokens extracts a deduplicated, order-preserving list of identifier-like
// words from content, for use as CodeMetadata.Tokens. It skips the
// language's reserved words supplied by stopWords.
func Tokens(content string, stopWords map[string]struct{}) []string {
	matches := identifierPattern.FindAllString(content, -1)
	seen := make(map[string]struct{}, len(matches))
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		lower := strings.ToLower(m)
		if len(lower) < 2 {
			continue
		}
		if _, stop := stopWords[lower]; stop {
			continue
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		tokens = append(tokens, lower)
	}
	return tokens
}

var identifierPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// FragmentComplexity rates a synthesized fragment's complexity from its
// parameter count and body, capped at 10.0 so it stays comparable across
// wildly different function sizes.
func FragmentComplexity(paramCount int, body string) float32 {
	score := float32(paramCount)*0.1 + Complexity(body)
	if score > 10.0 {
		score = 10.0
	}
	return score
}

// ExtractBalancedBody returns the substring of src starting at openIdx (the
// index of an opening brace) through its matching closing brace, inclusive.
// It tracks string and rune literals so braces inside them are ignored. It
// returns ok=false if no matching brace is found before the end of src.
func ExtractBalancedBody(src string, openIdx int) (body string, ok bool) {
	if openIdx < 0 || openIdx >= len(src) || src[openIdx] != '{' {
		return "", false
	}

	depth := 0
	inString := false
	inRune := false
	inLineComment := false
	inBlockComment := false
	var stringQuote byte

	for i := openIdx; i < len(src); i++ {
		c := src[i]

		if inLineComment {
			if c == '\n' {
				inLineComment = false
			}
			continue
		}
		if inBlockComment {
			if c == '/' && i > 0 && src[i-1] == '*' {
				inBlockComment = false
			}
			continue
		}
		if inString {
			if c == '\\' {
				i++
				continue
			}
			if c == stringQuote {
				inString = false
			}
			continue
		}
		if inRune {
			if c == '\\' {
				i++
				continue
			}
			if c == '\'' {
				inRune = false
			}
			continue
		}

		switch c {
		case '"', '`':
			inString = true
			stringQuote = c
		case '\'':
			inRune = true
		case '/':
			if i+1 < len(src) {
				switch src[i+1] {
				case '/':
					inLineComment = true
				case '*':
					inBlockComment = true
				}
			}
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return src[openIdx : i+1], true
			}
		}
	}
	return "", false
}
