package search

import (
	"fmt"
	"sort"
	"strings"
)

// OptimizedContext is a token-budgeted assembly of search results, ready to
// paste into a model prompt.
type OptimizedContext struct {
	Context     string
	Files       []string
	TotalTokens int
	Summary     string
}

// ContextOptimizer packs EnhancedResult snippets into a context string that
// fits a token budget, highest-relevance first.
type ContextOptimizer struct {
	// TokensPerChar approximates token count from byte length. 1/4.5 matches
	// typical source code density.
	TokensPerChar float64
}

// NewContextOptimizer returns an optimizer using the standard tokens-per-char
// approximation.
func NewContextOptimizer() *ContextOptimizer {
	return &ContextOptimizer{TokensPerChar: 1.0 / 4.5}
}

const minCombinedScoreForContext = 0.1

// Optimize filters, ranks, and packs results into maxTokens. Test files are
// dropped unless includeTests is set; dependency expansion is accepted as a
// parameter for forward compatibility but is not yet implemented (mirrors
// the unfinished add_dependencies in the system this was ported from).
func (o *ContextOptimizer) Optimize(results []EnhancedResult, maxTokens int, includeTests, includeDependencies bool) OptimizedContext {
	candidates := make([]EnhancedResult, 0, len(results))
	for _, r := range results {
		if !includeTests && isTestFile(r.Entry.Metadata.FilePath) {
			continue
		}
		if r.CombinedScore < minCombinedScoreForContext {
			continue
		}
		candidates = append(candidates, r)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CombinedScore > candidates[j].CombinedScore
	})

	structureTokens := maxTokens / 20
	availableTokens := maxTokens - structureTokens

	var parts []string
	includedFiles := make(map[string]struct{})
	currentTokens := 0

	for _, r := range candidates {
		filePath := r.Entry.Metadata.FilePath
		if _, seen := includedFiles[filePath]; seen {
			continue
		}

		content := o.extractRelevantContent(r)
		estimated := o.estimateTokens(content)

		if currentTokens+estimated > availableTokens {
			snippet := o.createSnippet(content, availableTokens-currentTokens)
			if snippet != "" {
				parts = append(parts, formatFileSection(filePath, snippet, r.CombinedScore))
				includedFiles[filePath] = struct{}{}
				currentTokens += o.estimateTokens(snippet)
			}
			break
		}

		parts = append(parts, formatFileSection(filePath, content, r.CombinedScore))
		includedFiles[filePath] = struct{}{}
		currentTokens += estimated

		// Dependency expansion (imports/exports of the included file) is left
		// unimplemented; includeDependencies is accepted but has no effect yet.
		_ = includeDependencies
	}

	context := o.buildStructuredContext(parts, maxTokens)
	finalTokens := o.estimateTokens(context)

	minScore, maxScore := scoreRange(results)
	files := make([]string, 0, len(includedFiles))
	for f := range includedFiles {
		files = append(files, f)
	}
	sort.Strings(files)

	efficiency := 0.0
	if maxTokens > 0 {
		efficiency = float64(finalTokens) / float64(maxTokens) * 100.0
	}

	return OptimizedContext{
		Context:     context,
		Files:       files,
		TotalTokens: finalTokens,
		Summary: fmt.Sprintf(
			"Optimized context with %d files, %.1f%% token efficiency, relevance scores: %.2f-%.2f",
			len(files), efficiency, minScore, maxScore,
		),
	}
}

func isTestFile(filePath string) bool {
	lower := strings.ToLower(filePath)
	return strings.Contains(lower, "test") ||
		strings.Contains(lower, "spec") ||
		strings.HasSuffix(lower, ".test.ts") ||
		strings.HasSuffix(lower, ".spec.ts") ||
		strings.HasSuffix(lower, "_test.go") ||
		strings.Contains(lower, "/tests/")
}

func (o *ContextOptimizer) extractRelevantContent(r EnhancedResult) string {
	tokens := r.Entry.Metadata.Tokens
	name := r.Entry.Metadata.FunctionName
	if name == "" {
		name = "Content"
	}
	if len(tokens) > 50 {
		return fmt.Sprintf("// %s (%s)\n%s\n// ... (truncated for brevity)", name, r.Entry.Metadata.CodeType, strings.Join(tokens[:50], " "))
	}
	return fmt.Sprintf("// %s (%s)\n%s", name, r.Entry.Metadata.CodeType, strings.Join(tokens, " "))
}

func (o *ContextOptimizer) estimateTokens(text string) int {
	tokens := float64(len(text)) * o.TokensPerChar
	if tokens != float64(int(tokens)) {
		tokens++
	}
	return int(tokens)
}

func (o *ContextOptimizer) createSnippet(content string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	maxChars := int(float64(maxTokens) / o.TokensPerChar)
	if len(content) <= maxChars {
		return content
	}
	if maxChars <= 0 {
		return ""
	}
	return content[:maxChars] + "\n// ... (truncated)"
}

func formatFileSection(filePath, content string, relevance float32) string {
	return fmt.Sprintf("// File: %s (relevance: %.2f)\n%s\n\n", filePath, relevance, content)
}

func (o *ContextOptimizer) buildStructuredContext(parts []string, maxTokens int) string {
	header := fmt.Sprintf("// Optimized code context (target: %d tokens)\n// Generated by the context optimizer\n\n", maxTokens)
	footer := fmt.Sprintf("\n\n// End of optimized context - %d files included\n", len(parts))
	return header + strings.Join(parts, "") + footer
}

func scoreRange(results []EnhancedResult) (min, max float32) {
	if len(results) == 0 {
		return 0, 0
	}
	min, max = results[0].CombinedScore, results[0].CombinedScore
	for _, r := range results[1:] {
		if r.CombinedScore < min {
			min = r.CombinedScore
		}
		if r.CombinedScore > max {
			max = r.CombinedScore
		}
	}
	return min, max
}
