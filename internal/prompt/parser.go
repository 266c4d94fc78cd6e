package prompt

import (
	"regexp"
	"strings"
)

var (
	singleBracePattern = regexp.MustCompile(`\{([^{}]+)\}`)
	doubleBracePattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)
)

const fileRefPrefix = "file:"

// ParseResult classifies every placeholder found in a template. Each
// slice has set semantics: duplicates collapse, first-seen order kept.
type ParseResult struct {
	Variables              []string `json:"variables"`
	KnowledgeBaseVariables []string `json:"knowledge_base_variables"`
	FileReferences         []string `json:"file_references"`
	HasVariables           bool     `json:"has_variables"`
	HasFiles               bool     `json:"has_files"`
}

// Parse scans a template for `{name}` plain variables, `{{name}}`
// knowledge-base variables and `{{file:name}}` file references. Any
// input, including the empty string, yields a valid (possibly empty)
// result.
func Parse(template string) ParseResult {
	result := ParseResult{
		Variables:              []string{},
		KnowledgeBaseVariables: []string{},
		FileReferences:         []string{},
	}
	if template == "" {
		return result
	}

	seenVars := make(map[string]bool)
	for _, match := range singleBraceMatches(template) {
		name := strings.TrimSpace(template[match[2]:match[3]])
		if name == "" || seenVars[name] {
			continue
		}
		seenVars[name] = true
		result.Variables = append(result.Variables, name)
	}

	seenKB := make(map[string]bool)
	seenFiles := make(map[string]bool)
	for _, match := range doubleBracePattern.FindAllStringSubmatchIndex(template, -1) {
		inner := strings.TrimSpace(template[match[2]:match[3]])
		if inner == "" {
			continue
		}
		if strings.HasPrefix(inner, fileRefPrefix) {
			name := strings.TrimSpace(strings.TrimPrefix(inner, fileRefPrefix))
			if name == "" || seenFiles[name] {
				continue
			}
			seenFiles[name] = true
			result.FileReferences = append(result.FileReferences, name)
			continue
		}
		if seenKB[inner] {
			continue
		}
		seenKB[inner] = true
		result.KnowledgeBaseVariables = append(result.KnowledgeBaseVariables, inner)
	}

	result.HasVariables = len(result.Variables) > 0 || len(result.KnowledgeBaseVariables) > 0
	result.HasFiles = len(result.FileReferences) > 0
	return result
}

// singleBraceMatches returns submatch index pairs for plain `{name}`
// placeholders. A match adjacent to an extra brace on either side is
// rejected so the inner span of `{{name}}` is never reported as a
// plain variable.
func singleBraceMatches(template string) [][]int {
	matches := singleBracePattern.FindAllStringSubmatchIndex(template, -1)
	out := make([][]int, 0, len(matches))
	for _, match := range matches {
		start, end := match[0], match[1]
		if start > 0 && template[start-1] == '{' {
			continue
		}
		if end < len(template) && template[end] == '}' {
			continue
		}
		out = append(out, match)
	}
	return out
}
