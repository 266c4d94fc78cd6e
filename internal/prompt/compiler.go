package prompt

import (
	"context"
	"strings"

	"github.com/kavarel/gigpilot/internal/domain"
	"github.com/rs/zerolog/log"
)

// Compiled is the output of template compilation.
type Compiled struct {
	Text          string   `json:"text"`
	UsedVariables []string `json:"used_variables"`
	UsedFiles     []string `json:"used_files"`
}

// Compiler substitutes resolved context and file references into a
// template. It fails open: whatever goes wrong, the caller always gets
// a renderable string back.
type Compiler struct {
	kb KnowledgeSource
}

// NewCompiler creates a compiler. kb may be nil, in which case
// knowledge-base placeholders are left untouched.
func NewCompiler(kb KnowledgeSource) *Compiler {
	return &Compiler{kb: kb}
}

// Compile replaces plain-variable placeholders in a single
// left-to-right pass over the original template, then hands the text
// to the knowledge base exactly once for `{{var}}` and `{{file:...}}`
// substitution. Substituted text is never rescanned, so values that
// happen to contain placeholder-shaped text are not re-processed.
func (c *Compiler) Compile(ctx context.Context, template string, contextMap map[string]string, files []domain.FileHandle) Compiled {
	text, used := substitute(template, contextMap)

	if c.kb != nil {
		replaced, err := c.kb.ReplaceVariables(ctx, text)
		if err != nil {
			log.Warn().Err(err).Msg("knowledge-base variable substitution failed, returning template unmodified")
			return Compiled{Text: template, UsedVariables: []string{}, UsedFiles: []string{}}
		}
		text = replaced

		replaced, err = c.kb.ReplaceFileReferences(ctx, text)
		if err != nil {
			log.Warn().Err(err).Msg("file-reference substitution failed, returning template unmodified")
			return Compiled{Text: template, UsedVariables: []string{}, UsedFiles: []string{}}
		}
		text = replaced
	}

	usedFiles := make([]string, 0, len(files))
	for _, f := range files {
		usedFiles = append(usedFiles, f.Name)
	}

	return Compiled{Text: text, UsedVariables: used, UsedFiles: usedFiles}
}

// substitute replaces every `{name}` occurrence for names present in
// contextMap, walking the original template once and emitting
// replacement values verbatim.
func substitute(template string, contextMap map[string]string) (string, []string) {
	used := []string{}
	matches := singleBraceMatches(template)
	if len(matches) == 0 {
		return template, used
	}

	var b strings.Builder
	b.Grow(len(template))
	usedSet := make(map[string]bool)
	last := 0

	for _, match := range matches {
		name := strings.TrimSpace(template[match[2]:match[3]])
		value, ok := contextMap[name]
		if !ok {
			continue
		}
		b.WriteString(template[last:match[0]])
		b.WriteString(value)
		last = match[1]
		if !usedSet[name] {
			usedSet[name] = true
			used = append(used, name)
		}
	}
	b.WriteString(template[last:])

	return b.String(), used
}
