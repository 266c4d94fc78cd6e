package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse_PlainVariables(t *testing.T) {
	result := Parse("Hello {username}, your order {order_id} is ready")

	assert.Equal(t, []string{"username", "order_id"}, result.Variables)
	assert.Empty(t, result.KnowledgeBaseVariables)
	assert.Empty(t, result.FileReferences)
	assert.True(t, result.HasVariables)
	assert.False(t, result.HasFiles)
}

func TestParse_KnowledgeBaseVariables(t *testing.T) {
	result := Parse("My rate is {{hourly_rate}} per hour, see {{portfolio_link}}")

	assert.Empty(t, result.Variables)
	assert.Equal(t, []string{"hourly_rate", "portfolio_link"}, result.KnowledgeBaseVariables)
	assert.True(t, result.HasVariables)
}

func TestParse_FileReferences(t *testing.T) {
	result := Parse("Attached: {{file:resume.pdf}} and {{file:portfolio.zip}}")

	assert.Empty(t, result.Variables)
	assert.Empty(t, result.KnowledgeBaseVariables)
	assert.Equal(t, []string{"resume.pdf", "portfolio.zip"}, result.FileReferences)
	assert.False(t, result.HasVariables)
	assert.True(t, result.HasFiles)
}

func TestParse_MixedPlaceholders(t *testing.T) {
	result := Parse("Hi {username}, my rate is {{hourly_rate}}. See {{file:resume.pdf}}.")

	assert.Equal(t, []string{"username"}, result.Variables)
	assert.Equal(t, []string{"hourly_rate"}, result.KnowledgeBaseVariables)
	assert.Equal(t, []string{"resume.pdf"}, result.FileReferences)
	assert.True(t, result.HasVariables)
	assert.True(t, result.HasFiles)
}

func TestParse_DoubleBraceNeverReportedAsPlain(t *testing.T) {
	// The inner span of {{rate}} must not show up as a plain variable.
	result := Parse("{{rate}}")

	assert.Empty(t, result.Variables)
	assert.Equal(t, []string{"rate"}, result.KnowledgeBaseVariables)
}

func TestParse_SameNameInBothShapes(t *testing.T) {
	result := Parse("{rate} differs from {{rate}}")

	assert.Equal(t, []string{"rate"}, result.Variables)
	assert.Equal(t, []string{"rate"}, result.KnowledgeBaseVariables)
}

func TestParse_Deduplication(t *testing.T) {
	result := Parse("{name} {name} {{kb}} {{kb}} {{file:a.txt}} {{file:a.txt}}")

	assert.Equal(t, []string{"name"}, result.Variables)
	assert.Equal(t, []string{"kb"}, result.KnowledgeBaseVariables)
	assert.Equal(t, []string{"a.txt"}, result.FileReferences)
}

func TestParse_WhitespaceTrimmed(t *testing.T) {
	result := Parse("{ username } and {{ rate }} and {{file: doc.pdf }}")

	assert.Equal(t, []string{"username"}, result.Variables)
	assert.Equal(t, []string{"rate"}, result.KnowledgeBaseVariables)
	assert.Equal(t, []string{"doc.pdf"}, result.FileReferences)
}

func TestParse_EmptyAndDegenerateInputs(t *testing.T) {
	t.Run("empty string", func(t *testing.T) {
		result := Parse("")
		assert.Empty(t, result.Variables)
		assert.Empty(t, result.KnowledgeBaseVariables)
		assert.Empty(t, result.FileReferences)
		assert.False(t, result.HasVariables)
		assert.False(t, result.HasFiles)
	})

	t.Run("no placeholders", func(t *testing.T) {
		result := Parse("just plain text")
		assert.False(t, result.HasVariables)
		assert.False(t, result.HasFiles)
	})

	t.Run("empty braces", func(t *testing.T) {
		result := Parse("{} {{}} {{file:}} {  }")
		assert.Empty(t, result.Variables)
		assert.Empty(t, result.KnowledgeBaseVariables)
		assert.Empty(t, result.FileReferences)
	})

	t.Run("unbalanced braces", func(t *testing.T) {
		result := Parse("open { never closed and }} stray")
		assert.False(t, result.HasVariables)
		assert.False(t, result.HasFiles)
	})
}
