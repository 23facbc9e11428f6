package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassThroughAlwaysReadyAndComplete(t *testing.T) {
	p := PassThrough{}
	resp := p.Parse("hello")
	assert.True(t, resp.IsReady)
	assert.True(t, resp.IsComplete)
	require.Len(t, resp.Sections, 1)
	assert.Equal(t, SectionText, resp.Sections[0].Kind)
	assert.Equal(t, "hello", resp.Sections[0].Content)
}

func TestPassThroughIdempotentOnRaw(t *testing.T) {
	p := PassThrough{}
	first := p.Parse("abc")
	second := p.Parse(first.Raw)
	assert.Equal(t, first, second)
}

func TestCLIAwareRecognizesThinkingAndTool(t *testing.T) {
	p := NewCLIAware("test-cli")
	raw := "before<thinking>pondering</thinking>mid<tool_use name=\"bash\">ls -la</tool_use>after"
	resp := p.Parse(raw)
	require.True(t, resp.IsReady)
	var kinds []SectionKind
	for _, s := range resp.Sections {
		kinds = append(kinds, s.Kind)
	}
	assert.Contains(t, kinds, SectionThinking)
	assert.Contains(t, kinds, SectionToolUse)
}

func TestCLIAwareNotReadyWhileSpinning(t *testing.T) {
	p := NewCLIAware("test-cli")
	resp := p.Parse("working ⠋")
	assert.False(t, resp.IsReady)
}

func TestCLIAwareIdempotentOnRaw(t *testing.T) {
	p := NewCLIAware("test-cli")
	raw := "plain output with no markers"
	first := p.Parse(raw)
	second := p.Parse(first.Raw)
	assert.Equal(t, first, second)
}

func TestCLIAwareNeverPanicsOnMalformedMarkers(t *testing.T) {
	p := NewCLIAware("test-cli")
	assert.NotPanics(t, func() {
		p.Parse("<thinking>unterminated")
		p.Parse("<tool_use unterminated")
		p.Parse("")
	})
}
