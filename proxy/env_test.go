package proxy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShellQuoteSingleEscapesEmbeddedQuote(t *testing.T) {
	t.Parallel()

	got := ShellQuoteSingle(`http://127.0.0.1:8080/it's`)
	assert.Equal(t, `'http://127.0.0.1:8080/it'\''s'`, got)
}

func TestShellQuoteSingleEmptyString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "''", ShellQuoteSingle(""))
}

func TestShellQuoteExportLineProducesExportStatement(t *testing.T) {
	t.Parallel()

	line := ShellQuoteExportLine("ANTHROPIC_BASE_URL", "http://127.0.0.1:41000")
	assert.True(t, strings.HasPrefix(line, "export ANTHROPIC_BASE_URL='http://127.0.0.1:41000'"))
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestShellQuoteExportLineRejectsUnquotedInjectionAttempt(t *testing.T) {
	t.Parallel()

	malicious := "x'; rm -rf /; echo '"
	line := ShellQuoteExportLine("ANTHROPIC_BASE_URL", malicious)
	// The whole malicious value must be contained inside single-quoted
	// segments; no bare, unescaped single quote may appear unescorted by
	// the '\'' escape sequence.
	rest := strings.TrimPrefix(line, "export ANTHROPIC_BASE_URL=")
	assert.True(t, strings.HasPrefix(rest, "'"))
	assert.Contains(t, rest, `'\''`)
}
