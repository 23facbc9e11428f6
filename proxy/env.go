package proxy

import "strings"

// ShellQuoteExportLine renders a POSIX `export NAME='value'` line with value
// single-quote escaped, so it is safe to write directly into a spawned
// terminal's input stream (spec.md §4.8: "it must shell-quote the proxy URL
// before injecting it into an export line. Unquoted interpolation is
// forbidden"). No library in the retrieved examples provides POSIX shell
// quoting; this is a minimal, well-known escaping scheme (close each single
// quote, emit an escaped literal quote, reopen).
func ShellQuoteExportLine(name, value string) string {
	return "export " + name + "=" + ShellQuoteSingle(value) + "\n"
}

// ShellQuoteSingle wraps s in single quotes, escaping any single quote in s
// as '\'' (close quote, escaped quote, reopen quote).
func ShellQuoteSingle(s string) string {
	if s == "" {
		return "''"
	}
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		if r == '\'' {
			b.WriteString(`'\''`)
			continue
		}
		b.WriteRune(r)
	}
	b.WriteByte('\'')
	return b.String()
}
