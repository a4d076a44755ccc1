package compose

import "strings"

const nbsp = "&nbsp;"

// FormatBody converts operator plain text into the markup the gateway
// renders: leading spaces become &nbsp;, newlines become <br>, and "- "
// list items get a two-space indent.
func FormatBody(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " ")
		if n := len(line) - len(trimmed); n > 0 {
			lines[i] = strings.Repeat(nbsp, n) + trimmed
		}
	}
	out := strings.Join(lines, "\n")

	out = strings.ReplaceAll(out, "\n\n", "<br><br>")
	out = strings.ReplaceAll(out, "\n", "<br>")
	out = strings.ReplaceAll(out, "<br>- ", "<br>"+nbsp+nbsp+"- ")
	if strings.HasPrefix(out, "- ") {
		out = nbsp + nbsp + out
	}
	return out
}
