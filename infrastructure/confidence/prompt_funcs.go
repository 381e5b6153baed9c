package confidence

import (
	"strconv"
	"strings"
	"text/template"
	"unicode/utf8"
)

// PromptFuncs returns the functions available to confidence prompt
// templates. All of them are pure and safe for concurrent execution.
//
//	{{truncate .Answer 500}}
//	{{if eq (lower .Kind) "rating"}}...{{end}}
func PromptFuncs() template.FuncMap {
	return template.FuncMap{
		// truncate keeps at most n runes, marking the cut with "...".
		"truncate": truncate,
		"trim":     strings.TrimSpace,
		"lower":    strings.ToLower,
		"upper":    strings.ToUpper,
		"contains": strings.Contains,
		"replace":  strings.ReplaceAll,
		"quote":    strconv.Quote,
	}
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	if n > 3 {
		return string(runes[:n-3]) + "..."
	}
	return string(runes[:n])
}
