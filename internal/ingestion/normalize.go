package ingestion

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

var (
	apostrophes = strings.NewReplacer("'", "", "’", "", "‘", "", "`", "", "ʻ", "", "ʼ", "", "´", "")
	parenthesis = regexp.MustCompile(`\([^)]*\)`)
)

// normalize case-folds s, drops apostrophe variants and collapses whitespace.
// A Caser is stateful, so a fresh one is built per call.
func normalize(s string) string {
	s = cases.Fold().String(s)
	s = apostrophes.Replace(s)
	s = strings.ReplaceAll(s, "_", " ")
	return strings.Join(strings.Fields(s), " ")
}

// stripParens removes every "(...)" group from an already normalized string.
func stripParens(s string) string {
	return strings.Join(strings.Fields(parenthesis.ReplaceAllString(s, " ")), " ")
}

// tokens splits s on whitespace and keeps tokens longer than two characters.
func tokens(s string) []string {
	var out []string
	for _, t := range strings.FieldsFunc(s, unicode.IsSpace) {
		if utf8.RuneCountInString(t) > 2 {
			out = append(out, t)
		}
	}
	return out
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
