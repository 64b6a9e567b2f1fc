package ocr

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	rePrice     = regexp.MustCompile(`(?i)(?:[$£€¥]\s?\d+(?:[.,]\d{1,2})?|\d+(?:[.,]\d{1,2})?\s?(?:[$£€¥]|(?:usd|eur|gbp|kr|chf)\b)|\b\d+[.,]\d{2}\b)`)
	reLeadingNo = regexp.MustCompile(`^\s*(?:\d{1,3}[.)]|[-*•])\s+`)
)

// MenuTokens splits normalized menu text into one token per dish line.
// Prices and list markers are stripped; lines without letters are dropped.
// Order of first appearance is kept; duplicates are left to the optimizer.
func MenuTokens(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = reLeadingNo.ReplaceAllString(line, "")
		line = rePrice.ReplaceAllString(line, " ")
		line = strings.Join(strings.Fields(line), " ")
		line = strings.Trim(line, " -–:|,;")
		if !hasLetter(line) {
			continue
		}
		out = append(out, line)
	}
	return out
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// words lower-cases s and splits it on anything that is not a letter.
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}
