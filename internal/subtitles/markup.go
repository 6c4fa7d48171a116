package subtitles

import (
	"regexp"
	"strings"
)

// The internal representation keeps only <b> and <i> spans. Everything
// else is stripped on ingest; hard newlines inside a line survive as \n.

var (
	brTagRe    = regexp.MustCompile(`(?i)<br\s*/?>`)
	anyTagRe   = regexp.MustCompile(`</?[a-zA-Z][^<>]*>`)
	keptTagRe  = regexp.MustCompile(`(?i)^</?(b|i)>$`)
	boldMDRe   = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicMDRe = regexp.MustCompile(`\*([^*]+)\*`)
)

// SanitizeMarkup normalizes inline markup: <br> becomes "\n", <b> and
// <i> spans are kept, all other tags are dropped.
func SanitizeMarkup(text string) string {
	text = brTagRe.ReplaceAllString(text, "\n")
	return anyTagRe.ReplaceAllStringFunc(text, func(tag string) string {
		if keptTagRe.MatchString(tag) {
			return strings.ToLower(tag)
		}
		return ""
	})
}

// StripMarkup removes all markup, leaving plain text with newlines.
func StripMarkup(text string) string {
	text = brTagRe.ReplaceAllString(text, "\n")
	return anyTagRe.ReplaceAllString(text, "")
}

// MarkupToMarkdown maps bold and italic spans to their Markdown
// equivalents for plain-text exports.
func MarkupToMarkdown(text string) string {
	text = strings.ReplaceAll(text, "<b>", "**")
	text = strings.ReplaceAll(text, "</b>", "**")
	text = strings.ReplaceAll(text, "<i>", "*")
	text = strings.ReplaceAll(text, "</i>", "*")
	return text
}

// MarkdownToMarkup maps Markdown bold and italic spans back to the
// internal representation.
func MarkdownToMarkup(text string) string {
	text = boldMDRe.ReplaceAllString(text, "<b>$1</b>")
	text = italicMDRe.ReplaceAllString(text, "<i>$1</i>")
	return text
}
