package subtitles

import (
	"bytes"
	"strings"

	"github.com/wevoice/wesub-sub003/pkg/models"
)

// TXTCodec reads and writes plain-text transcripts. Lines carry no
// timings; a blank line starts a new paragraph. Bold and italic spans
// map to Markdown.
type TXTCodec struct{}

// FormatID returns "txt"
func (c *TXTCodec) FormatID() string { return "txt" }

// Parse decodes a transcript into an unsynced subtitle set
func (c *TXTCodec) Parse(data []byte) (*models.SubtitleSet, error) {
	text := normalizeInput(data)
	set := &models.SubtitleSet{}

	newParagraph := false
	for _, raw := range strings.Split(text, "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			newParagraph = set.Count() > 0
			continue
		}

		set.Lines = append(set.Lines, models.SubtitleLine{
			Text:             SanitizeMarkup(MarkdownToMarkup(raw)),
			StartMS:          models.UnsyncedTime,
			EndMS:            models.UnsyncedTime,
			StartOfParagraph: newParagraph,
		})
		newParagraph = false
	}

	return set, nil
}

// Serialize encodes a subtitle set into transcript bytes
func (c *TXTCodec) Serialize(set *models.SubtitleSet) ([]byte, error) {
	var buf bytes.Buffer

	for i, line := range set.Lines {
		if i > 0 {
			buf.WriteString("\n")
			if line.StartOfParagraph {
				buf.WriteString("\n")
			}
		}
		buf.WriteString(MarkupToMarkdown(line.Text))
	}
	buf.WriteString("\n")

	return buf.Bytes(), nil
}
