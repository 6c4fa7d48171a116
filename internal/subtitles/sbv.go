package subtitles

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/wevoice/wesub-sub003/pkg/models"
)

// SBVCodec reads and writes YouTube SBV files.
type SBVCodec struct{}

// FormatID returns "sbv"
func (c *SBVCodec) FormatID() string { return "sbv" }

// Parse decodes an SBV file into a subtitle set
func (c *SBVCodec) Parse(data []byte) (*models.SubtitleSet, error) {
	text := normalizeInput(data)
	set := &models.SubtitleSet{}

	for _, block := range splitBlocks(text) {
		lines := strings.Split(block, "\n")
		parts := strings.Split(lines[0], ",")
		if len(parts) != 2 {
			return nil, &ParseError{Format: "sbv", Reason: fmt.Sprintf("bad timing line %q", lines[0])}
		}

		start, err := parseTimecode(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, &ParseError{Format: "sbv", Reason: err.Error()}
		}
		end, err := parseTimecode(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, &ParseError{Format: "sbv", Reason: err.Error()}
		}
		if start >= models.MaxSubTime || end >= models.MaxSubTime {
			return nil, &ParseError{Format: "sbv", Reason: "time beyond maximum"}
		}

		// SBV uses [br] for hard newlines within a line.
		body := strings.Join(lines[1:], "\n")
		body = strings.ReplaceAll(body, "[br]", "\n")

		set.Lines = append(set.Lines, models.SubtitleLine{
			Text:    SanitizeMarkup(body),
			StartMS: start,
			EndMS:   end,
		})
	}

	return set, nil
}

// Serialize encodes a subtitle set into SBV bytes
func (c *SBVCodec) Serialize(set *models.SubtitleSet) ([]byte, error) {
	var buf bytes.Buffer

	for _, line := range set.Lines {
		start, end := line.StartMS, line.EndMS
		if !line.Synced() {
			start, end = 0, 0
		}
		body := strings.ReplaceAll(StripMarkup(line.Text), "\n", "[br]")
		fmt.Fprintf(&buf, "%s,%s\n%s\n\n",
			formatTimecode(start, "."), formatTimecode(end, "."), body)
	}

	return buf.Bytes(), nil
}
