package subtitles

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/wevoice/wesub-sub003/pkg/models"
)

// SRTCodec reads and writes SubRip files.
type SRTCodec struct{}

// FormatID returns "srt"
func (c *SRTCodec) FormatID() string { return "srt" }

// Parse decodes an SRT file into a subtitle set
func (c *SRTCodec) Parse(data []byte) (*models.SubtitleSet, error) {
	text := normalizeInput(data)
	set := &models.SubtitleSet{}

	for _, block := range splitBlocks(text) {
		lines := strings.Split(block, "\n")
		if len(lines) < 2 {
			continue
		}

		// First line is the cue index, second the timing line.
		timing := lines[1]
		parts := strings.Split(timing, "-->")
		if len(parts) != 2 {
			return nil, &ParseError{Format: "srt", Reason: fmt.Sprintf("bad timing line %q", timing)}
		}

		start, err := parseTimecode(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, &ParseError{Format: "srt", Reason: err.Error()}
		}
		end, err := parseTimecode(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, &ParseError{Format: "srt", Reason: err.Error()}
		}
		if start >= models.MaxSubTime || end >= models.MaxSubTime {
			return nil, &ParseError{Format: "srt", Reason: "time beyond maximum"}
		}

		set.Lines = append(set.Lines, models.SubtitleLine{
			Text:    SanitizeMarkup(strings.Join(lines[2:], "\n")),
			StartMS: start,
			EndMS:   end,
		})
	}

	return set, nil
}

// Serialize encodes a subtitle set into SRT bytes
func (c *SRTCodec) Serialize(set *models.SubtitleSet) ([]byte, error) {
	var buf bytes.Buffer

	for i, line := range set.Lines {
		start, end := line.StartMS, line.EndMS
		if !line.Synced() {
			start, end = 0, 0
		}
		fmt.Fprintf(&buf, "%d\n%s --> %s\n%s\n\n",
			i+1, formatTimecode(start, ","), formatTimecode(end, ","), line.Text)
	}

	return buf.Bytes(), nil
}

// normalizeInput strips a UTF-8 BOM and normalizes line endings.
func normalizeInput(data []byte) string {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

// splitBlocks splits cue blocks on blank lines.
func splitBlocks(text string) []string {
	var blocks []string
	for _, block := range strings.Split(text, "\n\n") {
		block = strings.TrimSpace(block)
		if block != "" {
			blocks = append(blocks, block)
		}
	}
	return blocks
}
