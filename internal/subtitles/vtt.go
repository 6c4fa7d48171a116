package subtitles

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/wevoice/wesub-sub003/pkg/models"
)

// VTTCodec reads and writes WebVTT files.
type VTTCodec struct{}

// FormatID returns "vtt"
func (c *VTTCodec) FormatID() string { return "vtt" }

// Parse decodes a WebVTT file into a subtitle set
func (c *VTTCodec) Parse(data []byte) (*models.SubtitleSet, error) {
	text := normalizeInput(data)
	if !strings.HasPrefix(text, "WEBVTT") {
		return nil, &ParseError{Format: "vtt", Line: 1, Reason: "missing WEBVTT header"}
	}

	set := &models.SubtitleSet{}
	blocks := splitBlocks(text)

	for _, block := range blocks[1:] {
		lines := strings.Split(block, "\n")
		if strings.HasPrefix(lines[0], "NOTE") || strings.HasPrefix(lines[0], "STYLE") {
			continue
		}

		// An optional cue identifier precedes the timing line.
		timingIdx := 0
		if !strings.Contains(lines[0], "-->") {
			timingIdx = 1
			if len(lines) < 2 || !strings.Contains(lines[1], "-->") {
				continue
			}
		}

		timing := lines[timingIdx]
		// Cue settings after the end time are dropped.
		parts := strings.Split(timing, "-->")
		if len(parts) != 2 {
			return nil, &ParseError{Format: "vtt", Reason: fmt.Sprintf("bad timing line %q", timing)}
		}

		start, err := parseTimecode(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, &ParseError{Format: "vtt", Reason: err.Error()}
		}
		endField := strings.Fields(strings.TrimSpace(parts[1]))
		if len(endField) == 0 {
			return nil, &ParseError{Format: "vtt", Reason: fmt.Sprintf("bad timing line %q", timing)}
		}
		end, err := parseTimecode(endField[0])
		if err != nil {
			return nil, &ParseError{Format: "vtt", Reason: err.Error()}
		}
		if start >= models.MaxSubTime || end >= models.MaxSubTime {
			return nil, &ParseError{Format: "vtt", Reason: "time beyond maximum"}
		}

		set.Lines = append(set.Lines, models.SubtitleLine{
			Text:    SanitizeMarkup(strings.Join(lines[timingIdx+1:], "\n")),
			StartMS: start,
			EndMS:   end,
		})
	}

	return set, nil
}

// Serialize encodes a subtitle set into WebVTT bytes
func (c *VTTCodec) Serialize(set *models.SubtitleSet) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("WEBVTT\n\n")

	for _, line := range set.Lines {
		start, end := line.StartMS, line.EndMS
		if !line.Synced() {
			start, end = 0, 0
		}
		fmt.Fprintf(&buf, "%s --> %s\n%s\n\n",
			formatTimecode(start, "."), formatTimecode(end, "."), line.Text)
	}

	return buf.Bytes(), nil
}
