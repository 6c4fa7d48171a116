package subtitles

import (
	"fmt"

	"github.com/wevoice/wesub-sub003/pkg/models"
)

// Codec parses and serializes one subtitle file format. Implementations
// are stateless and safe for concurrent use.
type Codec interface {
	// FormatID returns the format key ("srt", "vtt", ...).
	FormatID() string

	// Parse decodes file bytes into a subtitle set.
	Parse(data []byte) (*models.SubtitleSet, error)

	// Serialize encodes a subtitle set into file bytes.
	Serialize(set *models.SubtitleSet) ([]byte, error)
}

// ParseError reports a malformed subtitle file. No state changes when a
// parse fails.
type ParseError struct {
	Format string
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s parse error at line %d: %s", e.Format, e.Line, e.Reason)
	}
	return fmt.Sprintf("%s parse error: %s", e.Format, e.Reason)
}

// Registry maps format ids to codecs. It is explicit configuration
// injected into the pipeline and worker; there is no global registrar.
type Registry struct {
	codecs map[string]Codec
}

// NewRegistry creates a registry holding the given codecs.
func NewRegistry(codecs ...Codec) *Registry {
	r := &Registry{codecs: make(map[string]Codec)}
	for _, c := range codecs {
		r.Register(c)
	}
	return r
}

// DefaultRegistry returns a registry with the built-in codecs. Callers
// may register additional formats (dfxp, ttml, ssa) on top.
func DefaultRegistry() *Registry {
	return NewRegistry(
		&SRTCodec{},
		&VTTCodec{},
		&SBVCodec{},
		&TXTCodec{},
	)
}

// Register adds a codec, replacing any codec with the same format id.
func (r *Registry) Register(c Codec) {
	r.codecs[c.FormatID()] = c
}

// Get returns the codec for a format id.
func (r *Registry) Get(formatID string) (Codec, error) {
	c, ok := r.codecs[formatID]
	if !ok {
		return nil, fmt.Errorf("unknown subtitle format %q", formatID)
	}
	return c, nil
}

// Formats lists the registered format ids.
func (r *Registry) Formats() []string {
	out := make([]string, 0, len(r.codecs))
	for id := range r.codecs {
		out = append(out, id)
	}
	return out
}
