package subtitles

import (
	"fmt"

	"github.com/wevoice/wesub-sub003/pkg/models"
)

// ApplyTimingFrom copies start/end times pairwise from source to target
// for the first min(len(source), len(target)) lines. A translation may
// never have more lines than its source.
func ApplyTimingFrom(source, target *models.SubtitleSet) error {
	if target.Count() > source.Count() {
		return fmt.Errorf("%w: %d lines against %d source lines",
			models.ErrTranslationLineOverflow, target.Count(), source.Count())
	}
	for i := range target.Lines {
		target.Lines[i].StartMS = source.Lines[i].StartMS
		target.Lines[i].EndMS = source.Lines[i].EndMS
	}
	return nil
}

// Validate checks line timing invariants: times are either both unsynced
// or both within [0, MaxSubTime) with end >= start.
func Validate(set *models.SubtitleSet) error {
	for i, line := range set.Lines {
		if line.StartMS == models.UnsyncedTime && line.EndMS == models.UnsyncedTime {
			continue
		}
		if line.StartMS < 0 || line.EndMS < line.StartMS {
			return fmt.Errorf("line %d: end time before start time", i+1)
		}
		if line.StartMS >= models.MaxSubTime || line.EndMS >= models.MaxSubTime {
			return fmt.Errorf("line %d: time beyond maximum", i+1)
		}
	}
	return nil
}
