// Package transcript implements the transcript processor: a pure
// in-memory, non-suspending quality score and preprocessing pass over a
// task's TranscriptSegment rows, producing the speaker-annotated block
// text the summary generator prompts against.
package transcript

import (
	"fmt"
	"strings"

	"github.com/scribeflow/scribeflow/internal/database"
	"github.com/scribeflow/scribeflow/pipeline"
)

// fillerWords is the language-specific filler-word set consulted during
// preprocessing, keyed by the task's language option; "auto" and
// unrecognized languages fall back to the union of every known list.
var fillerWords = map[string]map[string]struct{}{
	"en": set("um", "uh", "uhh", "umm", "mm", "hmm", "ah", "er"),
	"zh": set("嗯", "啊", "呃", "哦", "额"),
}

func set(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// maxMergeGapSeconds bounds how far apart two same-speaker segments can be
// and still be merged into one block.
const maxMergeGapSeconds = 2.0

// lowConfidenceThreshold marks a segment as low-confidence, both for filler
// filtering and for the low-confidence ratio; the high/medium/low
// classification of the average uses its own cut-offs (0.8 and 0.6).
const lowConfidenceThreshold = 0.7

// Processor implements pipeline.TranscriptProcessor.
type Processor struct{}

func New() *Processor { return &Processor{} }

// Preprocess computes the quality classification and merged, filler-
// filtered, speaker-annotated block text for a task's segments, in segment
// order (callers are expected to have ordered the query by start_sec).
func (p *Processor) Preprocess(segments []database.TranscriptSegment, language string) (string, pipeline.TranscriptQuality) {
	quality := ScoreQuality(segments)
	filtered := filterFillers(segments, language)
	merged := mergeSameSpeaker(filtered)

	blocks := make([]string, 0, len(merged))
	for _, seg := range merged {
		label := seg.SpeakerID
		if label == "" {
			label = "speaker"
		}
		blocks = append(blocks, fmt.Sprintf("[%s] %s", label, strings.TrimSpace(seg.Content)))
	}
	return strings.Join(blocks, "\n\n"), quality
}

// ScoreQuality computes the average confidence and low-confidence ratio
// across segments and classifies the transcript as high/medium/low. An
// empty segment list scores as "low" (nothing to trust).
func ScoreQuality(segments []database.TranscriptSegment) pipeline.TranscriptQuality {
	if len(segments) == 0 {
		return pipeline.TranscriptQuality{Classification: "low"}
	}

	var sum float64
	var lowCount int
	for _, seg := range segments {
		sum += seg.Confidence
		if seg.Confidence < lowConfidenceThreshold {
			lowCount++
		}
	}
	avg := sum / float64(len(segments))
	ratio := float64(lowCount) / float64(len(segments))

	classification := "low"
	switch {
	case avg >= 0.8:
		classification = "high"
	case avg >= 0.6:
		classification = "medium"
	}
	return pipeline.TranscriptQuality{
		AverageConfidence:  avg,
		LowConfidenceRatio: ratio,
		Classification:     classification,
	}
}

// filterFillers drops segments whose trimmed content is a filler word, is
// two characters or shorter, and whose confidence is below threshold — all
// three conditions must hold.
func filterFillers(segments []database.TranscriptSegment, language string) []database.TranscriptSegment {
	words := fillerWords[language]
	if words == nil {
		words = mergedFillerSet()
	}

	out := make([]database.TranscriptSegment, 0, len(segments))
	for _, seg := range segments {
		trimmed := strings.TrimSpace(seg.Content)
		_, isFiller := words[strings.ToLower(trimmed)]
		if isFiller && len([]rune(trimmed)) <= 2 && seg.Confidence < lowConfidenceThreshold {
			continue
		}
		out = append(out, seg)
	}
	return out
}

func mergedFillerSet() map[string]struct{} {
	out := make(map[string]struct{})
	for _, words := range fillerWords {
		for w := range words {
			out[w] = struct{}{}
		}
	}
	return out
}

// mergeSameSpeaker joins consecutive segments that share a speaker_id and
// whose inter-segment gap is within maxMergeGapSeconds, concatenating
// content with a single space. Confidence of a merged segment
// is the minimum of its constituents, so a merge never hides a low-
// confidence span from a later quality inspection of the merged text.
func mergeSameSpeaker(segments []database.TranscriptSegment) []database.TranscriptSegment {
	if len(segments) == 0 {
		return segments
	}
	out := make([]database.TranscriptSegment, 0, len(segments))
	cur := segments[0]
	for _, seg := range segments[1:] {
		gap := seg.StartSec - cur.EndSec
		if seg.SpeakerID == cur.SpeakerID && gap <= maxMergeGapSeconds {
			cur.Content = strings.TrimSpace(cur.Content) + " " + strings.TrimSpace(seg.Content)
			cur.EndSec = seg.EndSec
			if seg.Confidence < cur.Confidence {
				cur.Confidence = seg.Confidence
			}
			continue
		}
		out = append(out, cur)
		cur = seg
	}
	out = append(out, cur)
	return out
}
