package matching

import (
	"time"

	"cardiolink/internal/recording"
)

// DefaultTolerance is used when the caller supplies no window tolerance.
const DefaultTolerance = 30 * time.Minute

// Engine pairs recordings with reports under a configured window tolerance.
type Engine struct {
	tolerance time.Duration
}

// New constructs a matching engine. Non-positive tolerances fall back to
// DefaultTolerance.
func New(tolerance time.Duration) *Engine {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Engine{tolerance: tolerance}
}

// Tolerance returns the configured window tolerance.
func (e *Engine) Tolerance() time.Duration {
	return e.tolerance
}

// Match pairs every recording with at most one report. Pairs are emitted
// in recording discovery order; a report serves at most one recording.
// Files that cannot enter a pair are returned as unmatched with a reason.
func (e *Engine) Match(files []recording.UploadedFile) ([]recording.MatchedPair, []recording.UnmatchedFile) {
	var (
		recordings []*recording.Parsed
		reports    []*reportCandidate
		unmatched  []recording.UnmatchedFile
	)

	for _, file := range files {
		parsed, miss := recording.ParseFile(file)
		if miss != nil {
			unmatched = append(unmatched, *miss)
			continue
		}
		switch file.Kind {
		case recording.KindRecording:
			recordings = append(recordings, parsed)
		case recording.KindReport:
			reports = append(reports, &reportCandidate{parsed: parsed})
		}
	}

	pairs := make([]recording.MatchedPair, 0, len(recordings))
	for _, rec := range recordings {
		pair := recording.MatchedPair{
			Recording:  rec.File,
			Window:     rec.Window,
			Confidence: recording.ConfidenceHigh,
		}
		if best := e.selectReport(rec, reports); best != nil {
			best.consumed = true
			reportFile := best.parsed.File
			pair.Report = &reportFile
			if !best.parsed.HasReference {
				pair.Confidence = recording.ConfidenceLow
			}
		}
		pairs = append(pairs, pair)
	}

	for _, report := range reports {
		if report.consumed {
			continue
		}
		unmatched = append(unmatched, recording.UnmatchedFile{
			File:   report.parsed.File,
			Reason: recording.ReasonNoMatchingRecording,
		})
	}

	return pairs, unmatched
}

type reportCandidate struct {
	parsed   *recording.Parsed
	consumed bool
}

// selectReport picks the qualifying report closest to the recording's
// window start. Ties break on the lexicographically smallest filename.
// Reports without a reference timestamp qualify by device identifier alone
// but lose to any timestamped qualifier.
func (e *Engine) selectReport(rec *recording.Parsed, reports []*reportCandidate) *reportCandidate {
	var (
		best         *reportCandidate
		bestProx     time.Duration
		fallback     *reportCandidate
		fallbackName string
	)
	for _, candidate := range reports {
		if candidate.consumed || candidate.parsed.DeviceID != rec.DeviceID {
			continue
		}
		if !candidate.parsed.HasReference {
			name := candidate.parsed.File.OriginalName
			if fallback == nil || name < fallbackName {
				fallback = candidate
				fallbackName = name
			}
			continue
		}
		prox, qualifies := e.proximity(rec.Window, candidate.parsed.Reference())
		if !qualifies {
			continue
		}
		if best == nil || prox < bestProx ||
			(prox == bestProx && candidate.parsed.File.OriginalName < best.parsed.File.OriginalName) {
			best = candidate
			bestProx = prox
		}
	}
	if best != nil {
		return best
	}
	return fallback
}

// proximity measures the distance between a report reference timestamp and
// the recording window start. References inside the window always qualify.
func (e *Engine) proximity(window recording.DeviceWindow, ref time.Time) (time.Duration, bool) {
	prox := ref.Sub(window.Start)
	if prox < 0 {
		prox = -prox
	}
	inWindow := !ref.Before(window.Start) && !ref.After(window.End)
	return prox, inWindow || prox <= e.tolerance
}
