// Package matcher compares a probe face against an enrolled reference set.
//
// The pipeline is: face presence gating for enrollment, pairwise distance
// computation delegated to the face analysis service, score normalization and
// best-match selection with a first-seen tie-break.
package matcher

import (
	"fmt"
	"time"

	"github.com/example/faceverify/internal/faceanalysis"
)

// NoMatchScore is the sentinel score of a result without a best match.
const NoMatchScore = -1.0

// Settings is the immutable configuration shared by the matcher components.
type Settings struct {
	Model            string
	Detector         string
	EnforceDetection bool
	Normalization    string
	// PairTimeout bounds each pairwise call; zero disables the bound.
	PairTimeout time.Duration
	// Workers is the number of concurrent comparisons; values below 2 run sequentially.
	Workers     int
	Calibration Calibration
}

func (s Settings) verifyOptions() faceanalysis.VerifyOptions {
	return faceanalysis.VerifyOptions{
		Model:            s.Model,
		Detector:         s.Detector,
		EnforceDetection: s.EnforceDetection,
		Normalization:    s.Normalization,
	}
}

// Stage names the step of a pairwise comparison that failed.
type Stage string

const (
	StageLoad     Stage = "load"
	StageVerify   Stage = "verify"
	StageTimeout  Stage = "timeout"
	StageCanceled Stage = "canceled"
)

// VerificationError reports a pairwise comparison that could not be completed.
type VerificationError struct {
	Reference string
	Stage     Stage
	Err       error
}

// Error implements the error interface.
func (e *VerificationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("verify against %s (%s): %v", e.Reference, e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *VerificationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// PairScore is the normalized outcome of one probe/reference comparison.
type PairScore struct {
	ReferenceID    string
	Distance       float64
	ModelThreshold float64
	Score          float64
	ProbeBox       *faceanalysis.BoundingBox
	ReferenceBox   *faceanalysis.BoundingBox
}

// MatchResult is the outcome of a best-match search.
// When Score equals NoMatchScore the match fields and boxes are empty.
type MatchResult struct {
	Score          float64
	BestMatchID    string
	BestMatch      *faceanalysis.Image
	Probe          faceanalysis.Image
	ProbeBox       *faceanalysis.BoundingBox
	MatchBox       *faceanalysis.BoundingBox
	Distance       float64
	ModelThreshold float64
	Compared       int
	Failed         int
}

// Found reports whether a best match was selected.
func (r MatchResult) Found() bool {
	return r.BestMatchID != "" && r.Score > NoMatchScore
}

// Passes reports whether a match was found with a score of at least threshold.
func (r MatchResult) Passes(threshold float64) bool {
	return r.Found() && r.Score >= threshold
}
