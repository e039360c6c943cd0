package matcher

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/faceverify/internal/faceanalysis"
)

// ImageLoader reads reference images by identifier.
type ImageLoader interface {
	Load(ctx context.Context, id string) ([]byte, error)
}

// Verifier compares a probe with a single reference.
type Verifier interface {
	Verify(ctx context.Context, probe, reference faceanalysis.Image) (PairScore, error)
}

// Selector searches a reference set for the best scoring match.
type Selector struct {
	verifier Verifier
	loader   ImageLoader
	workers  int
	logger   *zap.Logger
}

// NewSelector constructs a selector. workers below 2 compare sequentially.
func NewSelector(verifier Verifier, loader ImageLoader, workers int, logger *zap.Logger) *Selector {
	return &Selector{verifier: verifier, loader: loader, workers: workers, logger: logger.Named("selector")}
}

type pairOutcome struct {
	score     PairScore
	reference faceanalysis.Image
	err       error
}

// FindBestMatch compares probe with every reference and returns the best
// match. Failed comparisons are logged and skipped. An empty set, or a set in
// which every comparison failed, yields a result with NoMatchScore.
//
// A reference replaces the current best only when its score is strictly
// greater, so ties resolve to the first reference in refs regardless of the
// number of workers.
func (s *Selector) FindBestMatch(ctx context.Context, probe faceanalysis.Image, refs []string) MatchResult {
	result := MatchResult{Score: NoMatchScore, Probe: probe}
	if len(refs) == 0 {
		s.logger.Info("reference set is empty", zap.String("probe", probe.ID))
		return result
	}

	outcomes := s.compareAll(ctx, probe, refs)

	for i := range outcomes {
		out := &outcomes[i]
		if out.err != nil {
			result.Failed++
			s.logger.Warn("matching failed, skipping reference",
				zap.String("probe", probe.ID),
				zap.String("reference", refs[i]),
				zap.Error(out.err),
			)
			continue
		}
		result.Compared++
		if out.score.Score > result.Score {
			reference := out.reference
			result.Score = out.score.Score
			result.BestMatchID = refs[i]
			result.BestMatch = &reference
			result.ProbeBox = out.score.ProbeBox
			result.MatchBox = out.score.ReferenceBox
			result.Distance = out.score.Distance
			result.ModelThreshold = out.score.ModelThreshold
		}
	}

	s.logger.Info("best match search finished",
		zap.String("probe", probe.ID),
		zap.Int("references", len(refs)),
		zap.Int("compared", result.Compared),
		zap.Int("failed", result.Failed),
		zap.String("best_match", result.BestMatchID),
		zap.Float64("score", result.Score),
	)
	return result
}

// compareAll returns one outcome per reference, indexed like refs.
func (s *Selector) compareAll(ctx context.Context, probe faceanalysis.Image, refs []string) []pairOutcome {
	outcomes := make([]pairOutcome, len(refs))
	if s.workers < 2 {
		for i, id := range refs {
			outcomes[i] = s.compare(ctx, probe, id)
		}
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, id := range refs {
		i, id := i, id
		g.Go(func() error {
			outcomes[i] = s.compare(ctx, probe, id)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (s *Selector) compare(ctx context.Context, probe faceanalysis.Image, id string) pairOutcome {
	if err := ctx.Err(); err != nil {
		return pairOutcome{err: &VerificationError{Reference: id, Stage: StageCanceled, Err: err}}
	}

	data, err := s.loader.Load(ctx, id)
	if err != nil {
		return pairOutcome{err: &VerificationError{Reference: id, Stage: StageLoad, Err: err}}
	}
	reference := faceanalysis.Image{ID: id, Data: data}

	score, err := s.verifier.Verify(ctx, probe, reference)
	if err != nil {
		var verr *VerificationError
		if !errors.As(err, &verr) {
			err = &VerificationError{Reference: id, Stage: StageVerify, Err: err}
		}
		return pairOutcome{err: err}
	}
	return pairOutcome{score: score, reference: reference}
}
