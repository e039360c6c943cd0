package matcher

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/example/faceverify/internal/faceanalysis"
)

// PairMatcher compares one probe with one reference.
type PairMatcher struct {
	client   faceanalysis.Client
	settings Settings
	logger   *zap.Logger
}

// NewPairMatcher constructs a pairwise matcher for the configured model.
func NewPairMatcher(client faceanalysis.Client, settings Settings, logger *zap.Logger) *PairMatcher {
	return &PairMatcher{client: client, settings: settings, logger: logger.Named("pair_matcher")}
}

// Verify obtains the raw distance for the pair and converts it to a score.
// Failures are returned as *VerificationError.
func (m *PairMatcher) Verify(ctx context.Context, probe, reference faceanalysis.Image) (PairScore, error) {
	pairCtx := ctx
	if m.settings.PairTimeout > 0 {
		var cancel context.CancelFunc
		pairCtx, cancel = context.WithTimeout(ctx, m.settings.PairTimeout)
		defer cancel()
	}

	result, err := m.client.Verify(pairCtx, probe, reference, m.settings.verifyOptions())
	if err != nil {
		stage := StageVerify
		switch {
		case ctx.Err() != nil:
			stage = StageCanceled
		case errors.Is(pairCtx.Err(), context.DeadlineExceeded):
			stage = StageTimeout
		}
		return PairScore{}, &VerificationError{Reference: reference.ID, Stage: stage, Err: err}
	}

	model := m.settings.Model
	score := m.settings.Calibration.Score(result.Distance, model)
	m.logger.Debug("pairwise comparison",
		zap.String("probe", probe.ID),
		zap.String("reference", reference.ID),
		zap.Float64("distance", result.Distance),
		zap.Float64("model_threshold", result.Threshold),
		zap.Float64("score", score),
	)

	return PairScore{
		ReferenceID:    reference.ID,
		Distance:       result.Distance,
		ModelThreshold: result.Threshold,
		Score:          score,
		ProbeBox:       result.FacialAreas.Probe,
		ReferenceBox:   result.FacialAreas.Reference,
	}, nil
}
