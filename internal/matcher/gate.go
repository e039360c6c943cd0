package matcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/faceverify/internal/faceanalysis"
)

// FaceSet is the list of faces found by the detector.
type FaceSet struct {
	Boxes []faceanalysis.BoundingBox
}

// Count returns the number of detected faces.
func (f FaceSet) Count() int {
	return len(f.Boxes)
}

// FaceGate checks that an image contains at least one face.
type FaceGate struct {
	client   faceanalysis.Client
	settings Settings
	logger   *zap.Logger
}

// NewFaceGate constructs a gate backed by the face analysis client.
func NewFaceGate(client faceanalysis.Client, settings Settings, logger *zap.Logger) *FaceGate {
	return &FaceGate{client: client, settings: settings, logger: logger.Named("face_gate")}
}

// Detect runs strict face detection on img. An empty detection is reported
// as faceanalysis.ErrNoFace.
func (g *FaceGate) Detect(ctx context.Context, img faceanalysis.Image) (FaceSet, error) {
	if g.settings.PairTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.settings.PairTimeout)
		defer cancel()
	}

	boxes, err := g.client.DetectFaces(ctx, img, faceanalysis.DetectOptions{
		Model:            g.settings.Model,
		Detector:         g.settings.Detector,
		EnforceDetection: true,
	})
	if err != nil {
		return FaceSet{}, fmt.Errorf("detect faces in %s: %w", img.ID, err)
	}
	if len(boxes) == 0 {
		return FaceSet{}, fmt.Errorf("detect faces in %s: %w", img.ID, faceanalysis.ErrNoFace)
	}
	return FaceSet{Boxes: boxes}, nil
}

// HasFace reports whether img contains at least one face. Detector failures
// are treated the same as an image without faces.
func (g *FaceGate) HasFace(ctx context.Context, img faceanalysis.Image) bool {
	faces, err := g.Detect(ctx, img)
	if err != nil {
		g.logger.Debug("face gate rejected image", zap.String("image", img.ID), zap.Error(err))
		return false
	}
	g.logger.Debug("face gate accepted image", zap.String("image", img.ID), zap.Int("faces", faces.Count()))
	return true
}
