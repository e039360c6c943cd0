package enrollment

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/faceverify/internal/faceanalysis"
	"github.com/example/faceverify/internal/imagecodec"
	"github.com/example/faceverify/internal/reference"
)

var (
	// ErrNoFaceDetected rejects a candidate without a detectable face.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrInvalidImage rejects a candidate that cannot be decoded.
	ErrInvalidImage = errors.New("invalid image")
)

// Gate decides whether an image contains a face.
type Gate interface {
	HasFace(ctx context.Context, img faceanalysis.Image) bool
}

// Storage persists accepted reference images.
type Storage interface {
	Exists(id string) bool
	Save(ctx context.Context, id string, data []byte) error
}

// Enrollment describes an accepted reference image.
type Enrollment struct {
	Identifier   string
	Replaced     bool
	SourceFormat string
	Width        int
	Height       int
	Bytes        int
}

// Enroller adds images to the reference set after face gating.
type Enroller struct {
	gate   Gate
	store  Storage
	opts   imagecodec.Options
	logger *zap.Logger
}

// NewEnroller constructs an enroller.
func NewEnroller(gate Gate, store Storage, opts imagecodec.Options, logger *zap.Logger) *Enroller {
	return &Enroller{gate: gate, store: store, opts: opts, logger: logger.Named("enroller")}
}

// Enroll decodes data, normalizes it to JPEG, checks it for a face and only
// then stores it under an identifier derived from filename. A rejected
// candidate never reaches the store.
func (e *Enroller) Enroll(ctx context.Context, filename string, data []byte) (*Enrollment, error) {
	normalized, cfg, err := imagecodec.NormalizeJPEG(data, e.opts)
	if err != nil {
		e.logger.Info("reference image rejected", zap.String("filename", filename), zap.String("reason", "invalid_image"), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	id := reference.NormalizeIdentifier(filename)
	if !e.gate.HasFace(ctx, faceanalysis.Image{ID: id, Data: normalized}) {
		e.logger.Info("reference image rejected", zap.String("filename", filename), zap.String("reason", "no_face"))
		return nil, ErrNoFaceDetected
	}

	replaced := e.store.Exists(id)
	if err := e.store.Save(ctx, id, normalized); err != nil {
		e.logger.Error("failed to store reference image", zap.String("identifier", id), zap.Error(err))
		return nil, err
	}

	e.logger.Info("reference image enrolled",
		zap.String("identifier", id),
		zap.Bool("replaced", replaced),
		zap.Int("bytes", len(normalized)),
	)
	return &Enrollment{
		Identifier:   id,
		Replaced:     replaced,
		SourceFormat: cfg.Format,
		Width:        cfg.Width,
		Height:       cfg.Height,
		Bytes:        len(normalized),
	}, nil
}
