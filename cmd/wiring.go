package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/faceverify/internal/config"
	"github.com/example/faceverify/internal/enrollment"
	"github.com/example/faceverify/internal/faceanalysis"
	"github.com/example/faceverify/internal/grpcclient"
	"github.com/example/faceverify/internal/imagecodec"
	"github.com/example/faceverify/internal/matcher"
	"github.com/example/faceverify/internal/reference"
)

// faceStack holds the matching components shared by the server and the CLI commands.
type faceStack struct {
	store    *reference.Store
	selector *matcher.Selector
	enroller *enrollment.Enroller
	close    func()
}

func buildFaceStack(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*faceStack, error) {
	client, closeClient, err := newFaceClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	store, err := reference.NewStore(cfg.References.Dir, logger)
	if err != nil {
		closeClient()
		return nil, err
	}

	settings := cfg.MatcherSettings()
	gate := matcher.NewFaceGate(client, settings, logger)
	pair := matcher.NewPairMatcher(client, settings, logger)
	selector := matcher.NewSelector(pair, store, settings.Workers, logger)
	enroller := enrollment.NewEnroller(gate, store, imagecodec.Options{
		MaxDimension: cfg.References.MaxDimension,
		Quality:      cfg.References.JPEGQuality,
		MaxPixels:    cfg.References.MaxPixels,
	}, logger)

	return &faceStack{
		store:    store,
		selector: selector,
		enroller: enroller,
		close:    closeClient,
	}, nil
}

func newFaceClient(ctx context.Context, cfg *config.Config, logger *zap.Logger) (faceanalysis.Client, func(), error) {
	switch cfg.Face.Backend {
	case "grpc":
		client, conn, err := grpcclient.DialFaceAnalysis(ctx, cfg.Face.GRPCAddr, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { conn.Close() }, nil
	case "deepface":
		return faceanalysis.NewDeepFaceClient(cfg.Face.DeepFaceURL, logger), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown face backend %q", cfg.Face.Backend)
	}
}
