package enrollment

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"go.uber.org/zap"

	"github.com/example/faceverify/internal/faceanalysis"
	"github.com/example/faceverify/internal/imagecodec"
	"github.com/example/faceverify/internal/reference"
)

type stubGate struct {
	hasFace bool
	seen    []faceanalysis.Image
}

func (g *stubGate) HasFace(ctx context.Context, img faceanalysis.Image) bool {
	g.seen = append(g.seen, img)
	return g.hasFace
}

type stubStorage struct {
	existing map[string]bool
	saved    map[string][]byte
	saveErr  error
}

func (s *stubStorage) Exists(id string) bool {
	return s.existing[id]
}

func (s *stubStorage) Save(ctx context.Context, id string, data []byte) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	if s.saved == nil {
		s.saved = map[string][]byte{}
	}
	s.saved[id] = data
	return nil
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(8, 8, color.NRGBA{R: 10, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func TestEnrollStoresNormalizedJPEG(t *testing.T) {
	gate := &stubGate{hasFace: true}
	store := &stubStorage{existing: map[string]bool{}}
	enroller := NewEnroller(gate, store, imagecodec.Options{}, zap.NewNop())

	result, err := enroller.Enroll(context.Background(), "Alice Smith.png", pngBytes(t))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.Identifier != "Alice-Smith.jpg" || result.Replaced {
		t.Fatalf("unexpected enrollment: %+v", result)
	}
	if result.SourceFormat != "png" || result.Width != 16 {
		t.Fatalf("unexpected source info: %+v", result)
	}

	data, ok := store.saved["Alice-Smith.jpg"]
	if !ok {
		t.Fatal("expected image to be saved")
	}
	cfg, err := imagecodec.DecodeConfig(data)
	if err != nil || cfg.Format != "jpeg" {
		t.Fatalf("expected stored jpeg, got %+v (%v)", cfg, err)
	}
	if len(gate.seen) != 1 || !bytes.Equal(gate.seen[0].Data, data) {
		t.Fatal("expected gate to check the normalized image")
	}
}

func TestEnrollRejectsImageWithoutFace(t *testing.T) {
	store := &stubStorage{}
	enroller := NewEnroller(&stubGate{hasFace: false}, store, imagecodec.Options{}, zap.NewNop())

	_, err := enroller.Enroll(context.Background(), "landscape.png", pngBytes(t))
	if !errors.Is(err, ErrNoFaceDetected) {
		t.Fatalf("expected ErrNoFaceDetected, got %v", err)
	}
	if len(store.saved) != 0 {
		t.Fatalf("expected nothing to be stored, got %d images", len(store.saved))
	}
}

func TestEnrollRejectsUndecodableImage(t *testing.T) {
	gate := &stubGate{hasFace: true}
	store := &stubStorage{}
	enroller := NewEnroller(gate, store, imagecodec.Options{}, zap.NewNop())

	_, err := enroller.Enroll(context.Background(), "broken.jpg", []byte("not an image"))
	if !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
	if len(gate.seen) != 0 || len(store.saved) != 0 {
		t.Fatal("expected no gate call and no write for an undecodable image")
	}
}

func TestEnrollRejectsImageAbovePixelBudget(t *testing.T) {
	gate := &stubGate{hasFace: true}
	store := &stubStorage{}
	enroller := NewEnroller(gate, store, imagecodec.Options{MaxPixels: 100}, zap.NewNop())

	_, err := enroller.Enroll(context.Background(), "large.png", pngBytes(t))
	if !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage for a 16x16 image over a 100 pixel budget, got %v", err)
	}
	if len(gate.seen) != 0 || len(store.saved) != 0 {
		t.Fatal("expected no gate call and no write for an oversized image")
	}
}

func TestEnrollReportsReplacementAndStorageErrors(t *testing.T) {
	store := &stubStorage{existing: map[string]bool{"bob.jpg": true}}
	enroller := NewEnroller(&stubGate{hasFace: true}, store, imagecodec.Options{}, zap.NewNop())

	result, err := enroller.Enroll(context.Background(), "bob.jpeg", pngBytes(t))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !result.Replaced {
		t.Fatal("expected enrollment to replace the existing image")
	}

	store.saveErr = &reference.StorageError{Op: "save", ID: "bob.jpg", Err: errors.New("disk full")}
	_, err = enroller.Enroll(context.Background(), "bob.jpeg", pngBytes(t))
	var storageErr *reference.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
}
