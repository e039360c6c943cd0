package faceanalysis

import (
	"context"
	"errors"
)

// ErrNoFace is returned when strict detection finds no face in an image.
var ErrNoFace = errors.New("no face detected")

// Image is a raster addressed by a stable identifier.
type Image struct {
	ID   string
	Data []byte
}

// BoundingBox is a facial region in pixel coordinates of its source image.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"w"`
	Height int `json:"h"`
}

// DetectOptions configures a face detection call.
type DetectOptions struct {
	Model            string
	Detector         string
	EnforceDetection bool
}

// VerifyOptions configures a pairwise verification call.
type VerifyOptions struct {
	Model            string
	Detector         string
	EnforceDetection bool
	Normalization    string
}

// FacialAreas holds the detected face of each side of a verified pair.
type FacialAreas struct {
	Probe     *BoundingBox
	Reference *BoundingBox
}

// Verification is the raw outcome of comparing two images.
// Distance is model specific and not bounded.
type Verification struct {
	Distance    float64
	Threshold   float64
	Model       string
	FacialAreas FacialAreas
}

// Client exposes the operations of the external face analysis service.
type Client interface {
	DetectFaces(ctx context.Context, img Image, opts DetectOptions) ([]BoundingBox, error)
	Verify(ctx context.Context, probe, reference Image, opts VerifyOptions) (*Verification, error)
}
