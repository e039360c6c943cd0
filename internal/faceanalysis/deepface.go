package faceanalysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/faceverify/internal/logging"
)

const defaultDeepFaceURL = "http://deepface:5000"

// DeepFaceClient talks to the DeepFace REST API.
type DeepFaceClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewDeepFaceClient creates a client for the DeepFace API rooted at baseURL.
func NewDeepFaceClient(baseURL string, logger *zap.Logger) *DeepFaceClient {
	if baseURL == "" {
		baseURL = defaultDeepFaceURL
	}
	return &DeepFaceClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 2 * time.Minute},
		logger:  logger.Named("deepface"),
	}
}

type representRequest struct {
	Img              string `json:"img"`
	ModelName        string `json:"model_name,omitempty"`
	DetectorBackend  string `json:"detector_backend,omitempty"`
	EnforceDetection bool   `json:"enforce_detection"`
}

type representResponse struct {
	Results []struct {
		FacialArea     *BoundingBox `json:"facial_area"`
		FaceConfidence float64      `json:"face_confidence"`
	} `json:"results"`
}

type verifyRequest struct {
	Img1             string `json:"img1"`
	Img2             string `json:"img2"`
	ModelName        string `json:"model_name,omitempty"`
	DetectorBackend  string `json:"detector_backend,omitempty"`
	EnforceDetection bool   `json:"enforce_detection"`
	Normalization    string `json:"normalization,omitempty"`
}

type verifyResponse struct {
	Verified    bool    `json:"verified"`
	Distance    float64 `json:"distance"`
	Threshold   float64 `json:"threshold"`
	Model       string  `json:"model"`
	FacialAreas struct {
		Img1 *BoundingBox `json:"img1"`
		Img2 *BoundingBox `json:"img2"`
	} `json:"facial_areas"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// DetectFaces returns the facial areas found in img.
func (c *DeepFaceClient) DetectFaces(ctx context.Context, img Image, opts DetectOptions) ([]BoundingBox, error) {
	req := representRequest{
		Img:              encodeDataURI(img.Data),
		ModelName:        opts.Model,
		DetectorBackend:  opts.Detector,
		EnforceDetection: opts.EnforceDetection,
	}

	var resp representResponse
	if err := c.post(ctx, "/represent", req, &resp); err != nil {
		wrapped := logging.NewOperationError("deepface.represent", "", fmt.Errorf("image %s: %w", img.ID, err))
		c.logger.Debug("face detection failed", zap.Error(wrapped))
		return nil, wrapped
	}

	boxes := make([]BoundingBox, 0, len(resp.Results))
	for _, result := range resp.Results {
		if result.FacialArea == nil {
			continue
		}
		boxes = append(boxes, *result.FacialArea)
	}
	return boxes, nil
}

// Verify compares probe against reference and returns the raw distance.
func (c *DeepFaceClient) Verify(ctx context.Context, probe, reference Image, opts VerifyOptions) (*Verification, error) {
	req := verifyRequest{
		Img1:             encodeDataURI(probe.Data),
		Img2:             encodeDataURI(reference.Data),
		ModelName:        opts.Model,
		DetectorBackend:  opts.Detector,
		EnforceDetection: opts.EnforceDetection,
		Normalization:    opts.Normalization,
	}

	var resp verifyResponse
	if err := c.post(ctx, "/verify", req, &resp); err != nil {
		wrapped := logging.NewOperationError("deepface.verify", "", fmt.Errorf("pair %s/%s: %w", probe.ID, reference.ID, err))
		c.logger.Debug("verification call failed", zap.Error(wrapped))
		return nil, wrapped
	}

	model := resp.Model
	if model == "" {
		model = opts.Model
	}
	return &Verification{
		Distance:  resp.Distance,
		Threshold: resp.Threshold,
		Model:     model,
		FacialAreas: FacialAreas{
			Probe:     resp.FacialAreas.Img1,
			Reference: resp.FacialAreas.Img2,
		},
	}, nil
}

func (c *DeepFaceClient) post(ctx context.Context, endpoint string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		message := string(respBody)
		var apiErr errorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			message = apiErr.Error
		}
		if isNoFaceMessage(message) {
			return fmt.Errorf("%w: %s", ErrNoFace, message)
		}
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, message)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func encodeDataURI(data []byte) string {
	return "data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func isNoFaceMessage(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "face could not be detected") || strings.Contains(lower, "no face")
}
