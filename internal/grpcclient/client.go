package grpcclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/faceverify/internal/faceanalysis"
	"github.com/example/faceverify/internal/logging"
)

// ServiceName is the gRPC service implemented by the face analysis sidecar.
const ServiceName = "faceanalysis.v1.FaceAnalysis"

const (
	detectFacesMethod = "/" + ServiceName + "/DetectFaces"
	verifyMethod      = "/" + ServiceName + "/Verify"
)

// DialFaceAnalysis connects to the face analysis sidecar and waits until its
// health service reports SERVING.
func DialFaceAnalysis(ctx context.Context, addr string, logger *zap.Logger) (faceanalysis.Client, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_face_analysis", "", err)
		logger.Error("failed to dial face analysis service", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}

	if err := CheckHealth(dialCtx, conn); err != nil {
		conn.Close()
		wrapped := logging.NewOperationError("grpcclient.health_check", "", err)
		logger.Error("face analysis service is not serving", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}

	return NewClient(conn, logger), conn, nil
}

// CheckHealth queries the standard health service of the sidecar.
func CheckHealth(ctx context.Context, conn grpc.ClientConnInterface) error {
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("service status %s", resp.GetStatus())
	}
	return nil
}

// Client implements faceanalysis.Client over gRPC. Messages are
// google.protobuf.Struct values with the same fields as the DeepFace API.
type Client struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

// NewClient wraps an established connection.
func NewClient(conn grpc.ClientConnInterface, logger *zap.Logger) *Client {
	return &Client{conn: conn, logger: logger.Named("grpc_face_analysis")}
}

// DetectFaces returns the facial areas found in img.
func (c *Client) DetectFaces(ctx context.Context, img faceanalysis.Image, opts faceanalysis.DetectOptions) ([]faceanalysis.BoundingBox, error) {
	req, err := structpb.NewStruct(map[string]interface{}{
		"img":               dataURI(img.Data),
		"model_name":        opts.Model,
		"detector_backend":  opts.Detector,
		"enforce_detection": opts.EnforceDetection,
	})
	if err != nil {
		return nil, fmt.Errorf("build detect request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, detectFacesMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.detect_faces", "", fmt.Errorf("image %s: %w", img.ID, mapError(err)))
		c.logger.Debug("face detection call failed", zap.Error(wrapped))
		return nil, wrapped
	}

	results := resp.GetFields()["results"].GetListValue().GetValues()
	boxes := make([]faceanalysis.BoundingBox, 0, len(results))
	for _, v := range results {
		if box := boxFromStruct(v.GetStructValue().GetFields()["facial_area"].GetStructValue()); box != nil {
			boxes = append(boxes, *box)
		}
	}
	return boxes, nil
}

// Verify compares probe against reference.
func (c *Client) Verify(ctx context.Context, probe, reference faceanalysis.Image, opts faceanalysis.VerifyOptions) (*faceanalysis.Verification, error) {
	req, err := structpb.NewStruct(map[string]interface{}{
		"img1":              dataURI(probe.Data),
		"img2":              dataURI(reference.Data),
		"model_name":        opts.Model,
		"detector_backend":  opts.Detector,
		"enforce_detection": opts.EnforceDetection,
		"normalization":     opts.Normalization,
	})
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, verifyMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.verify", "", fmt.Errorf("pair %s/%s: %w", probe.ID, reference.ID, mapError(err)))
		c.logger.Debug("verification call failed", zap.Error(wrapped))
		return nil, wrapped
	}

	fields := resp.GetFields()
	model := fields["model"].GetStringValue()
	if model == "" {
		model = opts.Model
	}
	areas := fields["facial_areas"].GetStructValue().GetFields()
	return &faceanalysis.Verification{
		Distance:  fields["distance"].GetNumberValue(),
		Threshold: fields["threshold"].GetNumberValue(),
		Model:     model,
		FacialAreas: faceanalysis.FacialAreas{
			Probe:     boxFromStruct(areas["img1"].GetStructValue()),
			Reference: boxFromStruct(areas["img2"].GetStructValue()),
		},
	}, nil
}

func mapError(err error) error {
	switch status.Code(err) {
	case codes.NotFound, codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", faceanalysis.ErrNoFace, status.Convert(err).Message())
	default:
		return err
	}
}

func boxFromStruct(s *structpb.Struct) *faceanalysis.BoundingBox {
	if s == nil {
		return nil
	}
	f := s.GetFields()
	return &faceanalysis.BoundingBox{
		X:      int(f["x"].GetNumberValue()),
		Y:      int(f["y"].GetNumberValue()),
		Width:  int(f["w"].GetNumberValue()),
		Height: int(f["h"].GetNumberValue()),
	}
}

func dataURI(data []byte) string {
	return "data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data)
}
