package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/example/faceverify/internal/auth"
	"github.com/example/faceverify/internal/enrollment"
	"github.com/example/faceverify/internal/faceanalysis"
	"github.com/example/faceverify/internal/repository"
	"github.com/example/faceverify/internal/usecase"
)

// MaxUploadSize is the largest accepted image upload.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for boundaries and part headers.
const multipartOverhead = 1 << 20

var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// Service is the use case surface served over HTTP.
type Service interface {
	VerifyImage(ctx context.Context, userID string, imageBytes []byte) (string, *usecase.Outcome, error)
	EnrollReference(ctx context.Context, filename string, data []byte) (*enrollment.Enrollment, error)
	ListReferences(ctx context.Context) ([]string, error)
	GetResult(ctx context.Context, userID, requestID string) (*repository.VerificationLog, error)
	GetDuplicateReport(ctx context.Context, userID, requestID string) (*usecase.DuplicateReport, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// CORSMiddleware allows browser clients from the given origins; "*" allows any origin.
func CORSMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc Service, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/", authMiddleware)

	api.POST("/verify", func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}

		data, _, ok := readImage(c)
		if !ok {
			return
		}

		requestID, outcome, err := svc.VerifyImage(c.Request.Context(), userID, data)
		if err != nil {
			if errors.Is(err, usecase.ErrInvalidImage) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image", "code": "invalid_image"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		result := outcome.Result
		c.JSON(http.StatusOK, gin.H{
			"request_id":      requestID,
			"matched":         outcome.Matched,
			"score":           result.Score,
			"threshold":       outcome.Threshold,
			"best_match_id":   result.BestMatchID,
			"distance":        result.Distance,
			"model_threshold": result.ModelThreshold,
			"probe_box":       boxJSON(result.ProbeBox),
			"match_box":       boxJSON(result.MatchBox),
			"compared":        result.Compared,
			"failed":          result.Failed,
			"reason":          outcome.Reason,
		})
	})

	api.POST("/references", auth.RequireScope(auth.ScopeReferencesWrite), func(c *gin.Context) {
		data, filename, ok := readImage(c)
		if !ok {
			return
		}
		if name := strings.TrimSpace(c.PostForm("name")); name != "" {
			filename = name
		}

		enrolled, err := svc.EnrollReference(c.Request.Context(), filename, data)
		switch {
		case errors.Is(err, enrollment.ErrNoFaceDetected):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no face detected", "code": "no_face_detected"})
			return
		case errors.Is(err, enrollment.ErrInvalidImage):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image", "code": "invalid_image"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store reference"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"identifier": enrolled.Identifier,
			"replaced":   enrolled.Replaced,
			"width":      enrolled.Width,
			"height":     enrolled.Height,
		})
	})

	api.GET("/references", func(c *gin.Context) {
		refs, err := svc.ListReferences(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list references"})
			return
		}
		if refs == nil {
			refs = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"references": refs, "count": len(refs)})
	})

	api.GET("/result/:id", func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}

		log, err := svc.GetResult(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}

		c.JSON(http.StatusOK, logJSON(log))
	})

	api.GET("/result/:id/duplicates", func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}

		report, err := svc.GetDuplicateReport(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}

		duplicates := make([]gin.H, 0, len(report.Duplicates))
		for _, d := range report.Duplicates {
			duplicates = append(duplicates, logJSON(d))
		}
		c.JSON(http.StatusOK, gin.H{
			"request":    logJSON(report.Request),
			"duplicates": duplicates,
			"count":      len(duplicates),
		})
	})

	api.GET("/metrics", func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

// readImage extracts the "image" part of a multipart upload. On failure the
// response has already been written.
func readImage(c *gin.Context) ([]byte, string, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)

	file, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return nil, "", false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return nil, "", false
	}
	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return nil, "", false
	}
	if !allowedContentTypes[mediaType(file.Header.Get("Content-Type"))] {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported image type"})
		return nil, "", false
	}

	data, err := readFile(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return nil, "", false
	}
	if !allowedContentTypes[http.DetectContentType(data)] {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported image type"})
		return nil, "", false
	}
	return data, file.Filename, true
}

func readFile(file *multipart.FileHeader) ([]byte, error) {
	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}

func mediaType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

func boxJSON(box *faceanalysis.BoundingBox) gin.H {
	if box == nil {
		return nil
	}
	return gin.H{"x": box.X, "y": box.Y, "w": box.Width, "h": box.Height}
}

func logJSON(log *repository.VerificationLog) gin.H {
	return gin.H{
		"request_id":    log.RequestID,
		"user_id":       log.UserID,
		"score":         log.Score,
		"matched":       log.Matched,
		"best_match_id": log.BestMatchID,
		"threshold":     log.Threshold,
		"model":         log.Model,
		"compared":      log.Compared,
		"failed":        log.Failed,
		"processing_ms": log.ProcessingMs,
		"sha1_hash":     log.SHA1Hash,
		"details":       log.Details,
		"created_at":    log.CreatedAt,
	}
}
