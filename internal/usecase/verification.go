package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/faceverify/internal/enrollment"
	"github.com/example/faceverify/internal/faceanalysis"
	"github.com/example/faceverify/internal/imagecodec"
	"github.com/example/faceverify/internal/logging"
	"github.com/example/faceverify/internal/matcher"
	"github.com/example/faceverify/internal/repository"
	"github.com/example/faceverify/internal/retry"
)

// ErrInvalidImage rejects a probe that cannot be decoded.
var ErrInvalidImage = errors.New("invalid image")

const (
	// ReasonNoReferences is reported when the reference set is empty.
	ReasonNoReferences = "no_references"
	// ReasonNoMatch is reported when no reference reached the threshold.
	ReasonNoMatch = "no_match"
)

const resultTTL = 5 * time.Minute

// VerificationRepository defines the persistence operations needed by the use case.
type VerificationRepository interface {
	SaveLog(ctx context.Context, log *repository.VerificationLog) error
	FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.VerificationLog, error)
	FindDuplicatesByHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*repository.VerificationLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// ReferenceLister enumerates the enrolled reference set.
type ReferenceLister interface {
	List(ctx context.Context) ([]string, error)
}

// BestMatchFinder selects the best reference for a probe.
type BestMatchFinder interface {
	FindBestMatch(ctx context.Context, probe faceanalysis.Image, refs []string) matcher.MatchResult
}

// Enroller adds gated images to the reference set.
type Enroller interface {
	Enroll(ctx context.Context, filename string, data []byte) (*enrollment.Enrollment, error)
}

// Options holds the decision parameters of the use case.
type Options struct {
	// Threshold is the minimum score of an accepted match.
	Threshold float64
	Model     string
	// MaxPixels bounds the probe size; zero means imagecodec.DefaultMaxPixels.
	MaxPixels int
	Policy    retry.Policy
}

// Outcome is the result of a verification request.
type Outcome struct {
	Result    matcher.MatchResult
	Threshold float64
	Matched   bool
	Reason    string
}

// VerificationUseCase encapsulates business logic for the verification flow.
type VerificationUseCase struct {
	repo       VerificationRepository
	cache      Cache
	references ReferenceLister
	finder     BestMatchFinder
	enroller   Enroller
	opts       Options
	logger     *zap.Logger
}

type cachedVerification struct {
	RequestID    string    `json:"request_id"`
	UserID       string    `json:"user_id"`
	Score        float64   `json:"score"`
	Matched      bool      `json:"matched"`
	BestMatchID  string    `json:"best_match_id"`
	Threshold    float64   `json:"threshold"`
	Model        string    `json:"model"`
	Compared     int       `json:"compared"`
	Failed       int       `json:"failed"`
	ProcessingMs int64     `json:"processing_ms"`
	Details      string    `json:"details"`
	Hash         string    `json:"sha1_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// DuplicateReport represents duplicate verification entries for a request.
type DuplicateReport struct {
	Request    *repository.VerificationLog
	Duplicates []*repository.VerificationLog
}

// NewVerificationUseCase constructs a new use case instance.
func NewVerificationUseCase(repo VerificationRepository, cache Cache, references ReferenceLister, finder BestMatchFinder, enroller Enroller, opts Options, logger *zap.Logger) *VerificationUseCase {
	if opts.Policy.Attempts == 0 {
		opts.Policy = retry.DefaultPolicy()
	}
	opts.Policy = opts.Policy.WithExpected(redis.Nil)
	return &VerificationUseCase{
		repo:       repo,
		cache:      cache,
		references: references,
		finder:     finder,
		enroller:   enroller,
		opts:       opts,
		logger:     logger.Named("verification_usecase"),
	}
}

// VerifyImage matches the probe against the reference set, persists an audit
// entry and caches the outcome under the returned request id.
func (uc *VerificationUseCase) VerifyImage(ctx context.Context, userID string, imageBytes []byte) (string, *Outcome, error) {
	start := time.Now()
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.verify_image", requestID)

	if err := uc.checkProbe(imageBytes); err != nil {
		opLogger.Info("probe rejected", zap.Error(err))
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	cacheKey := resultKey(requestID)
	if err := uc.opts.Policy.Do(ctx, uc.logger, "cache.set.processing", requestID, func() error {
		return uc.cache.Set(ctx, cacheKey, "processing", time.Minute)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return "", nil, err
	}

	refs, err := uc.references.List(ctx)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.list_references", requestID, err)
		opLogger.Error("failed to list references", zap.Error(wrapped))
		return "", nil, wrapped
	}

	probe := faceanalysis.Image{ID: requestID, Data: imageBytes}
	result := uc.finder.FindBestMatch(ctx, probe, refs)
	outcome := uc.decide(result, len(refs))

	hash := sha1.Sum(imageBytes)
	hashHex := hex.EncodeToString(hash[:])
	log := &repository.VerificationLog{
		RequestID:    requestID,
		UserID:       userID,
		Score:        result.Score,
		Matched:      outcome.Matched,
		BestMatchID:  result.BestMatchID,
		Threshold:    outcome.Threshold,
		Model:        uc.opts.Model,
		Compared:     result.Compared,
		Failed:       result.Failed,
		ProcessingMs: time.Since(start).Milliseconds(),
		SHA1Hash:     hashHex,
		CreatedAt:    time.Now().UTC(),
	}
	log.Details = fmt.Sprintf("matched:%t score:%.2f best:%s distance:%.4f reason:%s", outcome.Matched, result.Score, result.BestMatchID, result.Distance, outcome.Reason)
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
		opLogger.Error("failed to persist verification log", zap.Error(wrapped))
		return "", nil, wrapped
	}

	serialized, err := json.Marshal(toCached(log))
	if err != nil {
		opLogger.Error("failed to serialize verification result", zap.Error(err))
		return "", nil, err
	}

	if err := uc.opts.Policy.Do(ctx, uc.logger, "cache.set.result", requestID, func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), resultTTL)
	}); err != nil {
		opLogger.Error("failed to cache verification result", zap.Error(err))
		return "", nil, err
	}

	opLogger.Info("verification finished",
		zap.Bool("matched", outcome.Matched),
		zap.Float64("score", result.Score),
		zap.String("best_match", result.BestMatchID),
		zap.String("reason", outcome.Reason),
		zap.Int64("processing_ms", log.ProcessingMs),
	)
	return requestID, outcome, nil
}

func (uc *VerificationUseCase) checkProbe(data []byte) error {
	cfg, err := imagecodec.DecodeConfig(data)
	if err != nil {
		return err
	}
	return imagecodec.CheckPixels(cfg, uc.opts.MaxPixels)
}

func (uc *VerificationUseCase) decide(result matcher.MatchResult, references int) *Outcome {
	outcome := &Outcome{
		Result:    result,
		Threshold: uc.opts.Threshold,
		Matched:   result.Passes(uc.opts.Threshold),
	}
	switch {
	case references == 0:
		outcome.Reason = ReasonNoReferences
	case !outcome.Matched:
		outcome.Reason = ReasonNoMatch
	}
	return outcome
}

// EnrollReference adds an image to the reference set after face gating.
func (uc *VerificationUseCase) EnrollReference(ctx context.Context, filename string, data []byte) (*enrollment.Enrollment, error) {
	return uc.enroller.Enroll(ctx, filename, data)
}

// ListReferences returns the identifiers of the enrolled references.
func (uc *VerificationUseCase) ListReferences(ctx context.Context) ([]string, error) {
	refs, err := uc.references.List(ctx)
	if err != nil {
		return nil, logging.NewOperationError("usecase.list_references", "", err)
	}
	return refs, nil
}

// GetResult retrieves a cached verification outcome or loads from persistence.
func (uc *VerificationUseCase) GetResult(ctx context.Context, userID, requestID string) (*repository.VerificationLog, error) {
	if cached, err := uc.cachedResult(ctx, requestID); err == nil {
		var payload cachedVerification
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to decode cached result", zap.Error(err))
		} else if payload.UserID == userID {
			return payload.toLog(), nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
}

// GetDuplicateReport builds a duplicate detection report for a verification request.
func (uc *VerificationUseCase) GetDuplicateReport(ctx context.Context, userID, requestID string) (*DuplicateReport, error) {
	log, err := uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, userID, log.SHA1Hash, log.RequestID)
	if err != nil {
		return nil, err
	}

	return &DuplicateReport{
		Request:    log,
		Duplicates: duplicates,
	}, nil
}

func (uc *VerificationUseCase) cachedResult(ctx context.Context, requestID string) (string, error) {
	var result string
	err := uc.opts.Policy.Do(ctx, uc.logger, "cache.get.result", requestID, func() error {
		value, err := uc.cache.Get(ctx, resultKey(requestID))
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func resultKey(requestID string) string {
	return fmt.Sprintf("verification:%s", requestID)
}

func toCached(log *repository.VerificationLog) cachedVerification {
	return cachedVerification{
		RequestID:    log.RequestID,
		UserID:       log.UserID,
		Score:        log.Score,
		Matched:      log.Matched,
		BestMatchID:  log.BestMatchID,
		Threshold:    log.Threshold,
		Model:        log.Model,
		Compared:     log.Compared,
		Failed:       log.Failed,
		ProcessingMs: log.ProcessingMs,
		Details:      log.Details,
		Hash:         log.SHA1Hash,
		CreatedAt:    log.CreatedAt,
	}
}

func (c cachedVerification) toLog() *repository.VerificationLog {
	return &repository.VerificationLog{
		RequestID:    c.RequestID,
		UserID:       c.UserID,
		Score:        c.Score,
		Matched:      c.Matched,
		BestMatchID:  c.BestMatchID,
		Threshold:    c.Threshold,
		Model:        c.Model,
		Compared:     c.Compared,
		Failed:       c.Failed,
		ProcessingMs: c.ProcessingMs,
		Details:      c.Details,
		SHA1Hash:     c.Hash,
		CreatedAt:    c.CreatedAt,
	}
}
