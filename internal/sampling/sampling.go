// Package sampling decides what happens to an incoming screenshot: persist
// it as a new record, fold it into a near-duplicate, or schedule a finished
// record for re-analysis. It combines the fingerprint cache for a cheap
// first pass with a structural comparison for confirmation.
package sampling

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/mindtrack/mindtrack-go/internal/datastore"
	"github.com/mindtrack/mindtrack-go/internal/dedupcache"
	"github.com/mindtrack/mindtrack-go/internal/errors"
	"github.com/mindtrack/mindtrack-go/internal/imagehash"
	"github.com/mindtrack/mindtrack-go/internal/observability/metrics"
)

// Decision actions.
const (
	ActionNew            = "new"
	ActionReanalyze      = "reanalyze"
	ActionChildOfPending = "child_of_pending"
	ActionDissimilar     = "dissimilar"
)

// Decision is the outcome of processing one upload.
type Decision struct {
	Success        bool    `json:"success"`
	Action         string  `json:"action"`
	CurrentImageID uint    `json:"currentImageId,omitempty"`
	PrevImageID    uint    `json:"prevImageId,omitempty"`
	ParentImageID  uint    `json:"parentImageId,omitempty"`
	Similarity     float64 `json:"similarity,omitempty"`
	Message        string  `json:"message,omitempty"`
}

// Config tunes the decision gates.
type Config struct {
	MaxHashDistance     int     // Hamming distance bound on cache candidates
	StructuralThreshold float64 // minimum SSIM to treat as the same scene
	ThumbnailWidth      int
}

// Decider classifies uploads against the per-user recency cache and drives
// the corresponding store writes.
type Decider struct {
	cfg     Config
	store   datastore.Interface
	cache   *dedupcache.Cache
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Decider. Logger and metrics may be nil.
func New(cfg Config, store datastore.Interface, cache *dedupcache.Cache, logger *slog.Logger, m *metrics.Metrics) *Decider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decider{
		cfg:     cfg,
		store:   store,
		cache:   cache,
		logger:  logger,
		metrics: m,
	}
}

// Process runs the full decision pipeline for one uploaded capture.
//
// The raw bytes are decoded once and then cached as the analysis original,
// so whatever encoding the client sent survives end to end.
func (d *Decider) Process(ctx context.Context, userID uint, data []byte) (*Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		if d.metrics != nil {
			d.metrics.UploadProcessingSec.Observe(time.Since(start).Seconds())
		}
	}()

	img, err := imagehash.Decode(data)
	if err != nil {
		return nil, errors.New(err).
			Component("sampling").
			Category(errors.CategoryImageProcessing).
			Context("user_id", userID).
			Build()
	}
	fp := imagehash.Compute(img)

	candidate, ok := d.cache.FindNearest(userID, fp, d.cfg.MaxHashDistance)
	d.countLookup(ok)
	if !ok {
		d.countDecision(ActionNew)
		return d.persistNew(userID, fp, img, data, nil, 0)
	}

	record, err := d.store.GetScreenshotByUserAndID(userID, candidate.RecordID)
	if err != nil {
		// Cache entry outlived the row; treat the capture as unseen.
		d.logger.Warn("cache candidate missing from store",
			"user_id", userID, "record_id", candidate.RecordID)
		d.countDecision(ActionNew)
		return d.persistNew(userID, fp, img, data, nil, 0)
	}

	thumb, ok := d.cache.Thumbnail(userID, candidate.Fingerprint)
	if !ok {
		// Without the thumbnail the structural check cannot run, and a
		// fingerprint match alone is not enough to suppress analysis.
		d.logger.Debug("candidate thumbnail expired, treating as new",
			"user_id", userID, "record_id", candidate.RecordID)
		d.countDecision(ActionNew)
		return d.persistNew(userID, fp, img, data, nil, record.ID)
	}
	thumbImg, err := imagehash.Decode(thumb)
	if err != nil {
		return nil, errors.New(fmt.Errorf("decoding cached thumbnail: %w", err)).
			Component("sampling").
			Category(errors.CategoryImageCache).
			Context("record_id", candidate.RecordID).
			Build()
	}

	sim := imagehash.StructuralSimilarity(img, thumbImg)
	if sim < d.cfg.StructuralThreshold {
		// Fingerprint proximity was a false positive; different scene.
		dec, err := d.persistNew(userID, fp, img, data, nil, record.ID)
		if err != nil {
			return nil, err
		}
		dec.Action = ActionDissimilar
		dec.Similarity = sim
		d.countDecision(ActionDissimilar)
		return dec, nil
	}

	if record.AnalysisStatus == datastore.StatusPending {
		// The near-duplicate is already in flight. Never touch its cached
		// original mid-analysis; record the capture as its child instead.
		dec, err := d.persistNew(userID, fp, img, data, &record.ID, 0)
		if err != nil {
			return nil, err
		}
		dec.Action = ActionChildOfPending
		dec.Similarity = sim
		d.countDecision(ActionChildOfPending)
		return dec, nil
	}

	return d.reanalyze(userID, record, sim, data)
}

// persistNew stores a fresh record and primes the cache for it. parentID
// links a capture shadowing an in-flight analysis; prevID is reported back
// to the caller only.
func (d *Decider) persistNew(userID uint, fp imagehash.Fingerprint, img image.Image, data []byte, parentID *uint, prevID uint) (*Decision, error) {
	now := time.Now()
	record := &datastore.ScreenshotImage{
		UserID:         userID,
		ImageHash:      fp.Hex(),
		VisitCount:     1,
		CapturedAt:     now,
		LastVisitedAt:  now,
		AnalysisStatus: datastore.StatusPending,
		ParentImageID:  parentID,
	}
	if err := d.store.SaveScreenshot(record); err != nil {
		return nil, err
	}

	thumb, err := imagehash.Thumbnail(img, d.cfg.ThumbnailWidth)
	if err != nil {
		d.logger.Warn("thumbnail encoding failed, caching fingerprint only",
			"user_id", userID, "record_id", record.ID, "error", err)
		thumb = nil
	}
	d.cache.Insert(userID, record.ID, fp, thumb)
	d.cache.CacheOriginal(userID, record.ID, data)

	dec := &Decision{
		Success:        true,
		Action:         ActionNew,
		CurrentImageID: record.ID,
		PrevImageID:    prevID,
	}
	if parentID != nil {
		dec.ParentImageID = *parentID
	}
	d.logger.Info("screenshot recorded",
		"user_id", userID, "record_id", record.ID, "hash", record.ImageHash)
	return dec, nil
}

// reanalyze folds a confirmed duplicate of a finished record back into it.
// The cached original is overwritten before the status flips to pending, so
// a worker that starts immediately reads the freshest capture.
func (d *Decider) reanalyze(userID uint, record *datastore.ScreenshotImage, sim float64, data []byte) (*Decision, error) {
	d.cache.CacheOriginal(userID, record.ID, data)

	record.MarkRevisited(time.Now())
	record.AnalysisStatus = datastore.StatusPending
	if err := d.store.SaveScreenshot(record); err != nil {
		return nil, err
	}

	d.countDecision(ActionReanalyze)
	d.logger.Info("reanalysis requested",
		"user_id", userID, "record_id", record.ID,
		"visit_count", record.VisitCount, "similarity", sim)
	return &Decision{
		Success:     true,
		Action:      ActionReanalyze,
		PrevImageID: record.ID,
		Similarity:  sim,
		Message:     "reanalyze requested",
	}, nil
}

func (d *Decider) countDecision(action string) {
	if d.metrics != nil {
		d.metrics.UploadDecisions.WithLabelValues(action).Inc()
	}
}

func (d *Decider) countLookup(hit bool) {
	if d.metrics == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	d.metrics.CacheLookups.WithLabelValues(result).Inc()
}
