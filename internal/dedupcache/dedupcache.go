// Package dedupcache keeps, per user, a bounded recency sequence of recent
// screenshot fingerprints plus TTL-bounded thumbnail and original-image
// blobs. It answers nearest-neighbor queries by Hamming distance so the
// sampling pipeline can skip redundant analysis.
//
// Everything in here is rebuildable from the durable store; a lost entry
// only costs a redundant re-analysis.
package dedupcache

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/mindtrack/mindtrack-go/internal/imagehash"
)

// Config bounds the cache.
type Config struct {
	MaxRecent     int           // recency sequence cap per user
	SequenceTTL   time.Duration // expiry of a whole recency sequence
	BlobTTL       time.Duration // thumbnails and originals
	MinSimilarity float64       // FindNearest similarity gate
}

// Candidate is a recency entry that qualified in a nearest-neighbor lookup.
type Candidate struct {
	RecordID    uint
	Fingerprint imagehash.Fingerprint
	Distance    int
	Similarity  float64
}

type entry struct {
	recordID    uint
	fingerprint imagehash.Fingerprint
}

// userSequence is one user's recency-ordered fingerprint list, head first.
// Its mutex serializes insert+evict so the cap and uniqueness invariants
// hold under concurrent uploads from the same user.
type userSequence struct {
	mu        sync.Mutex
	entries   []entry
	expiresAt time.Time
}

// Cache is the process-wide deduplication cache.
type Cache struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	sequences map[uint]*userSequence

	blobs *gocache.Cache
}

// New creates a Cache. The logger may be nil.
func New(cfg Config, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		cfg:       cfg,
		logger:    logger,
		sequences: make(map[uint]*userSequence),
		blobs:     gocache.New(cfg.BlobTTL, 10*time.Minute),
	}
}

func thumbKey(userID uint, fp imagehash.Fingerprint) string {
	return fmt.Sprintf("user:%d:thumb:%s", userID, fp.Hex())
}

func originalKey(userID, recordID uint) string {
	return fmt.Sprintf("user:%d:orig:%d", userID, recordID)
}

// sequence returns the user's recency sequence, creating it if needed and
// discarding it if the sequence TTL has elapsed.
func (c *Cache) sequence(userID uint) *userSequence {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq, ok := c.sequences[userID]
	if !ok {
		seq = &userSequence{}
		c.sequences[userID] = seq
	}
	return seq
}

// Insert records a fingerprint at the head of the user's sequence. Any
// existing entry with the same fingerprint is removed first, the sequence
// TTL is reset, and entries beyond the cap are evicted from the tail along
// with their thumbnails.
func (c *Cache) Insert(userID, recordID uint, fp imagehash.Fingerprint, thumbnail []byte) {
	seq := c.sequence(userID)

	seq.mu.Lock()
	defer seq.mu.Unlock()

	now := time.Now()
	if !seq.expiresAt.IsZero() && now.After(seq.expiresAt) {
		seq.entries = nil
	}
	seq.expiresAt = now.Add(c.cfg.SequenceTTL)

	// Uniqueness: drop a previous occurrence of the same fingerprint.
	for i, e := range seq.entries {
		if e.fingerprint == fp {
			seq.entries = append(seq.entries[:i], seq.entries[i+1:]...)
			break
		}
	}

	seq.entries = append([]entry{{recordID: recordID, fingerprint: fp}}, seq.entries...)

	if len(thumbnail) > 0 {
		c.blobs.Set(thumbKey(userID, fp), thumbnail, gocache.DefaultExpiration)
	}

	for len(seq.entries) > c.cfg.MaxRecent {
		tail := seq.entries[len(seq.entries)-1]
		seq.entries = seq.entries[:len(seq.entries)-1]
		c.blobs.Delete(thumbKey(userID, tail.fingerprint))
		c.logger.Debug("evicted recency entry",
			"user_id", userID, "record_id", tail.recordID)
	}
}

// FindNearest scans the user's sequence and returns the entry with the
// highest similarity among those within maxDistance Hamming bits and at or
// above the similarity gate. Ties keep the first-seen entry. The scan is
// bounded by MaxRecent, so a lookup is O(cap).
func (c *Cache) FindNearest(userID uint, fp imagehash.Fingerprint, maxDistance int) (Candidate, bool) {
	seq := c.sequence(userID)

	seq.mu.Lock()
	defer seq.mu.Unlock()

	if !seq.expiresAt.IsZero() && time.Now().After(seq.expiresAt) {
		seq.entries = nil
		return Candidate{}, false
	}

	var best Candidate
	found := false
	for _, e := range seq.entries {
		dist := imagehash.HammingDistance(fp, e.fingerprint)
		if dist > maxDistance {
			continue
		}
		sim := imagehash.Similarity(fp, e.fingerprint)
		if sim < c.cfg.MinSimilarity {
			continue
		}
		if !found || sim > best.Similarity {
			best = Candidate{
				RecordID:    e.recordID,
				Fingerprint: e.fingerprint,
				Distance:    dist,
				Similarity:  sim,
			}
			found = true
		}
	}
	return best, found
}

// Len returns the current length of a user's recency sequence.
func (c *Cache) Len(userID uint) int {
	seq := c.sequence(userID)
	seq.mu.Lock()
	defer seq.mu.Unlock()
	return len(seq.entries)
}

// Thumbnail returns the cached thumbnail for a fingerprint, if still alive.
func (c *Cache) Thumbnail(userID uint, fp imagehash.Fingerprint) ([]byte, bool) {
	v, ok := c.blobs.Get(thumbKey(userID, fp))
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

// CacheOriginal stores (or overwrites) the full-resolution capture for a
// record. The analysis worker reads it from here, so a re-analysis must
// overwrite it before the record is flipped back to pending.
func (c *Cache) CacheOriginal(userID, recordID uint, data []byte) {
	c.blobs.Set(originalKey(userID, recordID), data, gocache.DefaultExpiration)
}

// Original returns the cached full-resolution capture for a record.
func (c *Cache) Original(userID, recordID uint) ([]byte, bool) {
	v, ok := c.blobs.Get(originalKey(userID, recordID))
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

// DeleteOriginal drops the cached full-resolution capture for a record.
func (c *Cache) DeleteOriginal(userID, recordID uint) {
	c.blobs.Delete(originalKey(userID, recordID))
}
