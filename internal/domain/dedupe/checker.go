package dedupe

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/okian/dorsal/internal/domain/model"
	"github.com/okian/dorsal/pkg/logger"
	"github.com/okian/dorsal/pkg/metrics"
)

// Layer names the dedup layer that rejected a sighting.
type Layer string

const (
	LayerBatch     Layer = "batch"
	LayerSession   Layer = "session"
	LayerPersisted Layer = "persisted"

	// CurrentBatch marks a duplicate whose winner has no id yet.
	CurrentBatch = "current_batch"

	// reserved prefixes memory values that are not backed by a write yet.
	reserved = "reserved:"
)

// ClassificationLookup finds the classification already stored for a bib at
// a checkpoint. It returns nil, nil when there is none.
type ClassificationLookup interface {
	QueryExistingClassification(ctx context.Context, bib int, eventID string, checkpointOrder int) (*model.Classification, error)
}

// Query describes one sighting.
type Query struct {
	EventID         string
	DeviceID        string
	SessionID       string
	Bib             int
	CheckpointOrder int
}

func (q Query) batchKey() string {
	return q.EventID + "|" + q.DeviceID + "|" + q.SessionID + "|" + strconv.Itoa(q.Bib)
}

func (q Query) checkpointKey() string {
	return q.EventID + "|" + strconv.Itoa(q.Bib) + "|" + strconv.Itoa(q.CheckpointOrder)
}

// Verdict is the outcome of a dedup check.
type Verdict struct {
	Duplicate   bool
	Layer       Layer
	DuplicateOf string
}

// Result is the diagnostic payload stored on a discarded capture.
func (v Verdict) Result(bib int) model.Result {
	return model.Result{
		"reason":       "duplicate",
		"number":       bib,
		"duplicate_of": v.DuplicateOf,
		"layer":        string(v.Layer),
	}
}

// Batch tracks the bibs accepted within one recognition batch. It is not
// safe for concurrent use; a batch belongs to one event group.
type Batch struct {
	winners map[string]string
}

// NewBatch starts an empty batch.
func NewBatch() *Batch {
	return &Batch{winners: make(map[string]string)}
}

// Claim registers captureID for q. When the key was already claimed it
// returns the winning capture id and true.
func (b *Batch) Claim(q Query, captureID string) (string, bool) {
	key := q.batchKey()
	if winner, ok := b.winners[key]; ok {
		if winner == "" {
			winner = CurrentBatch
		}
		return winner, true
	}
	b.winners[key] = captureID
	return "", false
}

// Len returns the number of claimed keys.
func (b *Batch) Len() int { return len(b.winners) }

// Checker combines the in-batch layer, the session memory and the persisted
// classification lookup. The store's unique index stays authoritative.
type Checker struct {
	lookup ClassificationLookup
	memory Memory
	logger logger.Logger
}

// NewChecker builds a checker over the given lookup.
func NewChecker(lookup ClassificationLookup, opts ...CheckerOption) *Checker {
	c := &Checker{lookup: lookup}
	for _, opt := range opts {
		opt(c)
	}
	if c.memory == nil {
		c.memory = NewMemory()
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("dedupe")
	}
	return c
}

// Check decides whether the sighting is a duplicate. A sighting that passes
// is reserved in the session memory; the caller must then Commit it with the
// detection id once persisted, or Release it when the write failed.
func (c *Checker) Check(ctx context.Context, batch *Batch, captureID string, q Query) (Verdict, error) {
	if batch != nil {
		if winner, dup := batch.Claim(q, captureID); dup {
			return c.duplicate(ctx, q, LayerBatch, winner), nil
		}
	}

	key := q.checkpointKey()
	if prev, dup := c.memory.Remember(ctx, key, reserved+captureID); dup {
		return c.duplicate(ctx, q, LayerSession, strings.TrimPrefix(prev, reserved)), nil
	}

	existing, err := c.lookup.QueryExistingClassification(ctx, q.Bib, q.EventID, q.CheckpointOrder)
	if err != nil {
		c.memory.Forget(ctx, key)
		return Verdict{}, fmt.Errorf("query existing classification: %w", err)
	}
	if existing != nil {
		c.memory.Forget(ctx, key)
		c.memory.Remember(ctx, key, existing.DetectionID)
		return c.duplicate(ctx, q, LayerPersisted, existing.DetectionID), nil
	}
	return Verdict{}, nil
}

// IsDuplicate reports whether a classification for the sighting's checkpoint
// is already known, without reserving anything. Reservations that were never
// committed do not count.
func (c *Checker) IsDuplicate(ctx context.Context, bib int, eventID, deviceID, sessionID string, checkpointOrder int) (bool, error) {
	q := Query{EventID: eventID, DeviceID: deviceID, SessionID: sessionID, Bib: bib, CheckpointOrder: checkpointOrder}
	if v, ok := c.memory.Recall(ctx, q.checkpointKey()); ok && !strings.HasPrefix(v, reserved) {
		metrics.RecordDuplicate(string(LayerSession))
		return true, nil
	}
	existing, err := c.lookup.QueryExistingClassification(ctx, bib, eventID, checkpointOrder)
	if err != nil {
		return false, fmt.Errorf("query existing classification: %w", err)
	}
	if existing != nil {
		metrics.RecordDuplicate(string(LayerPersisted))
		return true, nil
	}
	return false, nil
}

// Commit replaces the reservation for q with the persisted detection id.
func (c *Checker) Commit(ctx context.Context, q Query, detectionID string) {
	key := q.checkpointKey()
	c.memory.Forget(ctx, key)
	c.memory.Remember(ctx, key, detectionID)
}

// Release drops the reservation for q.
func (c *Checker) Release(ctx context.Context, q Query) {
	c.memory.Forget(ctx, q.checkpointKey())
}

func (c *Checker) duplicate(ctx context.Context, q Query, layer Layer, of string) Verdict {
	metrics.RecordDuplicate(string(layer))
	c.logger.Debug(ctx, "duplicate sighting",
		logger.String("event_id", q.EventID),
		logger.Int("bib", q.Bib),
		logger.Int("checkpoint_order", q.CheckpointOrder),
		logger.String("layer", string(layer)),
		logger.String("duplicate_of", of),
	)
	return Verdict{Duplicate: true, Layer: layer, DuplicateOf: of}
}
