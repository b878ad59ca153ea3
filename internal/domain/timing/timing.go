// Package timing turns checkpoint sightings into split and total times and
// ranks athletes by their best total time.
package timing

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/dorsal/internal/domain/model"
)

// Input is everything needed to time one checkpoint crossing.
type Input struct {
	CheckpointType model.CheckpointType
	CheckpointTime time.Time
	// EventStart is nil while the event has not started.
	EventStart *time.Time
	// Previous is the athlete's preceding checkpoint crossing, if any.
	Previous *time.Time
}

// Times holds whole seconds. Nil means not computable.
type Times struct {
	Total *int64
	Split *int64
}

// ComputeTimes applies the checkpoint timing rules. Total time exists only at
// a finish checkpoint of a started event, and the split mirrors it there.
// Elsewhere the split runs from the previous crossing, or from the start.
func ComputeTimes(in Input) Times {
	at := in.CheckpointTime.UTC()

	if in.CheckpointType.IsFinish() {
		if in.EventStart == nil {
			return Times{}
		}
		total := seconds(*in.EventStart, at)
		return Times{Total: total, Split: total}
	}

	ref := in.Previous
	if ref == nil {
		ref = in.EventStart
	}
	if ref == nil {
		return Times{}
	}
	return Times{Split: seconds(*ref, at)}
}

// seconds returns the whole seconds from 'from' to 'to', or nil when
// negative.
func seconds(from, to time.Time) *int64 {
	d := to.UTC().Sub(from.UTC())
	if d < 0 {
		return nil
	}
	s := int64(d / time.Second)
	return &s
}

// IsLastCheckpoint reports whether order closes the course. With no
// checkpoints configured every order is the last.
func IsLastCheckpoint(order, maxOrder int) bool {
	return maxOrder <= 0 || order >= maxOrder
}

// Clock reads the instants the engine needs from the store.
type Clock interface {
	GetEventStartTime(ctx context.Context, eventID string) (*time.Time, error)
	PreviousCheckpointTime(ctx context.Context, eventID string, bib, checkpointOrder int) (*time.Time, error)
}

// Engine computes times for stored events.
type Engine struct {
	clock Clock
}

// NewEngine builds an engine over clock.
func NewEngine(clock Clock) *Engine {
	return &Engine{clock: clock}
}

// Compute times a crossing of bib at the given checkpoint.
func (e *Engine) Compute(ctx context.Context, eventID string, bib, checkpointOrder int, at time.Time, ctype model.CheckpointType) (Times, error) {
	start, err := e.clock.GetEventStartTime(ctx, eventID)
	if err != nil {
		return Times{}, fmt.Errorf("event start time: %w", err)
	}

	in := Input{CheckpointType: ctype, CheckpointTime: at, EventStart: start}
	if !ctype.IsFinish() {
		prev, err := e.clock.PreviousCheckpointTime(ctx, eventID, bib, checkpointOrder)
		if err != nil {
			return Times{}, fmt.Errorf("previous checkpoint time: %w", err)
		}
		in.Previous = prev
	}
	return ComputeTimes(in), nil
}
