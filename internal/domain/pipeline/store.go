// Package pipeline turns buffered captures and device uploads into
// detections and classifications.
package pipeline

import (
	"context"
	"time"

	"github.com/okian/dorsal/internal/domain/model"
)

// CaptureStore is what the buffer processor needs from persistence.
type CaptureStore interface {
	FetchPendingCaptures(ctx context.Context, eventID string, limit int) ([]model.CaptureRecord, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	MarkTerminal(ctx context.Context, id string, status model.Status, result model.Result) error
	RevertToPending(ctx context.Context, id, reason string) error
	RecordDetection(ctx context.Context, det *model.Detection, cls *model.Classification) error
	QueryExistingClassification(ctx context.Context, bib int, eventID string, checkpointOrder int) (*model.Classification, error)
	GetCheckpointDevice(ctx context.Context, deviceID, eventID string) (*model.CheckpointDevice, error)
	GetEventConfig(ctx context.Context, eventID string, base model.EventConfig) (model.EventConfig, error)
	InsertManualReview(ctx context.Context, review *model.ManualReview) error
}

// DeviceStore is what the device detection processor needs from persistence.
type DeviceStore interface {
	FetchPendingDeviceDetections(ctx context.Context, limit int) ([]model.DeviceDetection, error)
	MarkDeviceDetectionProcessing(ctx context.Context, id string) (bool, error)
	MarkDeviceDetection(ctx context.Context, id string, status model.Status, result model.Result, errMsg string) error
	GetCheckpointDeviceByAccessCode(ctx context.Context, accessCode string) (*model.CheckpointDevice, error)
	GetEvent(ctx context.Context, eventID string) (*model.Event, error)
	IsParticipant(ctx context.Context, eventID string, bib int) (bool, error)
	InsertCapture(ctx context.Context, rec *model.CaptureRecord) error
	InsertDetection(ctx context.Context, det *model.Detection) error
	RecordDetection(ctx context.Context, det *model.Detection, cls *model.Classification) error
}

// EventStarter flips scheduled events to active.
type EventStarter interface {
	StartDueEvents(ctx context.Context, now time.Time) ([]string, error)
}

// Summary counts what one pass did.
type Summary struct {
	Claimed   int `json:"claimed"`
	Processed int `json:"processed"`
	Discarded int `json:"discarded"`
	Manual    int `json:"manual"`
	Errors    int `json:"errors"`
	Reverted  int `json:"reverted"`
}

// Add accumulates o into s.
func (s *Summary) Add(o Summary) {
	s.Claimed += o.Claimed
	s.Processed += o.Processed
	s.Discarded += o.Discarded
	s.Manual += o.Manual
	s.Errors += o.Errors
	s.Reverted += o.Reverted
}
