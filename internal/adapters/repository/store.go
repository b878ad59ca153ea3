// Package repository persists the pipeline state: the capture buffer,
// detections, classifications and the event context they depend on.
package repository

import (
	"context"
	"time"

	"github.com/okian/dorsal/internal/domain/model"
)

// Store is the read/write contract the pipeline runs against.
type Store interface {
	// InsertCapture adds a pending record to the capture buffer.
	InsertCapture(ctx context.Context, rec *model.CaptureRecord) error
	// FetchPendingCaptures returns up to limit pending records ordered by
	// capture time. An empty eventID matches every event.
	FetchPendingCaptures(ctx context.Context, eventID string, limit int) ([]model.CaptureRecord, error)
	// MarkProcessing claims a pending record. It returns false when the record
	// is no longer pending.
	MarkProcessing(ctx context.Context, id string) (bool, error)
	// MarkTerminal sets a terminal status and the diagnostic payload.
	MarkTerminal(ctx context.Context, id string, status model.Status, result model.Result) error
	// RevertToPending hands a record back to the buffer after a failed write.
	RevertToPending(ctx context.Context, id, reason string) error
	GetCapture(ctx context.Context, id string) (*model.CaptureRecord, error)
	CountCapturesByStatus(ctx context.Context) (map[model.Status]int64, error)

	InsertDetection(ctx context.Context, det *model.Detection) error
	// RecordDetection writes a detection and its classification atomically.
	// A classification that already exists for (event, bib, checkpoint order)
	// rolls both back and returns model.ErrDuplicateClassification.
	RecordDetection(ctx context.Context, det *model.Detection, cls *model.Classification) error
	// QueryExistingDetection returns nil when the device has not seen bib.
	QueryExistingDetection(ctx context.Context, bib int, eventID, deviceID string) (*model.Detection, error)
	ListDetections(ctx context.Context, eventID string) ([]model.Detection, error)

	InsertClassification(ctx context.Context, cls *model.Classification) error
	// QueryExistingClassification returns nil when none exists.
	QueryExistingClassification(ctx context.Context, bib int, eventID string, checkpointOrder int) (*model.Classification, error)
	// PreviousCheckpointTime returns the latest crossing of bib before
	// checkpointOrder, or nil.
	PreviousCheckpointTime(ctx context.Context, eventID string, bib, checkpointOrder int) (*time.Time, error)
	ListClassifications(ctx context.Context, eventID string) ([]model.Classification, error)

	GetEvent(ctx context.Context, eventID string) (*model.Event, error)
	// GetEventStartTime returns nil while the event has not started or does
	// not exist.
	GetEventStartTime(ctx context.Context, eventID string) (*time.Time, error)
	// GetEventConfig overlays the event's stored settings on base.
	GetEventConfig(ctx context.Context, eventID string, base model.EventConfig) (model.EventConfig, error)
	UpsertEvent(ctx context.Context, ev *model.Event) error
	// StartDueEvents starts every auto-start event scheduled at or before now
	// and returns their ids.
	StartDueEvents(ctx context.Context, now time.Time) ([]string, error)

	// GetCheckpointDevice returns nil when the device is not mapped.
	GetCheckpointDevice(ctx context.Context, deviceID, eventID string) (*model.CheckpointDevice, error)
	// GetCheckpointDeviceByAccessCode returns nil for an unknown code.
	GetCheckpointDeviceByAccessCode(ctx context.Context, accessCode string) (*model.CheckpointDevice, error)
	MaxCheckpointOrder(ctx context.Context, eventID string) (int, error)
	UpsertCheckpointDevice(ctx context.Context, dev *model.CheckpointDevice) error

	IsParticipant(ctx context.Context, eventID string, bib int) (bool, error)
	AddParticipant(ctx context.Context, p *model.Participant) error

	InsertManualReview(ctx context.Context, review *model.ManualReview) error
	InsertCostRecord(ctx context.Context, rec *model.CostRecord) error

	InsertDeviceDetection(ctx context.Context, d *model.DeviceDetection) error
	FetchPendingDeviceDetections(ctx context.Context, limit int) ([]model.DeviceDetection, error)
	MarkDeviceDetectionProcessing(ctx context.Context, id string) (bool, error)
	MarkDeviceDetection(ctx context.Context, id string, status model.Status, result model.Result, errMsg string) error
	GetDeviceDetection(ctx context.Context, id string) (*model.DeviceDetection, error)

	Close() error
}
