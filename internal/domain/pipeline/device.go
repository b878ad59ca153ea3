package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/dorsal/internal/domain/dedupe"
	"github.com/okian/dorsal/internal/domain/model"
	"github.com/okian/dorsal/internal/domain/timing"
	"github.com/okian/dorsal/pkg/logger"
	"github.com/okian/dorsal/pkg/metrics"
)

// Actions reported in the result of a processed device detection.
const (
	ActionSentToBuffer       = "sent_to_buffer"
	ActionNoParticipant      = "direct_detection_no_participant"
	ActionDuplicateIgnored   = "duplicate_ignored"
	ActionWithClassification = "detection_with_classification"
)

const (
	sourceDevice     = "device"
	deviceTypeMobile = "mobile"
	methodNativeApp  = "native_app"
)

// DeviceProcessor resolves detections uploaded by native device apps.
type DeviceProcessor struct {
	store   DeviceStore
	checker *dedupe.Checker
	engine  *timing.Engine
	logger  logger.Logger
}

// NewDeviceProcessor wires the processor over its collaborators.
func NewDeviceProcessor(store DeviceStore, checker *dedupe.Checker, engine *timing.Engine, opts ...Option) *DeviceProcessor {
	o := newOptions("device", opts)
	return &DeviceProcessor{store: store, checker: checker, engine: engine, logger: o.logger}
}

// ProcessPending claims and processes up to limit pending device detections.
func (p *DeviceProcessor) ProcessPending(ctx context.Context, limit int) (Summary, error) {
	var sum Summary
	pending, err := p.store.FetchPendingDeviceDetections(ctx, limit)
	if err != nil {
		return sum, fmt.Errorf("fetch pending device detections: %w", err)
	}

	var errs []error
	for i := range pending {
		d := &pending[i]
		ok, err := p.store.MarkDeviceDetectionProcessing(ctx, d.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: claim device detection %s: %w", ErrPersistence, d.ID, err))
			continue
		}
		if !ok {
			continue
		}
		sum.Claimed++

		result, err := p.Process(ctx, d)
		switch {
		case errors.Is(err, ErrPersistence):
			sum.Reverted++
			errs = append(errs, err)
			if merr := p.store.MarkDeviceDetection(context.WithoutCancel(ctx), d.ID, model.StatusPending, model.Result{"last_error": err.Error()}, ""); merr != nil {
				p.logger.Error(ctx, "revert device detection failed", logger.String("id", d.ID), logger.Error(merr))
				errs = append(errs, merr)
				continue
			}
			metrics.RecordCaptureReverted()
		case err != nil:
			sum.Errors++
			p.logger.Warn(ctx, "device detection rejected", logger.String("id", d.ID), logger.Error(err))
			if merr := p.store.MarkDeviceDetection(ctx, d.ID, model.StatusError, model.Result{"error": err.Error()}, err.Error()); merr != nil {
				errs = append(errs, fmt.Errorf("%w: %w", ErrPersistence, merr))
				continue
			}
			metrics.RecordCaptureTerminal(sourceDevice, string(model.StatusError))
		default:
			if merr := p.store.MarkDeviceDetection(ctx, d.ID, model.StatusProcessed, result, ""); merr != nil {
				// rows are written; a revert would process the upload again.
				sum.Errors++
				p.logger.Error(ctx, "mark device detection processed failed", logger.String("id", d.ID), logger.Error(merr))
				errs = append(errs, fmt.Errorf("%w: mark device detection %s: %w", ErrPersistence, d.ID, merr))
				continue
			}
			sum.Processed++
			metrics.RecordCaptureTerminal(sourceDevice, string(model.StatusProcessed))
		}
	}
	return sum, errors.Join(errs...)
}

// Process resolves one device detection and returns the result payload for
// a processed record. ErrDeviceNotRegistered and ErrEventNotActive reject the
// record; errors wrapping ErrPersistence leave it retryable.
func (p *DeviceProcessor) Process(ctx context.Context, d *model.DeviceDetection) (model.Result, error) {
	dev, err := p.store.GetCheckpointDeviceByAccessCode(ctx, d.AccessCode)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve device: %w", ErrPersistence, err)
	}
	if dev == nil {
		return nil, fmt.Errorf("%w: access code %q", ErrDeviceNotRegistered, d.AccessCode)
	}

	ev, err := p.store.GetEvent(ctx, dev.EventID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return nil, fmt.Errorf("%w: event %s does not exist", ErrEventNotActive, dev.EventID)
	case err != nil:
		return nil, fmt.Errorf("%w: load event: %w", ErrPersistence, err)
	case !ev.Active():
		return nil, fmt.Errorf("%w: event %s is %q", ErrEventNotActive, ev.ID, ev.Status)
	}

	capturedAt := d.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}

	if d.DecodedBib == nil {
		if d.ImageData == "" {
			return nil, ErrNoPayload
		}
		rec := &model.CaptureRecord{
			EventID:      dev.EventID,
			DeviceID:     dev.DeviceID,
			SessionID:    d.SessionID,
			ImageData:    d.ImageData,
			DisplayImage: d.DisplayImage,
			CapturedAt:   capturedAt,
			Geo:          d.Geo,
		}
		if err := p.store.InsertCapture(ctx, rec); err != nil {
			return nil, fmt.Errorf("%w: buffer capture: %w", ErrPersistence, err)
		}
		return model.Result{"action": ActionSentToBuffer, "capture_id": rec.ID}, nil
	}

	bib := *d.DecodedBib
	base := model.Result{
		"number":           bib,
		"checkpoint_order": dev.CheckpointOrder,
		"checkpoint_name":  dev.CheckpointName,
	}

	det := &model.Detection{
		EventID:         dev.EventID,
		Bib:             bib,
		DeviceID:        dev.DeviceID,
		SessionID:       d.SessionID,
		DeviceType:      deviceTypeMobile,
		CheckpointOrder: dev.CheckpointOrder,
		CheckpointTime:  capturedAt,
		Geo:             d.Geo,
		ProofImage:      firstNonEmpty(d.DisplayImage, d.ImageData),
		Method:          methodNativeApp,
	}

	registered, err := p.store.IsParticipant(ctx, dev.EventID, bib)
	if err != nil {
		return nil, fmt.Errorf("%w: participant lookup: %w", ErrPersistence, err)
	}
	if !registered {
		base["reason"] = "bib not registered for event"
		return p.detectionOnly(ctx, det, base, ActionNoParticipant)
	}

	dup, err := p.checker.IsDuplicate(ctx, bib, dev.EventID, dev.DeviceID, d.SessionID, dev.CheckpointOrder)
	if err != nil {
		return nil, fmt.Errorf("%w: dedup check: %w", ErrPersistence, err)
	}
	if dup {
		return p.detectionOnly(ctx, det, base, ActionDuplicateIgnored)
	}

	times, err := p.engine.Compute(ctx, dev.EventID, bib, dev.CheckpointOrder, capturedAt, dev.CheckpointType)
	if err != nil {
		return nil, fmt.Errorf("%w: timing: %w", ErrPersistence, err)
	}
	cls := &model.Classification{
		EventID:         dev.EventID,
		Bib:             bib,
		DeviceID:        dev.DeviceID,
		CheckpointOrder: dev.CheckpointOrder,
		CheckpointTime:  capturedAt,
		TotalTime:       times.Total,
		SplitTime:       times.Split,
	}
	err = p.store.RecordDetection(ctx, det, cls)
	switch {
	case errors.Is(err, model.ErrDuplicateClassification):
		metrics.RecordDuplicate(string(dedupe.LayerPersisted))
		return p.detectionOnly(ctx, det, base, ActionDuplicateIgnored)
	case err != nil:
		return nil, fmt.Errorf("%w: record detection: %w", ErrPersistence, err)
	}

	p.checker.Commit(ctx, dedupe.Query{
		EventID:         dev.EventID,
		DeviceID:        dev.DeviceID,
		SessionID:       d.SessionID,
		Bib:             bib,
		CheckpointOrder: dev.CheckpointOrder,
	}, det.ID)
	metrics.RecordDetection(det.Method)
	metrics.RecordClassification()

	base["action"] = ActionWithClassification
	base["detection_id"] = det.ID
	base["classification_id"] = cls.ID
	base["total_time"] = times.Total
	base["split_time"] = times.Split
	return base, nil
}

// detectionOnly stores det without a classification. It is the single write
// on these paths, so a failure leaves nothing behind for the retry.
func (p *DeviceProcessor) detectionOnly(ctx context.Context, det *model.Detection, base model.Result, action string) (model.Result, error) {
	if err := p.store.InsertDetection(ctx, det); err != nil {
		return nil, fmt.Errorf("%w: insert detection: %w", ErrPersistence, err)
	}
	metrics.RecordDetection(det.Method)
	base["action"] = action
	base["detection_id"] = det.ID
	return base, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
