package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/okian/dorsal/internal/domain/dedupe"
	"github.com/okian/dorsal/internal/domain/model"
	"github.com/okian/dorsal/internal/domain/recognition"
	"github.com/okian/dorsal/internal/domain/timing"
	"github.com/okian/dorsal/pkg/logger"
	"github.com/okian/dorsal/pkg/metrics"
)

const (
	sourceBuffer     = "buffer"
	deviceTypeCamera = "camera"
	methodPreDecoded = "pre_decoded"
)

// Group is the pending work of one event together with its resolved config.
type Group struct {
	Config  model.EventConfig
	Records []model.CaptureRecord
}

// BufferProcessor drives capture records from pending to a terminal status.
type BufferProcessor struct {
	store   CaptureStore
	chain   *recognition.Chain
	checker *dedupe.Checker
	engine  *timing.Engine
	opts    options
	logger  logger.Logger
}

// NewBufferProcessor wires the processor over its collaborators.
func NewBufferProcessor(store CaptureStore, chain *recognition.Chain, checker *dedupe.Checker, engine *timing.Engine, opts ...Option) *BufferProcessor {
	o := newOptions("buffer", opts)
	return &BufferProcessor{
		store:   store,
		chain:   chain,
		checker: checker,
		engine:  engine,
		opts:    o,
		logger:  o.logger,
	}
}

// Fetch reads up to limit pending records and groups them by event in the
// order their events first appear. An event whose config cannot be resolved
// is skipped and its records stay pending.
func (p *BufferProcessor) Fetch(ctx context.Context, limit int) ([]Group, error) {
	recs, err := p.store.FetchPendingCaptures(ctx, "", limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending captures: %w", err)
	}

	var order []string
	byEvent := make(map[string][]model.CaptureRecord)
	for _, r := range recs {
		if _, ok := byEvent[r.EventID]; !ok {
			order = append(order, r.EventID)
		}
		byEvent[r.EventID] = append(byEvent[r.EventID], r)
	}

	groups := make([]Group, 0, len(order))
	for _, id := range order {
		cfg, err := p.store.GetEventConfig(ctx, id, p.opts.defaults)
		if err != nil {
			p.logger.Warn(ctx, "event config unavailable, leaving records pending",
				logger.String("event_id", id),
				logger.Int("records", len(byEvent[id])),
				logger.Error(err),
			)
			continue
		}
		groups = append(groups, Group{Config: cfg, Records: byEvent[id]})
	}
	return groups, nil
}

// sighting is a claimed record with its recognition result.
type sighting struct {
	rec    *model.CaptureRecord
	result recognition.Result
}

// groupRun carries the state of one ProcessGroup call.
type groupRun struct {
	p     *BufferProcessor
	cfg   model.EventConfig
	batch *dedupe.Batch
	sum   Summary
	errs  []error
}

// ProcessGroup processes the records of one event in capture order. Records
// already claimed elsewhere are skipped. Persistence failures revert the
// affected record to pending and are returned joined; every other
// record-level failure ends in a terminal status.
func (p *BufferProcessor) ProcessGroup(ctx context.Context, g Group) (Summary, error) {
	start := time.Now()
	run := &groupRun{p: p, cfg: g.Config, batch: dedupe.NewBatch()}

	recs := slices.Clone(g.Records)
	slices.SortStableFunc(recs, func(a, b model.CaptureRecord) int {
		return a.CapturedAt.Compare(b.CapturedAt)
	})

	claimed := make([]*model.CaptureRecord, 0, len(recs))
	for i := range recs {
		rec := &recs[i]
		ok, err := p.store.MarkProcessing(ctx, rec.ID)
		if err != nil {
			run.errs = append(run.errs, fmt.Errorf("%w: claim capture %s: %w", ErrPersistence, rec.ID, err))
			p.logger.Warn(ctx, "claim failed", logger.String("capture_id", rec.ID), logger.Error(err))
			continue
		}
		if !ok {
			p.logger.Debug(ctx, "capture already claimed", logger.String("capture_id", rec.ID))
			continue
		}
		claimed = append(claimed, rec)
	}
	run.sum.Claimed = len(claimed)
	if len(claimed) == 0 {
		return run.sum, errors.Join(run.errs...)
	}

	if g.Config.Manual() {
		for _, rec := range claimed {
			run.routeManual(ctx, rec)
		}
	} else {
		for _, s := range run.recognize(ctx, claimed) {
			run.accept(ctx, s)
		}
	}

	p.logger.Info(ctx, "event group processed",
		logger.String("event_id", g.Config.EventID),
		logger.String("processor", g.Config.Processor),
		logger.Int("claimed", run.sum.Claimed),
		logger.Int("processed", run.sum.Processed),
		logger.Int("discarded", run.sum.Discarded),
		logger.Int("manual", run.sum.Manual),
		logger.Int("errors", run.sum.Errors),
		logger.Int("reverted", run.sum.Reverted),
		logger.Duration("took", time.Since(start)),
	)
	return run.sum, errors.Join(run.errs...)
}

func (r *groupRun) routeManual(ctx context.Context, rec *model.CaptureRecord) {
	review := &model.ManualReview{
		CaptureID:  rec.ID,
		EventID:    rec.EventID,
		DeviceID:   rec.DeviceID,
		SessionID:  rec.SessionID,
		CapturedAt: rec.CapturedAt,
	}
	if err := r.p.store.InsertManualReview(ctx, review); err != nil {
		r.revert(ctx, rec, fmt.Errorf("manual review: %w", err))
		return
	}
	r.finish(ctx, rec, model.StatusManual, model.Result{
		"routed":    "manual_review",
		"review_id": review.ID,
	})
}

// recognize decodes the claimed records and runs the provider chain over the
// images. Records that cannot be recognized are finished here; the rest are
// returned in capture order.
func (r *groupRun) recognize(ctx context.Context, claimed []*model.CaptureRecord) []sighting {
	var (
		images  []recognition.Image
		pending []*model.CaptureRecord
		out     = make([]sighting, 0, len(claimed))
		slot    = make(map[string]int, len(claimed))
	)
	for _, rec := range claimed {
		switch {
		case rec.HasImage():
			img, err := recognition.DecodeImage(rec.ID, rec.ImageData)
			if err != nil {
				r.finish(ctx, rec, model.StatusError, model.Result{"error": err.Error()})
				continue
			}
			images = append(images, img)
			pending = append(pending, rec)
		case rec.DecodedBib != nil:
			slot[rec.ID] = len(out)
			out = append(out, sighting{rec: rec, result: recognition.Result{
				Found:      true,
				Bib:        *rec.DecodedBib,
				Confidence: 1,
				Provider:   methodPreDecoded,
			}})
		default:
			r.finish(ctx, rec, model.StatusError, model.Result{"error": ErrNoPayload.Error()})
		}
	}

	if len(images) > 0 {
		ids := make([]string, len(pending))
		for i, rec := range pending {
			ids[i] = rec.ID
		}
		plan := r.p.chain.Plan(r.cfg.Processor, r.p.opts.priority)
		outcome, err := r.p.chain.Run(ctx,
			plan,
			recognition.Request{Images: images, Config: r.cfg},
			recognition.CallMeta{EventID: r.cfg.EventID, CaptureIDs: ids},
		)
		switch {
		case err != nil && ctx.Err() != nil:
			for _, rec := range pending {
				r.revert(ctx, rec, fmt.Errorf("recognition interrupted: %w", err))
			}
		case err != nil:
			for _, rec := range pending {
				r.finish(ctx, rec, model.StatusError, model.Result{
					"error": err.Error(),
					"chain": plan,
				})
			}
		default:
			for i, rec := range pending {
				slot[rec.ID] = len(out)
				out = append(out, sighting{rec: rec, result: outcome.Results[i]})
			}
		}
	}

	// restore capture order across image and pre-decoded records
	ordered := make([]sighting, 0, len(out))
	for _, rec := range claimed {
		if i, ok := slot[rec.ID]; ok {
			ordered = append(ordered, out[i])
		}
	}
	return ordered
}

func (r *groupRun) accept(ctx context.Context, s sighting) {
	rec, res := s.rec, s.result
	if !res.Found {
		r.finish(ctx, rec, model.StatusProcessed, model.Result{
			"no_detection": true,
			"provider":     res.Provider,
		})
		return
	}
	if res.Confidence < r.cfg.MinConfidence {
		r.finish(ctx, rec, model.StatusProcessed, model.Result{
			"no_detection": true,
			"reason":       "low_confidence",
			"number":       res.Bib,
			"confidence":   res.Confidence,
			"provider":     res.Provider,
		})
		return
	}

	cp := model.DefaultCheckpoint(rec.DeviceID, rec.EventID)
	dev, err := r.p.store.GetCheckpointDevice(ctx, rec.DeviceID, rec.EventID)
	if err != nil {
		r.revert(ctx, rec, fmt.Errorf("checkpoint device: %w", err))
		return
	}
	if dev != nil {
		cp = *dev
	}

	q := dedupe.Query{
		EventID:         rec.EventID,
		DeviceID:        rec.DeviceID,
		SessionID:       rec.SessionID,
		Bib:             res.Bib,
		CheckpointOrder: cp.CheckpointOrder,
	}
	verdict, err := r.p.checker.Check(ctx, r.batch, rec.ID, q)
	if err != nil {
		r.revert(ctx, rec, fmt.Errorf("dedup check: %w", err))
		return
	}
	if verdict.Duplicate {
		r.finish(ctx, rec, model.StatusDiscarded, verdict.Result(res.Bib))
		return
	}

	times, err := r.p.engine.Compute(ctx, rec.EventID, res.Bib, cp.CheckpointOrder, rec.CapturedAt, cp.CheckpointType)
	if err != nil {
		r.p.checker.Release(ctx, q)
		r.revert(ctx, rec, fmt.Errorf("timing: %w", err))
		return
	}

	det := &model.Detection{
		EventID:         rec.EventID,
		Bib:             res.Bib,
		DeviceID:        rec.DeviceID,
		SessionID:       rec.SessionID,
		DeviceType:      deviceTypeCamera,
		CheckpointOrder: cp.CheckpointOrder,
		CheckpointTime:  rec.CapturedAt,
		Geo:             rec.Geo,
		ProofImage:      rec.ProofImage(),
		Method:          res.Provider,
	}
	cls := &model.Classification{
		EventID:         rec.EventID,
		Bib:             res.Bib,
		DeviceID:        rec.DeviceID,
		CheckpointOrder: cp.CheckpointOrder,
		CheckpointTime:  rec.CapturedAt,
		TotalTime:       times.Total,
		SplitTime:       times.Split,
	}
	err = r.p.store.RecordDetection(ctx, det, cls)
	switch {
	case errors.Is(err, model.ErrDuplicateClassification):
		r.p.checker.Release(ctx, q)
		v := dedupe.Verdict{Duplicate: true, Layer: dedupe.LayerPersisted}
		if existing, lerr := r.p.store.QueryExistingClassification(ctx, res.Bib, rec.EventID, cp.CheckpointOrder); lerr == nil && existing != nil {
			v.DuplicateOf = existing.DetectionID
			r.p.checker.Commit(ctx, q, existing.DetectionID)
		}
		metrics.RecordDuplicate(string(dedupe.LayerPersisted))
		r.finish(ctx, rec, model.StatusDiscarded, v.Result(res.Bib))
		return
	case err != nil:
		r.p.checker.Release(ctx, q)
		r.revert(ctx, rec, fmt.Errorf("record detection: %w", err))
		return
	}

	r.p.checker.Commit(ctx, q, det.ID)
	metrics.RecordDetection(det.Method)
	metrics.RecordClassification()
	r.finish(ctx, rec, model.StatusProcessed, model.Result{
		"number_detected":   res.Bib,
		"confidence":        res.Confidence,
		"provider":          res.Provider,
		"detection_id":      det.ID,
		"classification_id": cls.ID,
		"checkpoint_order":  cp.CheckpointOrder,
		"checkpoint_name":   cp.CheckpointName,
		"total_time":        times.Total,
		"split_time":        times.Split,
	})
}

// finish moves rec to a terminal status. A failed write reverts it instead.
func (r *groupRun) finish(ctx context.Context, rec *model.CaptureRecord, status model.Status, result model.Result) {
	if err := r.p.store.MarkTerminal(ctx, rec.ID, status, result); err != nil {
		r.revert(ctx, rec, fmt.Errorf("mark %s: %w", status, err))
		return
	}
	metrics.RecordCaptureTerminal(sourceBuffer, string(status))
	switch status {
	case model.StatusProcessed:
		r.sum.Processed++
	case model.StatusDiscarded:
		r.sum.Discarded++
	case model.StatusManual:
		r.sum.Manual++
	case model.StatusError:
		r.sum.Errors++
		r.p.logger.Warn(ctx, "capture failed",
			logger.String("capture_id", rec.ID),
			logger.Any("result", result),
		)
	}
}

// revert returns rec to pending and records cause as a persistence failure.
func (r *groupRun) revert(ctx context.Context, rec *model.CaptureRecord, cause error) {
	err := fmt.Errorf("%w: capture %s: %w", ErrPersistence, rec.ID, cause)
	r.sum.Reverted++
	if rerr := r.p.store.RevertToPending(context.WithoutCancel(ctx), rec.ID, cause.Error()); rerr != nil {
		r.p.logger.Error(ctx, "revert to pending failed, record stays processing",
			logger.String("capture_id", rec.ID),
			logger.Error(rerr),
		)
		err = errors.Join(err, rerr)
	} else {
		metrics.RecordCaptureReverted()
		r.p.logger.Warn(ctx, "capture reverted to pending",
			logger.String("capture_id", rec.ID),
			logger.Error(cause),
		)
	}
	metrics.RecordErrorByComponent("pipeline", "persistence")
	r.errs = append(r.errs, err)
}
