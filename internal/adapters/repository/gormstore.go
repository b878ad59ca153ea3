package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/okian/dorsal/internal/domain/model"
	"github.com/okian/dorsal/pkg/logger"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultSlowThreshold = 200 * time.Millisecond

// GormStore implements Store on a relational database through gorm.
type GormStore struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	logger logger.Logger
	now    func() time.Time
}

var _ Store = (*GormStore)(nil)

// Open connects to the database for driver and dsn.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*GormStore, error) {
	o := &openOptions{slowThreshold: defaultSlowThreshold, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logger.Get().Named("repository")
	}

	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newGormLog(o.logger, o.slowThreshold),
		TranslateError: true,
		NowFunc:        func() time.Time { return o.now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql handle: %w", err)
	}
	if driver == DriverSQLite {
		// One connection keeps ":memory:" databases shared and serializes writers.
		sqlDB.SetMaxOpenConns(1)
	}

	s := &GormStore{db: db, sqlDB: sqlDB, logger: o.logger, now: o.now}
	if o.autoMigrate {
		if err := db.WithContext(ctx).AutoMigrate(allEntities()...); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
	}
	s.logger.Info(ctx, "store opened", logger.String("driver", driver), logger.Bool("auto_migrate", o.autoMigrate))
	return s, nil
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	return s.sqlDB.Close()
}

func (s *GormStore) stamp() time.Time {
	return s.now().UTC()
}

// isUniqueViolation recognizes translated and raw duplicate-key errors.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}

func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("get %s %s: %w", what, id, err)
}

// Capture buffer.

func (s *GormStore) InsertCapture(ctx context.Context, rec *model.CaptureRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = model.StatusPending
	}
	if rec.CapturedAt.IsZero() {
		rec.CapturedAt = s.stamp()
	}
	row := toCaptureRow(rec)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert capture: %w", err)
	}
	return nil
}

func (s *GormStore) FetchPendingCaptures(ctx context.Context, eventID string, limit int) ([]model.CaptureRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	q := s.db.WithContext(ctx).Where("status = ?", string(model.StatusPending))
	if eventID != "" {
		q = q.Where("event_id = ?", eventID)
	}
	var rows []captureRow
	if err := q.Order("captured_at ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("fetch pending captures: %w", err)
	}
	out := make([]model.CaptureRecord, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *GormStore) MarkProcessing(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&captureRow{}).
		Where("id = ? AND status = ?", id, string(model.StatusPending)).
		Update("status", string(model.StatusProcessing))
	if res.Error != nil {
		return false, fmt.Errorf("mark capture %s processing: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) MarkTerminal(ctx context.Context, id string, status model.Status, result model.Result) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	now := s.stamp()
	return s.updateCapture(ctx, id, captureRow{Status: string(status), Result: result, ProcessedAt: &now})
}

func (s *GormStore) RevertToPending(ctx context.Context, id, reason string) error {
	return s.updateCapture(ctx, id, captureRow{
		Status: string(model.StatusPending),
		Result: model.Result{"last_error": reason},
	})
}

func (s *GormStore) updateCapture(ctx context.Context, id string, values captureRow) error {
	res := s.db.WithContext(ctx).Model(&captureRow{}).
		Where("id = ?", id).
		Select("status", "result", "processed_at").
		Updates(&values)
	if res.Error != nil {
		return fmt.Errorf("update capture %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("capture %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *GormStore) GetCapture(ctx context.Context, id string) (*model.CaptureRecord, error) {
	var row captureRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "capture", id)
	}
	rec := row.toModel()
	return &rec, nil
}

func (s *GormStore) CountCapturesByStatus(ctx context.Context) (map[model.Status]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := s.db.WithContext(ctx).Model(&captureRow{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count captures: %w", err)
	}
	out := make(map[model.Status]int64, len(rows))
	for _, r := range rows {
		out[model.Status(r.Status)] = r.N
	}
	return out, nil
}

// Detections and classifications.

func (s *GormStore) InsertDetection(ctx context.Context, det *model.Detection) error {
	return s.insertDetection(s.db.WithContext(ctx), det)
}

func (s *GormStore) insertDetection(tx *gorm.DB, det *model.Detection) error {
	if det.ID == "" {
		det.ID = uuid.NewString()
	}
	row := toDetectionRow(det)
	if err := tx.Create(&row).Error; err != nil {
		return fmt.Errorf("insert detection: %w", err)
	}
	det.CreatedAt = row.CreatedAt
	return nil
}

func (s *GormStore) insertClassification(tx *gorm.DB, cls *model.Classification) error {
	if cls.ID == "" {
		cls.ID = uuid.NewString()
	}
	row := toClassificationRow(cls)
	if err := tx.Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("bib %d at checkpoint %d of %s: %w", cls.Bib, cls.CheckpointOrder, cls.EventID, ErrDuplicateClassification)
		}
		return fmt.Errorf("insert classification: %w", err)
	}
	cls.CreatedAt = row.CreatedAt
	return nil
}

func (s *GormStore) RecordDetection(ctx context.Context, det *model.Detection, cls *model.Classification) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.insertDetection(tx, det); err != nil {
			return err
		}
		cls.DetectionID = det.ID
		return s.insertClassification(tx, cls)
	})
	if err != nil {
		det.ID, cls.ID, cls.DetectionID = "", "", ""
		return err
	}
	return nil
}

func (s *GormStore) QueryExistingDetection(ctx context.Context, bib int, eventID, deviceID string) (*model.Detection, error) {
	var rows []detectionRow
	err := s.db.WithContext(ctx).
		Where("event_id = ? AND bib = ? AND device_id = ?", eventID, bib, deviceID).
		Order("created_at ASC").Limit(1).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query detection: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	d := rows[0].toModel()
	return &d, nil
}

func (s *GormStore) ListDetections(ctx context.Context, eventID string) ([]model.Detection, error) {
	var rows []detectionRow
	if err := s.db.WithContext(ctx).Where("event_id = ?", eventID).Order("checkpoint_time ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list detections: %w", err)
	}
	out := make([]model.Detection, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *GormStore) InsertClassification(ctx context.Context, cls *model.Classification) error {
	return s.insertClassification(s.db.WithContext(ctx), cls)
}

func (s *GormStore) QueryExistingClassification(ctx context.Context, bib int, eventID string, checkpointOrder int) (*model.Classification, error) {
	var rows []classificationRow
	err := s.db.WithContext(ctx).
		Where("event_id = ? AND bib = ? AND checkpoint_order = ?", eventID, bib, checkpointOrder).
		Limit(1).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query classification: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	c := rows[0].toModel()
	return &c, nil
}

func (s *GormStore) PreviousCheckpointTime(ctx context.Context, eventID string, bib, checkpointOrder int) (*time.Time, error) {
	var rows []classificationRow
	err := s.db.WithContext(ctx).
		Where("event_id = ? AND bib = ? AND checkpoint_order < ?", eventID, bib, checkpointOrder).
		Order("checkpoint_order DESC").Limit(1).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("previous checkpoint: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	t := rows[0].CheckpointTime.UTC()
	return &t, nil
}

func (s *GormStore) ListClassifications(ctx context.Context, eventID string) ([]model.Classification, error) {
	var rows []classificationRow
	err := s.db.WithContext(ctx).Where("event_id = ?", eventID).
		Order("checkpoint_order ASC, bib ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list classifications: %w", err)
	}
	out := make([]model.Classification, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// Events.

func (s *GormStore) GetEvent(ctx context.Context, eventID string) (*model.Event, error) {
	var row eventRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", eventID).Error; err != nil {
		return nil, notFound(err, "event", eventID)
	}
	ev := row.toModel()
	return &ev, nil
}

func (s *GormStore) GetEventStartTime(ctx context.Context, eventID string) (*time.Time, error) {
	ev, err := s.GetEvent(ctx, eventID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ev.StartedAt, nil
}

func (s *GormStore) GetEventConfig(ctx context.Context, eventID string, base model.EventConfig) (model.EventConfig, error) {
	base.EventID = eventID
	ev, err := s.GetEvent(ctx, eventID)
	if errors.Is(err, ErrNotFound) {
		return base, nil
	}
	if err != nil {
		return base, err
	}
	return base.Merge(ev), nil
}

func (s *GormStore) UpsertEvent(ctx context.Context, ev *model.Event) error {
	row := toEventRow(ev)
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("save event %s: %w", ev.ID, err)
	}
	return nil
}

func (s *GormStore) StartDueEvents(ctx context.Context, now time.Time) ([]string, error) {
	now = now.UTC()
	var ids []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&eventRow{}).
			Where("auto_start_enabled = ? AND started_at IS NULL AND is_active = ?", true, false).
			Where("scheduled_start_time IS NOT NULL AND scheduled_start_time <= ?", now).
			Pluck("id", &ids).Error
		if err != nil || len(ids) == 0 {
			return err
		}
		return tx.Model(&eventRow{}).Where("id IN ?", ids).Updates(map[string]any{
			"started_at": now,
			"is_active":  true,
			"status":     model.EventStatusActive,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("start due events: %w", err)
	}
	return ids, nil
}

// Devices and participants.

func (s *GormStore) GetCheckpointDevice(ctx context.Context, deviceID, eventID string) (*model.CheckpointDevice, error) {
	return s.findDevice(ctx, "device_id = ? AND event_id = ?", deviceID, eventID)
}

func (s *GormStore) GetCheckpointDeviceByAccessCode(ctx context.Context, accessCode string) (*model.CheckpointDevice, error) {
	if accessCode == "" {
		return nil, nil
	}
	return s.findDevice(ctx, "access_code = ?", accessCode)
}

func (s *GormStore) findDevice(ctx context.Context, query string, args ...any) (*model.CheckpointDevice, error) {
	var rows []checkpointDeviceRow
	if err := s.db.WithContext(ctx).Where(query, args...).Limit(1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find checkpoint device: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	d := rows[0].toModel()
	return &d, nil
}

func (s *GormStore) MaxCheckpointOrder(ctx context.Context, eventID string) (int, error) {
	var maxOrder int
	err := s.db.WithContext(ctx).Model(&checkpointDeviceRow{}).
		Where("event_id = ?", eventID).
		Select("COALESCE(MAX(checkpoint_order), 0)").
		Scan(&maxOrder).Error
	if err != nil {
		return 0, fmt.Errorf("max checkpoint order: %w", err)
	}
	return maxOrder, nil
}

func (s *GormStore) UpsertCheckpointDevice(ctx context.Context, dev *model.CheckpointDevice) error {
	order := dev.CheckpointOrder
	if order <= 0 {
		order = 1
	}
	row := checkpointDeviceRow{
		DeviceID:        dev.DeviceID,
		EventID:         dev.EventID,
		AccessCode:      dev.AccessCode,
		CheckpointOrder: order,
		CheckpointName:  dev.CheckpointName,
		CheckpointType:  string(dev.CheckpointType),
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("save checkpoint device %s: %w", dev.DeviceID, err)
	}
	return nil
}

func (s *GormStore) IsParticipant(ctx context.Context, eventID string, bib int) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&participantRow{}).
		Where("event_id = ? AND bib = ?", eventID, bib).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("participant lookup: %w", err)
	}
	return n > 0, nil
}

func (s *GormStore) AddParticipant(ctx context.Context, p *model.Participant) error {
	row := participantRow{EventID: p.EventID, Bib: p.Bib, Name: p.Name}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("save participant %d: %w", p.Bib, err)
	}
	return nil
}

// Manual review and cost accounting.

func (s *GormStore) InsertManualReview(ctx context.Context, review *model.ManualReview) error {
	if review.ID == "" {
		review.ID = uuid.NewString()
	}
	if review.Status == "" {
		review.Status = string(model.StatusPending)
	}
	row := manualReviewRow{
		ID:         review.ID,
		CaptureID:  review.CaptureID,
		EventID:    review.EventID,
		DeviceID:   review.DeviceID,
		SessionID:  review.SessionID,
		CapturedAt: review.CapturedAt.UTC(),
		Status:     review.Status,
	}
	// A capture re-queued after a crash must not enter the queue twice.
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "capture_id"}}, DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("insert manual review: %w", err)
	}
	return nil
}

func (s *GormStore) InsertCostRecord(ctx context.Context, rec *model.CostRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.stamp()
	}
	row := costRow{
		ID:           rec.ID,
		Service:      rec.Service,
		Model:        rec.Model,
		EventID:      rec.EventID,
		CaptureIDs:   rec.CaptureIDs,
		BatchSize:    rec.BatchSize,
		InputTokens:  rec.InputTokens,
		OutputTokens: rec.OutputTokens,
		TotalTokens:  rec.TotalTokens,
		CostUSD:      rec.CostUSD,
		DurationMS:   rec.DurationMS,
		CreatedAt:    rec.CreatedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert cost record: %w", err)
	}
	return nil
}

// Device detections.

func (s *GormStore) InsertDeviceDetection(ctx context.Context, d *model.DeviceDetection) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = model.StatusPending
	}
	if d.CapturedAt.IsZero() {
		d.CapturedAt = s.stamp()
	}
	row := toDeviceDetectionRow(d)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert device detection: %w", err)
	}
	return nil
}

func (s *GormStore) FetchPendingDeviceDetections(ctx context.Context, limit int) ([]model.DeviceDetection, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	var rows []deviceDetectionRow
	err := s.db.WithContext(ctx).Where("status = ?", string(model.StatusPending)).
		Order("captured_at ASC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("fetch pending device detections: %w", err)
	}
	out := make([]model.DeviceDetection, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *GormStore) MarkDeviceDetectionProcessing(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&deviceDetectionRow{}).
		Where("id = ? AND status = ?", id, string(model.StatusPending)).
		Update("status", string(model.StatusProcessing))
	if res.Error != nil {
		return false, fmt.Errorf("mark device detection %s processing: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) MarkDeviceDetection(ctx context.Context, id string, status model.Status, result model.Result, errMsg string) error {
	values := deviceDetectionRow{Status: string(status), Result: result, Error: errMsg}
	if status.Terminal() {
		now := s.stamp()
		values.ProcessedAt = &now
	}
	res := s.db.WithContext(ctx).Model(&deviceDetectionRow{}).
		Where("id = ?", id).
		Select("status", "result", "error", "processed_at").
		Updates(&values)
	if res.Error != nil {
		return fmt.Errorf("update device detection %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("device detection %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *GormStore) GetDeviceDetection(ctx context.Context, id string) (*model.DeviceDetection, error) {
	var row deviceDetectionRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "device detection", id)
	}
	d := row.toModel()
	return &d, nil
}
