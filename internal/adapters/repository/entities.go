package repository

import (
	"time"

	"github.com/okian/dorsal/internal/domain/model"
)

type captureRow struct {
	ID           string `gorm:"primaryKey;type:varchar(36)"`
	EventID      string `gorm:"type:varchar(64);not null;index:idx_capture_status_event,priority:2"`
	DeviceID     string `gorm:"type:varchar(64);not null"`
	SessionID    string `gorm:"type:varchar(64)"`
	ImageData    string `gorm:"type:longtext"`
	DisplayImage string `gorm:"type:varchar(1024)"`
	DecodedBib   *int
	CapturedAt   time.Time `gorm:"not null;index"`
	Latitude     *float64
	Longitude    *float64
	Accuracy     *float64
	Status       string       `gorm:"type:varchar(16);not null;index:idx_capture_status_event,priority:1"`
	Result       model.Result `gorm:"serializer:json"`
	ProcessedAt  *time.Time
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (captureRow) TableName() string { return "image_processing_buffer" }

type detectionRow struct {
	ID              string `gorm:"primaryKey;type:varchar(36)"`
	EventID         string `gorm:"type:varchar(64);not null;index:idx_det_event_bib_device,priority:1"`
	Bib             int    `gorm:"not null;index:idx_det_event_bib_device,priority:2"`
	DeviceID        string `gorm:"type:varchar(64);index:idx_det_event_bib_device,priority:3"`
	SessionID       string `gorm:"type:varchar(64)"`
	DeviceType      string `gorm:"type:varchar(32)"`
	CheckpointOrder int    `gorm:"not null"`
	CheckpointTime  time.Time
	Latitude        *float64
	Longitude       *float64
	Accuracy        *float64
	ProofImage      string    `gorm:"type:longtext"`
	Method          string    `gorm:"type:varchar(32)"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
}

func (detectionRow) TableName() string { return "detections" }

type classificationRow struct {
	ID              string    `gorm:"primaryKey;type:varchar(36)"`
	EventID         string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_cls_event_bib_order,priority:1"`
	Bib             int       `gorm:"not null;uniqueIndex:idx_cls_event_bib_order,priority:2"`
	CheckpointOrder int       `gorm:"not null;uniqueIndex:idx_cls_event_bib_order,priority:3"`
	DeviceID        string    `gorm:"type:varchar(64)"`
	CheckpointTime  time.Time `gorm:"not null"`
	DetectionID     string    `gorm:"type:varchar(36);index"`
	TotalTime       *int64
	SplitTime       *int64
	CreatedAt       time.Time `gorm:"autoCreateTime"`
}

func (classificationRow) TableName() string { return "classifications" }

type eventRow struct {
	ID                 string `gorm:"primaryKey;type:varchar(64)"`
	Name               string `gorm:"type:varchar(255)"`
	Status             string `gorm:"type:varchar(16);index"`
	EventType          string `gorm:"type:varchar(32)"`
	DistanceKm         float64
	UsesLaps           bool
	StartedAt          *time.Time
	AutoStartEnabled   bool `gorm:"index:idx_event_autostart,priority:1"`
	ScheduledStartTime *time.Time
	IsActive           bool    `gorm:"index:idx_event_autostart,priority:2"`
	Processor          string  `gorm:"type:varchar(32)"`
	MinConfidence      float64 `gorm:"column:min_confidence"`
	Speed              string  `gorm:"type:varchar(16)"`
	OpenAIModel        string  `gorm:"column:openai_model;type:varchar(64)"`
	GeminiModel        string  `gorm:"type:varchar(64)"`
}

func (eventRow) TableName() string { return "events" }

type checkpointDeviceRow struct {
	DeviceID        string `gorm:"primaryKey;type:varchar(64)"`
	EventID         string `gorm:"primaryKey;type:varchar(64)"`
	AccessCode      string `gorm:"type:varchar(64);index"`
	CheckpointOrder int    `gorm:"not null;default:1"`
	CheckpointName  string `gorm:"type:varchar(128)"`
	CheckpointType  string `gorm:"type:varchar(32)"`
}

func (checkpointDeviceRow) TableName() string { return "event_devices" }

type participantRow struct {
	EventID string `gorm:"primaryKey;type:varchar(64)"`
	Bib     int    `gorm:"primaryKey"`
	Name    string `gorm:"type:varchar(255)"`
}

func (participantRow) TableName() string { return "participants" }

type manualReviewRow struct {
	ID         string `gorm:"primaryKey;type:varchar(36)"`
	CaptureID  string `gorm:"type:varchar(36);uniqueIndex"`
	EventID    string `gorm:"type:varchar(64);index"`
	DeviceID   string `gorm:"type:varchar(64)"`
	SessionID  string `gorm:"type:varchar(64)"`
	CapturedAt time.Time
	Status     string    `gorm:"type:varchar(16)"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (manualReviewRow) TableName() string { return "manual_reviews" }

type costRow struct {
	ID           string   `gorm:"primaryKey;type:varchar(36)"`
	Service      string   `gorm:"type:varchar(32);index"`
	Model        string   `gorm:"type:varchar(64)"`
	EventID      string   `gorm:"type:varchar(64);index"`
	CaptureIDs   []string `gorm:"serializer:json"`
	BatchSize    int
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CostUSD      float64
	DurationMS   int64
	CreatedAt    time.Time
}

func (costRow) TableName() string { return "ai_cost_tracking" }

type deviceDetectionRow struct {
	ID           string `gorm:"primaryKey;type:varchar(36)"`
	AccessCode   string `gorm:"type:varchar(64);not null"`
	SessionID    string `gorm:"type:varchar(64)"`
	DecodedBib   *int
	ImageData    string `gorm:"type:longtext"`
	DisplayImage string `gorm:"type:varchar(1024)"`
	CapturedAt   time.Time
	Latitude     *float64
	Longitude    *float64
	Accuracy     *float64
	Status       string       `gorm:"type:varchar(16);index"`
	Result       model.Result `gorm:"serializer:json"`
	Error        string       `gorm:"type:text"`
	ProcessedAt  *time.Time
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

func (deviceDetectionRow) TableName() string { return "device_detections" }

func allEntities() []any {
	return []any{
		&captureRow{},
		&detectionRow{},
		&classificationRow{},
		&eventRow{},
		&checkpointDeviceRow{},
		&participantRow{},
		&manualReviewRow{},
		&costRow{},
		&deviceDetectionRow{},
	}
}

func geoColumns(g *model.Geo) (lat, lon, acc *float64) {
	if g == nil {
		return nil, nil, nil
	}
	return &g.Latitude, &g.Longitude, &g.Accuracy
}

func geoFrom(lat, lon, acc *float64) *model.Geo {
	if lat == nil || lon == nil {
		return nil
	}
	g := &model.Geo{Latitude: *lat, Longitude: *lon}
	if acc != nil {
		g.Accuracy = *acc
	}
	return g
}

func toCaptureRow(c *model.CaptureRecord) captureRow {
	lat, lon, acc := geoColumns(c.Geo)
	return captureRow{
		ID:           c.ID,
		EventID:      c.EventID,
		DeviceID:     c.DeviceID,
		SessionID:    c.SessionID,
		ImageData:    c.ImageData,
		DisplayImage: c.DisplayImage,
		DecodedBib:   c.DecodedBib,
		CapturedAt:   c.CapturedAt.UTC(),
		Latitude:     lat,
		Longitude:    lon,
		Accuracy:     acc,
		Status:       string(c.Status),
		Result:       c.Result,
		ProcessedAt:  c.ProcessedAt,
	}
}

func (r captureRow) toModel() model.CaptureRecord {
	return model.CaptureRecord{
		ID:           r.ID,
		EventID:      r.EventID,
		DeviceID:     r.DeviceID,
		SessionID:    r.SessionID,
		ImageData:    r.ImageData,
		DisplayImage: r.DisplayImage,
		DecodedBib:   r.DecodedBib,
		CapturedAt:   r.CapturedAt.UTC(),
		Geo:          geoFrom(r.Latitude, r.Longitude, r.Accuracy),
		Status:       model.Status(r.Status),
		Result:       r.Result,
		ProcessedAt:  r.ProcessedAt,
	}
}

func toDetectionRow(d *model.Detection) detectionRow {
	lat, lon, acc := geoColumns(d.Geo)
	return detectionRow{
		ID:              d.ID,
		EventID:         d.EventID,
		Bib:             d.Bib,
		DeviceID:        d.DeviceID,
		SessionID:       d.SessionID,
		DeviceType:      d.DeviceType,
		CheckpointOrder: d.CheckpointOrder,
		CheckpointTime:  d.CheckpointTime.UTC(),
		Latitude:        lat,
		Longitude:       lon,
		Accuracy:        acc,
		ProofImage:      d.ProofImage,
		Method:          d.Method,
	}
}

func (r detectionRow) toModel() model.Detection {
	return model.Detection{
		ID:              r.ID,
		EventID:         r.EventID,
		Bib:             r.Bib,
		DeviceID:        r.DeviceID,
		SessionID:       r.SessionID,
		DeviceType:      r.DeviceType,
		CheckpointOrder: r.CheckpointOrder,
		CheckpointTime:  r.CheckpointTime.UTC(),
		Geo:             geoFrom(r.Latitude, r.Longitude, r.Accuracy),
		ProofImage:      r.ProofImage,
		Method:          r.Method,
		CreatedAt:       r.CreatedAt,
	}
}

func toClassificationRow(c *model.Classification) classificationRow {
	return classificationRow{
		ID:              c.ID,
		EventID:         c.EventID,
		Bib:             c.Bib,
		CheckpointOrder: c.CheckpointOrder,
		DeviceID:        c.DeviceID,
		CheckpointTime:  c.CheckpointTime.UTC(),
		DetectionID:     c.DetectionID,
		TotalTime:       c.TotalTime,
		SplitTime:       c.SplitTime,
	}
}

func (r classificationRow) toModel() model.Classification {
	return model.Classification{
		ID:              r.ID,
		EventID:         r.EventID,
		Bib:             r.Bib,
		DeviceID:        r.DeviceID,
		CheckpointOrder: r.CheckpointOrder,
		CheckpointTime:  r.CheckpointTime.UTC(),
		DetectionID:     r.DetectionID,
		TotalTime:       r.TotalTime,
		SplitTime:       r.SplitTime,
		CreatedAt:       r.CreatedAt,
	}
}

func toEventRow(e *model.Event) eventRow {
	return eventRow{
		ID:                 e.ID,
		Name:               e.Name,
		Status:             e.Status,
		EventType:          e.EventType,
		DistanceKm:         e.DistanceKm,
		UsesLaps:           e.UsesLaps,
		StartedAt:          utcPtr(e.StartedAt),
		AutoStartEnabled:   e.AutoStartEnabled,
		ScheduledStartTime: utcPtr(e.ScheduledStartTime),
		IsActive:           e.IsActive,
		Processor:          e.Recognition.Processor,
		MinConfidence:      e.Recognition.MinConfidence,
		Speed:              e.Recognition.Speed,
		OpenAIModel:        e.Recognition.OpenAIModel,
		GeminiModel:        e.Recognition.GeminiModel,
	}
}

func (r eventRow) toModel() model.Event {
	return model.Event{
		ID:                 r.ID,
		Name:               r.Name,
		Status:             r.Status,
		EventType:          r.EventType,
		DistanceKm:         r.DistanceKm,
		UsesLaps:           r.UsesLaps,
		StartedAt:          utcPtr(r.StartedAt),
		AutoStartEnabled:   r.AutoStartEnabled,
		ScheduledStartTime: utcPtr(r.ScheduledStartTime),
		IsActive:           r.IsActive,
		Recognition: model.EventRecognition{
			Processor:     r.Processor,
			MinConfidence: r.MinConfidence,
			Speed:         r.Speed,
			OpenAIModel:   r.OpenAIModel,
			GeminiModel:   r.GeminiModel,
		},
	}
}

func (r checkpointDeviceRow) toModel() model.CheckpointDevice {
	return model.CheckpointDevice{
		DeviceID:        r.DeviceID,
		EventID:         r.EventID,
		AccessCode:      r.AccessCode,
		CheckpointOrder: r.CheckpointOrder,
		CheckpointName:  r.CheckpointName,
		CheckpointType:  model.CheckpointType(r.CheckpointType),
	}
}

func toDeviceDetectionRow(d *model.DeviceDetection) deviceDetectionRow {
	lat, lon, acc := geoColumns(d.Geo)
	return deviceDetectionRow{
		ID:           d.ID,
		AccessCode:   d.AccessCode,
		SessionID:    d.SessionID,
		DecodedBib:   d.DecodedBib,
		ImageData:    d.ImageData,
		DisplayImage: d.DisplayImage,
		CapturedAt:   d.CapturedAt.UTC(),
		Latitude:     lat,
		Longitude:    lon,
		Accuracy:     acc,
		Status:       string(d.Status),
		Result:       d.Result,
		Error:        d.Error,
		ProcessedAt:  d.ProcessedAt,
	}
}

func (r deviceDetectionRow) toModel() model.DeviceDetection {
	return model.DeviceDetection{
		ID:           r.ID,
		AccessCode:   r.AccessCode,
		SessionID:    r.SessionID,
		DecodedBib:   r.DecodedBib,
		ImageData:    r.ImageData,
		DisplayImage: r.DisplayImage,
		CapturedAt:   r.CapturedAt.UTC(),
		Geo:          geoFrom(r.Latitude, r.Longitude, r.Accuracy),
		Status:       model.Status(r.Status),
		Result:       r.Result,
		Error:        r.Error,
		ProcessedAt:  r.ProcessedAt,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
