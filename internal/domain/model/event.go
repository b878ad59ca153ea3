package model

import "time"

// EventStatusActive marks an event that accepts detections.
const EventStatusActive = "active"

// Event is read-only context for the pipeline.
type Event struct {
	ID                 string
	Name               string
	Status             string
	EventType          string
	DistanceKm         float64
	UsesLaps           bool
	StartedAt          *time.Time
	AutoStartEnabled   bool
	ScheduledStartTime *time.Time
	IsActive           bool
	Recognition        EventRecognition
}

// Active reports whether the event accepts detections.
func (e *Event) Active() bool {
	return e.Status == EventStatusActive
}

// EventRecognition holds the per-event overrides stored with the event.
// Zero values fall back to the service defaults.
type EventRecognition struct {
	Processor     string
	MinConfidence float64
	Speed         string
	OpenAIModel   string
	GeminiModel   string
}

// ProcessorManual routes captures to human review instead of recognition.
const ProcessorManual = "manual"

// EventConfig is the resolved recognition configuration for one event. It is
// passed explicitly through the processing call chain.
type EventConfig struct {
	EventID       string
	Processor     string
	MinConfidence float64
	Speed         string
	OpenAIModel   string
	GeminiModel   string
	DistanceKm    float64
}

// Manual reports whether captures of this event skip automatic recognition.
func (c EventConfig) Manual() bool {
	return c.Processor == ProcessorManual
}

// Merge overlays the event's stored overrides on c.
func (c EventConfig) Merge(ev *Event) EventConfig {
	if ev == nil {
		return c
	}
	c.EventID = ev.ID
	r := ev.Recognition
	if r.Processor != "" {
		c.Processor = r.Processor
	}
	if r.MinConfidence > 0 {
		c.MinConfidence = r.MinConfidence
	}
	if r.Speed != "" {
		c.Speed = r.Speed
	}
	if r.OpenAIModel != "" {
		c.OpenAIModel = r.OpenAIModel
	}
	if r.GeminiModel != "" {
		c.GeminiModel = r.GeminiModel
	}
	if ev.DistanceKm > 0 {
		c.DistanceKm = ev.DistanceKm
	}
	return c
}

// Participant is a registered bib of an event.
type Participant struct {
	EventID string
	Bib     int
	Name    string
}

// ManualReview is an entry of the human review queue.
type ManualReview struct {
	ID         string
	CaptureID  string
	EventID    string
	DeviceID   string
	SessionID  string
	CapturedAt time.Time
	Status     string
}

// CostRecord is the accounted usage of one recognition call.
type CostRecord struct {
	ID           string
	Service      string
	Model        string
	EventID      string
	CaptureIDs   []string
	BatchSize    int
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CostUSD      float64
	DurationMS   int64
	CreatedAt    time.Time
}
