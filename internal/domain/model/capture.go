// Package model contains domain models passed between layers.
package model

import "time"

// Status is the lifecycle state of a capture record.
type Status string

// Capture statuses. Terminal: processed, error, discarded, manual.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusError      Status = "error"
	StatusDiscarded  Status = "discarded"
	StatusManual     Status = "manual"
)

// Terminal reports whether s ends the capture lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusProcessed, StatusError, StatusDiscarded, StatusManual:
		return true
	default:
		return false
	}
}

// Geo is an optional device position at capture time.
type Geo struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
}

// Result is the free-form diagnostic payload stored with a terminal record.
type Result map[string]any

// CaptureRecord is one pending unit of work in the ingestion buffer.
type CaptureRecord struct {
	ID           string
	EventID      string
	DeviceID     string
	SessionID    string
	ImageData    string // base64 or data URI; empty for pre-decoded records
	DisplayImage string
	DecodedBib   *int
	CapturedAt   time.Time
	Geo          *Geo
	Status       Status
	Result       Result
	ProcessedAt  *time.Time
}

// HasImage reports whether the record carries an image payload.
func (c *CaptureRecord) HasImage() bool {
	return c.ImageData != ""
}

// ProofImage returns the reference stored on the resulting detection.
func (c *CaptureRecord) ProofImage() string {
	if c.DisplayImage != "" {
		return c.DisplayImage
	}
	return c.ImageData
}

// DeviceDetection is a capture uploaded by a native device app. It may
// already carry a decoded bib number.
type DeviceDetection struct {
	ID           string
	AccessCode   string
	SessionID    string
	DecodedBib   *int
	ImageData    string
	DisplayImage string
	CapturedAt   time.Time
	Geo          *Geo
	Status       Status
	Result       Result
	Error        string
	ProcessedAt  *time.Time
}
