package model

import (
	"strings"
	"time"
)

// CheckpointType describes what a checkpoint measures.
type CheckpointType string

// Known checkpoint types.
const (
	CheckpointFinish        CheckpointType = "finish"
	CheckpointFinal         CheckpointType = "final"
	CheckpointIntermediate  CheckpointType = "intermediate"
	CheckpointLapCounter    CheckpointType = "lap_counter"
	CheckpointSwimFinish    CheckpointType = "swimming_finish"
	CheckpointCyclingFinish CheckpointType = "cycling_finish"
	CheckpointRunningFinish CheckpointType = "running_finish"
	CheckpointTiming        CheckpointType = "timing"
	CheckpointOther         CheckpointType = "other"
)

// IsFinish reports whether the type closes the race for total time.
// An empty type is treated as finish.
func (t CheckpointType) IsFinish() bool {
	switch CheckpointType(strings.ToLower(string(t))) {
	case "", CheckpointFinish, CheckpointFinal:
		return true
	default:
		return false
	}
}

// CheckpointDevice maps a device to a checkpoint of an event.
type CheckpointDevice struct {
	DeviceID        string
	EventID         string
	AccessCode      string
	CheckpointOrder int
	CheckpointName  string
	CheckpointType  CheckpointType
}

// DefaultCheckpoint is used on the recognition path when a device has no
// checkpoint mapping.
func DefaultCheckpoint(deviceID, eventID string) CheckpointDevice {
	return CheckpointDevice{
		DeviceID:        deviceID,
		EventID:         eventID,
		CheckpointOrder: 1,
		CheckpointType:  CheckpointFinish,
	}
}

// Detection records that a bib was seen at a checkpoint at a time.
type Detection struct {
	ID              string
	EventID         string
	Bib             int
	DeviceID        string
	SessionID       string
	DeviceType      string
	CheckpointOrder int
	CheckpointTime  time.Time
	Geo             *Geo
	ProofImage      string
	Method          string
	CreatedAt       time.Time
}

// Classification is the canonical timing record for (event, bib, checkpoint order).
type Classification struct {
	ID              string
	EventID         string
	Bib             int
	DeviceID        string
	CheckpointOrder int
	CheckpointTime  time.Time
	DetectionID     string
	TotalTime       *int64 // seconds
	SplitTime       *int64 // seconds
	CreatedAt       time.Time
}
