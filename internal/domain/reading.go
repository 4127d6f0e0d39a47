package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// SourceTypeSensor marks readings produced by sensor polling.
	SourceTypeSensor = "sensor"
	// SourceTypeEngine marks readings and statuses produced by engines.
	SourceTypeEngine = "engine"
)

// ReadingEvent is one normalized sensor/equipment reading.
// Params: event timestamp in unix milliseconds, source identity, numeric
// value, and owning vessel.
// Returns: validated reading payload for rule evaluation.
type ReadingEvent struct {
	DT         int64   `json:"dt"`
	SourceID   string  `json:"source_id"`
	SourceType string  `json:"source_type"`
	Value      float64 `json:"value"`
	VesselID   string  `json:"vessel_id"`
}

// EventTime converts milliseconds unix timestamp into UTC time.
// Params: none.
// Returns: converted UTC time.
func (e ReadingEvent) EventTime() time.Time {
	return time.UnixMilli(e.DT).UTC()
}

// Validate validates one reading against the contract.
// Params: reading fields parsed from transport.
// Returns: validation error when schema is violated.
func (e ReadingEvent) Validate() error {
	if e.DT <= 0 {
		return errors.New("dt must be >0")
	}
	if strings.TrimSpace(e.SourceID) == "" {
		return errors.New("source_id is required")
	}
	if strings.TrimSpace(e.SourceType) == "" {
		return errors.New("source_type is required")
	}
	if strings.TrimSpace(e.VesselID) == "" {
		return errors.New("vessel_id is required")
	}
	return nil
}

// DecodeReading decodes and validates one reading payload.
// Params: JSON document bytes.
// Returns: validated reading or decode/validation error.
func DecodeReading(raw []byte) (ReadingEvent, error) {
	var event ReadingEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return ReadingEvent{}, fmt.Errorf("decode reading: %w", err)
	}
	if err := event.Validate(); err != nil {
		return ReadingEvent{}, err
	}
	return event, nil
}

// StatusEvent is one normalized equipment status report with metrics.
// Params: event timestamp in unix milliseconds, engine identity, status
// token, per-metric values, and owning vessel.
// Returns: validated status payload for rule evaluation.
type StatusEvent struct {
	DT       int64              `json:"dt"`
	EngineID string             `json:"engine_id"`
	Status   string             `json:"status"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
	VesselID string             `json:"vessel_id"`
}

// EventTime converts milliseconds unix timestamp into UTC time.
// Params: none.
// Returns: converted UTC time.
func (e StatusEvent) EventTime() time.Time {
	return time.UnixMilli(e.DT).UTC()
}

// Validate validates one status event against the contract.
// Params: status fields parsed from transport.
// Returns: validation error when schema is violated.
func (e StatusEvent) Validate() error {
	if e.DT <= 0 {
		return errors.New("dt must be >0")
	}
	if strings.TrimSpace(e.EngineID) == "" {
		return errors.New("engine_id is required")
	}
	if strings.TrimSpace(e.Status) == "" {
		return errors.New("status is required")
	}
	if strings.TrimSpace(e.VesselID) == "" {
		return errors.New("vessel_id is required")
	}
	return nil
}

// DecodeStatus decodes and validates one status payload.
// Params: JSON document bytes.
// Returns: validated status event or decode/validation error.
func DecodeStatus(raw []byte) (StatusEvent, error) {
	var event StatusEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return StatusEvent{}, fmt.Errorf("decode status: %w", err)
	}
	if err := event.Validate(); err != nil {
		return StatusEvent{}, err
	}
	return event, nil
}

// Observation is one evaluation input derived from a reading or status.
// Params: source identity, numeric value with presence flag, and the raw
// status token for pattern rules.
// Returns: evaluator input shared across rule types.
type Observation struct {
	SourceID   string
	SourceType string
	VesselID   string
	Value      float64
	HasValue   bool
	Status     string
}
