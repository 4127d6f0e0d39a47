package domain

import (
	"testing"
	"time"
)

func TestDecodeReading(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"dt":1767268800000,"source_id":"temp-01","source_type":"sensor","value":98.6,"vessel_id":"mv-aurora"}`)
	event, err := DecodeReading(payload)
	if err != nil {
		t.Fatalf("decode failed: %+v", err)
	}
	if event.SourceID != "temp-01" || event.Value != 98.6 {
		t.Fatalf("unexpected event %+v", event)
	}
	expected := time.UnixMilli(1767268800000).UTC()
	if !event.EventTime().Equal(expected) {
		t.Fatalf("expected event time %v, got %v", expected, event.EventTime())
	}
}

func TestDecodeReadingRejectsInvalid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		payload string
	}{
		{"broken json", `{"dt":`},
		{"missing dt", `{"source_id":"s","source_type":"sensor","vessel_id":"v"}`},
		{"missing source id", `{"dt":1,"source_type":"sensor","vessel_id":"v"}`},
		{"missing source type", `{"dt":1,"source_id":"s","vessel_id":"v"}`},
		{"missing vessel", `{"dt":1,"source_id":"s","source_type":"sensor"}`},
	}
	for _, testCase := range cases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			if _, err := DecodeReading([]byte(testCase.payload)); err == nil {
				t.Fatalf("expected decode failure")
			}
		})
	}
}

func TestDecodeStatus(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"dt":1767268800000,"engine_id":"main-1","status":"running","metrics":{"rpm":1850,"oil_pressure":4.1},"vessel_id":"mv-aurora"}`)
	event, err := DecodeStatus(payload)
	if err != nil {
		t.Fatalf("decode failed: %+v", err)
	}
	if event.EngineID != "main-1" || event.Status != "running" {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.Metrics["rpm"] != 1850 {
		t.Fatalf("unexpected metrics %+v", event.Metrics)
	}
}

func TestDecodeStatusRejectsInvalid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		payload string
	}{
		{"missing engine id", `{"dt":1,"status":"running","vessel_id":"v"}`},
		{"missing status", `{"dt":1,"engine_id":"e","vessel_id":"v"}`},
		{"missing vessel", `{"dt":1,"engine_id":"e","status":"running"}`},
		{"zero dt", `{"dt":0,"engine_id":"e","status":"running","vessel_id":"v"}`},
	}
	for _, testCase := range cases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			if _, err := DecodeStatus([]byte(testCase.payload)); err == nil {
				t.Fatalf("expected decode failure")
			}
		})
	}
}

func TestSeverityRankOrdering(t *testing.T) {
	t.Parallel()

	if !(SeverityInfo.Rank() < SeverityWarning.Rank() && SeverityWarning.Rank() < SeverityCritical.Rank()) {
		t.Fatalf("expected info < warning < critical ordering")
	}
	if Severity("fatal").Rank() != -1 {
		t.Fatalf("expected unknown severity rank -1")
	}
	if Severity("fatal").Valid() {
		t.Fatalf("expected unknown severity invalid")
	}
}

func TestAlarmGroupOpenWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	group := AlarmGroup{WindowEnd: now.Add(time.Minute)}
	if !group.Open(now.Add(59 * time.Second)) {
		t.Fatalf("expected group open inside window")
	}
	if group.Open(now.Add(time.Minute)) {
		t.Fatalf("expected group closed at window end")
	}
}
