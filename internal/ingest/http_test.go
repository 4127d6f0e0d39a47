package ingest

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"marinealarm/internal/domain"
)

type captureSink struct {
	mu       sync.Mutex
	readings []domain.ReadingEvent
	statuses []domain.StatusEvent
	failWith error
}

func (s *captureSink) PushReading(event domain.ReadingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.readings = append(s.readings, event)
	return nil
}

func (s *captureSink) PushStatus(event domain.StatusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.statuses = append(s.statuses, event)
	return nil
}

func TestReadingsEndpointAcceptsValidPayload(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	handler := NewHTTPHandler(sink, 1<<20)

	body := `{"dt":1767268800000,"source_id":"temp-01","source_type":"sensor","value":101.5,"vessel_id":"mv-aurora"}`
	request := httptest.NewRequest(http.MethodPost, "/ingest/readings", strings.NewReader(body))
	recorder := httptest.NewRecorder()
	handler.Readings().ServeHTTP(recorder, request)

	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", recorder.Code)
	}
	if len(sink.readings) != 1 || sink.readings[0].SourceID != "temp-01" {
		t.Fatalf("expected one forwarded reading, got %+v", sink.readings)
	}
}

func TestStatusesEndpointAcceptsValidPayload(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	handler := NewHTTPHandler(sink, 1<<20)

	body := `{"dt":1767268800000,"engine_id":"main-1","status":"failure","vessel_id":"mv-aurora"}`
	request := httptest.NewRequest(http.MethodPost, "/ingest/status", strings.NewReader(body))
	recorder := httptest.NewRecorder()
	handler.Statuses().ServeHTTP(recorder, request)

	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", recorder.Code)
	}
	if len(sink.statuses) != 1 || sink.statuses[0].Status != "failure" {
		t.Fatalf("expected one forwarded status, got %+v", sink.statuses)
	}
}

func TestReadingsEndpointRejectsBadPayload(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	handler := NewHTTPHandler(sink, 1<<20)

	for _, body := range []string{`{`, `{"dt":0,"source_id":"s","source_type":"sensor","vessel_id":"v"}`} {
		request := httptest.NewRequest(http.MethodPost, "/ingest/readings", strings.NewReader(body))
		recorder := httptest.NewRecorder()
		handler.Readings().ServeHTTP(recorder, request)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %q, got %d", body, recorder.Code)
		}
	}
	if len(sink.readings) != 0 {
		t.Fatalf("expected nothing forwarded, got %+v", sink.readings)
	}
}

func TestReadingsEndpointRejectsNonPost(t *testing.T) {
	t.Parallel()

	handler := NewHTTPHandler(&captureSink{}, 1<<20)
	request := httptest.NewRequest(http.MethodGet, "/ingest/readings", nil)
	recorder := httptest.NewRecorder()
	handler.Readings().ServeHTTP(recorder, request)
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", recorder.Code)
	}
}

func TestReadingsEndpointReportsSinkFailure(t *testing.T) {
	t.Parallel()

	sink := &captureSink{failWith: errors.New("store down")}
	handler := NewHTTPHandler(sink, 1<<20)

	body := `{"dt":1767268800000,"source_id":"temp-01","source_type":"sensor","value":1,"vessel_id":"mv-aurora"}`
	request := httptest.NewRequest(http.MethodPost, "/ingest/readings", strings.NewReader(body))
	recorder := httptest.NewRecorder()
	handler.Readings().ServeHTTP(recorder, request)
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", recorder.Code)
	}
}

func TestReadingsEndpointEnforcesBodyLimit(t *testing.T) {
	t.Parallel()

	handler := NewHTTPHandler(&captureSink{}, 16)
	body := `{"dt":1767268800000,"source_id":"temp-01","source_type":"sensor","value":1,"vessel_id":"mv-aurora"}`
	request := httptest.NewRequest(http.MethodPost, "/ingest/readings", strings.NewReader(body))
	recorder := httptest.NewRecorder()
	handler.Readings().ServeHTTP(recorder, request)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", recorder.Code)
	}
}
