package ingest

import (
	"io"
	"net/http"

	"marinealarm/internal/domain"
)

// ReadingSink receives decoded readings and statuses from ingest interfaces.
// Params: validated event payloads.
// Returns: processing error.
type ReadingSink interface {
	PushReading(event domain.ReadingEvent) error
	PushStatus(event domain.StatusEvent) error
}

// HTTPHandler decodes JSON readings/statuses and forwards them to sink.
// Params: sink receives validated events, max body limits payload size.
// Returns: HTTP handlers for the ingest endpoints.
type HTTPHandler struct {
	sink        ReadingSink
	maxBodySize int64
}

// NewHTTPHandler creates the ingest HTTP handler.
// Params: sink and max request body size in bytes.
// Returns: configured handler.
func NewHTTPHandler(sink ReadingSink, maxBodySize int64) *HTTPHandler {
	return &HTTPHandler{sink: sink, maxBodySize: maxBodySize}
}

// Readings returns the handler for sensor reading submissions.
// Params: none.
// Returns: POST handler decoding one ReadingEvent per request.
func (h *HTTPHandler) Readings() http.Handler {
	return h.endpoint(func(body []byte) error {
		event, err := domain.DecodeReading(body)
		if err != nil {
			return errBadPayload
		}
		return h.sink.PushReading(event)
	})
}

// Statuses returns the handler for equipment status submissions.
// Params: none.
// Returns: POST handler decoding one StatusEvent per request.
func (h *HTTPHandler) Statuses() http.Handler {
	return h.endpoint(func(body []byte) error {
		event, err := domain.DecodeStatus(body)
		if err != nil {
			return errBadPayload
		}
		return h.sink.PushStatus(event)
	})
}

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const errBadPayload = sentinelError("bad payload")

// endpoint wraps one decode-and-push callback into an HTTP handler.
// Params: callback decoding the request body and pushing the event.
// Returns: handler writing status codes by decode/push result.
func (h *HTTPHandler) endpoint(handle func(body []byte) error) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPost {
			writer.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
		defer request.Body.Close()
		body, err := io.ReadAll(request.Body)
		if err != nil {
			writer.WriteHeader(http.StatusBadRequest)
			return
		}

		switch err := handle(body); err {
		case nil:
			writer.WriteHeader(http.StatusAccepted)
		case errBadPayload:
			writer.WriteHeader(http.StatusBadRequest)
		default:
			writer.WriteHeader(http.StatusServiceUnavailable)
		}
	})
}
