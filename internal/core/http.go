package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	// maxRequestBody caps the JSON body of a lab action.
	maxRequestBody = 1 << 20

	// RequestIDHeader carries the request id in both directions.
	RequestIDHeader = "X-Request-ID"

	// maxRequestIDLen bounds caller-supplied ids; longer ones are replaced.
	maxRequestIDLen = 128

	healthTimeout = 5 * time.Second
)

// LabHandler is the part of a Controller the HTTP boundary needs.
type LabHandler interface {
	Handle(ctx context.Context, req Request) Response
	Ping(ctx context.Context) error
}

// NewHTTPHandler returns the HTTP boundary of h:
//
//	POST /lab      run a lab action, body and response as Request/Response
//	POST /lab/     same as POST /lab
//	GET  /healthz  200 when the controller is ready and its index reachable
func NewHTTPHandler(h LabHandler) http.Handler {
	b := &boundary{h: h}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /lab", b.serveLab)
	mux.HandleFunc("POST /lab/{$}", b.serveLab)
	mux.HandleFunc("GET /healthz", b.serveHealth)
	return mux
}

type boundary struct {
	h LabHandler
}

func (b *boundary) serveLab(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(RequestIDHeader)
	if id == "" || len(id) > maxRequestIDLen {
		id = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, id)
	ctx := WithRequestID(r.Context(), id)

	req, err := decodeRequest(w, r)
	if err != nil {
		Logger().Debug("rejected request body", "request_id", id, "error", err)
		writeJSON(w, Response{
			Result:     ResultError,
			Message:    err.Error(),
			StatusCode: http.StatusBadRequest,
		})
		return
	}

	writeJSON(w, b.h.Handle(ctx, req))
}

// decodeRequest reads exactly one JSON object with only known fields. Its
// errors are caller-safe.
func decodeRequest(w http.ResponseWriter, r *http.Request) (Request, error) {
	var req Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return Request{}, fmt.Errorf("invalid request body: larger than %d bytes", tooLarge.Limit)
		}
		return Request{}, fmt.Errorf("invalid request body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Request{}, errors.New("invalid request body: must contain a single JSON object")
	}
	return req, nil
}

func (b *boundary) serveHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status := struct {
		Status string `json:"status"`
	}{Status: "ok"}
	code := http.StatusOK
	if err := b.h.Ping(ctx); err != nil {
		Logger().Warn("health check failed", "error", err)
		status.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	writeStatusJSON(w, code, status)
}

func writeJSON(w http.ResponseWriter, resp Response) {
	code := resp.StatusCode
	if code == 0 {
		code = http.StatusInternalServerError
	}
	writeStatusJSON(w, code, resp)
}

func writeStatusJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		Logger().Debug("failed to write response", "error", err)
	}
}
