package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/giantswarm/labrunner/internal/orchestrator"
	"github.com/giantswarm/labrunner/internal/process"
)

// maxStderrDetail bounds the script stderr returned to callers. The tail
// is kept since tracebacks end there.
const maxStderrDetail = 4 << 10

// Result is the terminal classification of a request.
type Result string

const (
	ResultSuccess Result = "success"
	// ResultFailed means the task script itself reported failure.
	ResultFailed Result = "failed"
	ResultError  Result = "error"
)

// Response is the uniform payload returned for every request. Message
// never contains internal error chains.
type Response struct {
	Result     Result   `json:"result"`
	Message    string   `json:"message"`
	Details    *Details `json:"details,omitempty"`
	StatusCode int      `json:"status_code,omitempty"`
}

// Details carries per-resource outcomes on apply paths and script output
// on script failures.
type Details struct {
	Resources []orchestrator.Outcome `json:"resources,omitempty"`
	ExitCode  *int                   `json:"exit_code,omitempty"`
	Stderr    string                 `json:"stderr,omitempty"`
}

// failureClass maps an error in the chain to a response. An empty message
// uses the error text, reserved for errors whose text is caller-safe.
type failureClass struct {
	target  error
	result  Result
	status  int
	message string
}

// failureClasses is checked in order; the first match wins.
var failureClasses = []failureClass{
	{ErrInvalidRequest, ResultError, http.StatusBadRequest, ""},
	{ErrInvalidReference, ResultError, http.StatusBadRequest, "invalid template repository reference"},
	{ErrPathSecurityViolation, ResultError, http.StatusBadRequest, "script path escapes the template repository"},
	{ErrScriptNotFound, ResultError, http.StatusNotFound, "task script not found"},
	{ErrScriptTimeout, ResultError, http.StatusGatewayTimeout, "task script timed out"},
	{ErrScriptExecution, ResultFailed, http.StatusUnprocessableEntity, "task script failed"},
	{ErrMalformedOutput, ResultError, http.StatusBadGateway, "task script produced malformed resource output"},
	{ErrResourceConflict, ResultError, http.StatusConflict, "resource already exists"},
	{ErrClusterAPI, ResultError, http.StatusBadGateway, "cluster API request failed"},
	{ErrCloneFailure, ResultError, http.StatusServiceUnavailable, "template repository could not be cloned"},
	{ErrCacheUnavailable, ResultError, http.StatusServiceUnavailable, "repository cache unavailable"},
	{ErrShuttingDown, ResultError, http.StatusServiceUnavailable, "controller is shutting down"},
	{ErrNotInitialized, ResultError, http.StatusServiceUnavailable, "controller is not initialized"},
	{ErrConfig, ResultError, http.StatusInternalServerError, "controller is misconfigured"},
	{context.DeadlineExceeded, ResultError, http.StatusGatewayTimeout, "request deadline exceeded"},
	{context.Canceled, ResultError, http.StatusServiceUnavailable, "request canceled"},
}

// failureResponse classifies err. Unknown errors become a generic 500.
func failureResponse(err error) Response {
	for _, fc := range failureClasses {
		if !errors.Is(err, fc.target) {
			continue
		}
		msg := fc.message
		if msg == "" {
			msg = err.Error()
		}
		return Response{Result: fc.result, Message: msg, StatusCode: fc.status}
	}
	return Response{Result: ResultError, Message: "internal error", StatusCode: http.StatusInternalServerError}
}

// report collects what a pipeline run produced, including partial results
// of failed runs.
type report struct {
	outcomes []orchestrator.Outcome
	exitErr  *process.ExitError
}

// buildResponse renders the response for a finished pipeline.
func buildResponse(rep report, err error) Response {
	var resp Response
	if err == nil {
		summary := orchestrator.Summarize(rep.outcomes, nil)
		resp = Response{
			Result:     ResultSuccess,
			Message:    summary.String(),
			StatusCode: http.StatusOK,
		}
	} else {
		resp = failureResponse(err)
		if rep.exitErr != nil {
			resp.Message = fmt.Sprintf("task script exited with status %d", rep.exitErr.Code)
		}
	}

	var d Details
	if len(rep.outcomes) > 0 {
		d.Resources = rep.outcomes
	}
	if rep.exitErr != nil {
		code := rep.exitErr.Code
		d.ExitCode = &code
		d.Stderr = tail(rep.exitErr.Stderr, maxStderrDetail)
	}
	if d.Resources != nil || d.ExitCode != nil {
		resp.Details = &d
	}
	return resp
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}
