package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kilupskalvis/refbridge/internal/remote"
	"github.com/kilupskalvis/refbridge/internal/status"
)

const ndjsonContentType = "application/x-ndjson"

// unary adapts a single-response operation: the request is the JSON body,
// the reply one JSON object or an error response.
func unary[Req, Resp any](cfg *ServerConfig, logger *slog.Logger, fn func(context.Context, string, *Req) (*Resp, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if err := readJSON(r, cfg.MaxRequestBody, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}

		resp, err := fn(r.Context(), r.PathValue("repo"), &req)
		if err != nil {
			writeStatusError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// streaming adapts a streaming operation. Each chunk becomes one NDJSON
// line and is flushed as soon as it is sent. An error before the first
// chunk is an ordinary error response; a later one ends the stream with an
// error line.
func streaming[Req, Resp any](cfg *ServerConfig, logger *slog.Logger, fn func(context.Context, string, *Req, func(*Resp) error) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if err := readJSON(r, cfg.MaxRequestBody, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}

		rc := http.NewResponseController(w)
		enc := json.NewEncoder(w)
		started := false
		start := func() {
			if !started {
				w.Header().Set("Content-Type", ndjsonContentType)
				w.WriteHeader(http.StatusOK)
				started = true
			}
		}

		err := fn(r.Context(), r.PathValue("repo"), &req, func(resp *Resp) error {
			start()
			if err := enc.Encode(remote.StreamLine[Resp]{Result: resp}); err != nil {
				return err
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return err
			}
			return nil
		})
		if err == nil {
			start()
			return
		}
		if !started {
			writeStatusError(w, r, logger, err)
			return
		}

		logStatusError(r, logger, err)
		if encErr := enc.Encode(remote.StreamLine[Resp]{Error: errorResponse(err)}); encErr != nil {
			logger.Warn("write stream error line", "error", encErr, "method", r.Pattern)
		}
	}
}

// httpStatus maps a status code onto the HTTP status of an error response.
func httpStatus(code status.Code) int {
	switch code {
	case status.InvalidArgument:
		return http.StatusBadRequest
	case status.NotFound:
		return http.StatusNotFound
	case status.Unimplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func errorResponse(err error) *remote.ErrorResponse {
	se := status.FromError(err)
	return &remote.ErrorResponse{
		Error:   string(se.Code),
		Message: se.Message,
		Detail:  se.Detail,
	}
}

func writeStatusError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	logStatusError(r, logger, err)
	writeJSON(w, httpStatus(status.CodeOf(err)), errorResponse(err))
}

func logStatusError(r *http.Request, logger *slog.Logger, err error) {
	if status.CodeOf(err) != status.Internal {
		return
	}
	c := callFrom(r.Context())
	logger.Error("ref operation failed",
		"error", err,
		"ref_method", c.method,
		"repo", c.repo,
		"request_id", c.id,
	)
}
