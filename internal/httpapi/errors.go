package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"guildhall.org/internal/audit"
	"guildhall.org/internal/errs"
	"guildhall.org/internal/obs"
)

// Transport-level failures share the domain error shape.
var (
	errBadRequest   = errs.New(errs.Validation, "bad_request", "malformed request")
	errUnauthorized = errs.New(errs.Authorization, "unauthorized", "authentication required")
	errRateLimited  = errs.New(errs.Resource, "rate_limited", "rate limit exceeded")
	errDisabled     = errs.New(errs.NotFound, "not_found", "resource not found")
	errInternal     = errs.New(errs.Internal, "internal", "internal error")
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Category  string `json:"category"`
	RequestID string `json:"request_id,omitempty"`
}

func statusFor(cat errs.Category) int {
	switch cat {
	case errs.Validation:
		return http.StatusBadRequest
	case errs.Authorization:
		return http.StatusForbidden
	case errs.State:
		return http.StatusConflict
	case errs.Resource:
		return http.StatusUnprocessableEntity
	case errs.Concurrency:
		return http.StatusLocked
	case errs.NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, e *errs.Error, msg string) {
	if msg == "" {
		msg = e.Message
	}
	writeJSON(w, code, errorResponse{
		Error:     msg,
		Code:      e.Code,
		Category:  string(e.Category),
		RequestID: audit.RequestIDFromContext(r.Context()),
	})
}

// writeDomainError maps err to a status by category. Unstructured errors are
// logged and reported as internal without detail.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := errs.As(err)
	if !ok || e.Category == errs.Internal {
		obs.Logger().WithError(err).WithField("request_id", audit.RequestIDFromContext(r.Context())).Error("request failed")
		writeError(w, r, http.StatusInternalServerError, errInternal, "")
		return
	}
	writeError(w, r, statusFor(e.Category), e, err.Error())
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	writeError(w, r, http.StatusBadRequest, errBadRequest, msg)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit out of range")
	}
	return val, nil
}
