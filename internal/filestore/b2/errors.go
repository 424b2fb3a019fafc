package b2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/koustreak/pistas/internal/errs"
)

// apiError is the JSON body B2 returns with every non-2xx response.
type apiError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// mapError translates a transport-level failure (no HTTP response) into a *errs.Error.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}
	return errs.Wrap(errs.ErrKindRemoteUnavailable, msg, err)
}

// mapStatus translates a non-2xx B2 response into a *errs.Error carrying the
// HTTP status. It consumes, but does not close, the body.
func mapStatus(resp *http.Response, msg string) *errs.Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var apiErr apiError
	cause := fmt.Errorf("http %d", resp.StatusCode)
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != "" {
		cause = fmt.Errorf("http %d %s: %s", resp.StatusCode, apiErr.Code, apiErr.Message)
	}

	status := resp.StatusCode
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return errs.WrapStatus(errs.ErrKindAuth, status, msg, cause)
	case status == http.StatusNotFound:
		return errs.WrapStatus(errs.ErrKindNotFound, status, msg, cause)
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return errs.WrapStatus(errs.ErrKindRemoteUnavailable, status, msg, cause)
	case status == http.StatusBadRequest, status == http.StatusRequestedRangeNotSatisfiable:
		return errs.WrapStatus(errs.ErrKindInvalidInput, status, msg, cause)
	}
	return errs.WrapStatus(errs.ErrKindUnknown, status, msg, cause)
}
