package server

import (
	"encoding/json"
	"net/http"

	"github.com/koustreak/pistas/internal/errs"
	"github.com/koustreak/pistas/internal/logger"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps an error kind to the HTTP status returned to clients.
func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.ErrKindInvalidQuery, errs.ErrKindInvalidInput:
		return http.StatusBadRequest
	case errs.ErrKindNotFound:
		return http.StatusNotFound
	case errs.ErrKindAuth:
		return http.StatusBadGateway
	case errs.ErrKindRemoteUnavailable, errs.ErrKindCatalogUnavailable:
		return http.StatusServiceUnavailable
	case errs.ErrKindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err and writes it as a JSON error body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := logger.FromContext(r.Context())
	fields := map[string]interface{}{"status": status, "path": r.URL.Path}
	if status >= http.StatusInternalServerError || status == http.StatusBadGateway {
		log.ErrorWith("request failed", err, fields)
	} else {
		log.DebugWith("request rejected: "+err.Error(), fields)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}
