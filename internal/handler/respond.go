package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/pavelanni/eikenprep/internal/apperr"
	appI18n "github.com/pavelanni/eikenprep/internal/i18n"
)

const maxBodyBytes = 64 << 10

type errorBody struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// statusFor maps an error kind to the HTTP status returned for it.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuth:
		return http.StatusUnauthorized
	case apperr.KindPayment:
		return http.StatusPaymentRequired
	case apperr.KindEligibility:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalid, apperr.KindDiscarded:
		return http.StatusConflict
	case apperr.KindMalformed, apperr.KindContract, apperr.KindNetwork:
		return http.StatusBadGateway
	case apperr.KindTransient, apperr.KindConfig:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func localizedError(r *http.Request, err error) errorBody {
	return errorBody{
		Kind:    apperr.KindOf(err),
		Message: appI18n.Error(r.Context(), err),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := localizedError(r, err)
	status := statusFor(body.Kind)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "kind", body.Kind, "error", err)
	} else {
		slog.Debug("request rejected", "path", r.URL.Path, "kind", body.Kind, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: body})
}

// decode reads a JSON request body into v. An empty body leaves v unchanged.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validation("decode request", apperr.MsgBadRequest, err)
	}
	return nil
}

// requireJSON rejects state-changing requests that are not JSON. Cross-site
// JSON posts need a CORS preflight, granted only to configured origins.
func requireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		ct := r.Header.Get("Content-Type")
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			slog.Warn("rejected non-JSON request", "path", r.URL.Path, "content_type", ct)
			writeJSON(w, http.StatusUnsupportedMediaType, errorResponse{Error: errorBody{
				Kind:    apperr.KindValidation,
				Message: appI18n.T(r.Context(), apperr.MsgBadRequest),
			}})
			return
		}
		next.ServeHTTP(w, r)
	})
}
