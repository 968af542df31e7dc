package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/pavelanni/eikenprep/internal/apperr"
	"github.com/pavelanni/eikenprep/internal/credential"
)

const adminUser = "school"

// requireSchoolPIN admits requests authenticated with HTTP basic auth as
// user "school" and the school master PIN as password.
func (h *Handler) requireSchoolPIN(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.config.SchoolPINHash == "" {
			writeError(w, r, apperr.Config("export results", apperr.MsgSchoolNotConfigured, nil))
			return
		}
		user, pin, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(adminUser)) != 1 ||
			!credential.CheckPIN(h.config.SchoolPINHash, pin) {
			slog.Warn("rejected results export", "remote", r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", `Basic realm="eikenprep"`)
			writeError(w, r, apperr.Auth("export results", apperr.MsgInvalidPIN, nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleExportResults returns the local result log, optionally for one user.
func (h *Handler) handleExportResults(w http.ResponseWriter, r *http.Request) {
	exp, err := h.store.ExportResults(r.URL.Query().Get("user"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="results.json"`)
	writeJSON(w, http.StatusOK, exp)
}
