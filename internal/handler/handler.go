// Package handler serves the JSON API the browser application talks to.
// Every request is bound to a device by a signed cookie and handled by that
// device's application controller.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/eikenprep/internal/app"
	appI18n "github.com/pavelanni/eikenprep/internal/i18n"
	"github.com/pavelanni/eikenprep/internal/metrics"
	"github.com/pavelanni/eikenprep/internal/model"
	"github.com/pavelanni/eikenprep/internal/session"
	"github.com/pavelanni/eikenprep/internal/store"
)

// Config holds the HTTP-level settings.
type Config struct {
	// Secret signs device cookies.
	Secret        []byte
	SecureCookies bool
	// SchoolPINHash guards the results export. Empty disables it.
	SchoolPINHash string
	// IdleTimeout is how long a device's controller stays in memory
	// without requests. Defaults to DefaultIdleTimeout.
	IdleTimeout time.Duration
}

// DefaultIdleTimeout is the controller idle timeout used when none is set.
const DefaultIdleTimeout = 2 * time.Hour

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store   *store.Store
	metrics *metrics.Metrics
	config  Config
	devices *registry
}

// New creates a new Handler.
func New(s *store.Store, m *metrics.Metrics, cfg Config, build ControllerFactory) (*Handler, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("handler: a cookie secret is required")
	}
	if build == nil {
		return nil, errors.New("handler: a controller factory is required")
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	return &Handler{store: s, metrics: m, config: cfg, devices: newRegistry(build)}, nil
}

// Close shuts down every device controller.
func (h *Handler) Close() {
	h.devices.closeAll()
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler())
	}
	r.With(h.requireSchoolPIN).Get("/admin/results", h.handleExportResults)

	r.Route("/api", func(r chi.Router) {
		r.Use(requireJSON)
		r.Use(h.requireDevice)

		r.Get("/state", h.handleState)
		r.Post("/login/home", h.handleLoginHome)
		r.Post("/login/school", h.handleLoginSchool)
		r.Post("/login/debug", h.handleLoginDebug)
		r.Post("/register", h.handleRegister)
		r.Post("/reset-password", h.handleResetPassword)
		r.Post("/logout", h.handleLogout)
		r.Post("/grade", h.handleGrade)
		r.Post("/view", h.handleView)
		r.Post("/preferences/dark-mode", h.handleDarkMode)
		r.Post("/shop/purchase", h.handlePurchase)

		r.Route("/exam", func(r chi.Router) {
			r.Post("/start", h.handleStart)
			r.Post("/retake", h.handleRetake)
			r.Post("/cancel", h.handleCancel)
			r.Post("/answer", h.handleAnswer)
			r.Post("/navigate", h.handleNavigate)
			r.Post("/remake", h.handleRemake)
			r.Post("/finish", h.handleFinish)
		})
	})
}

// stateResponse is the controller snapshot plus the localized texts the
// page shows for it.
type stateResponse struct {
	app.State
	Status  string     `json:"status,omitempty"`
	Message string     `json:"message,omitempty"`
	Notice  *errorBody `json:"notice,omitempty"`
}

func (h *Handler) respondState(w http.ResponseWriter, r *http.Request, message string) {
	ctrl := controllerFrom(r.Context())
	resp := stateResponse{
		State:   ctrl.Snapshot(),
		Message: message,
	}
	resp.Status = statusLine(r.Context(), resp.State)
	if err := ctrl.TakeNotice(); err != nil {
		n := localizedError(r, err)
		resp.Notice = &n
	}
	writeJSON(w, http.StatusOK, resp)
}

func statusLine(ctx context.Context, st app.State) string {
	s := st.Session
	switch {
	case st.View == app.ViewGenerating && s != nil:
		return appI18n.Td(ctx, appI18n.MsgGeneratingSection, map[string]any{
			"Part":  partLabel(*s),
			"Ready": s.Assembled,
			"Total": s.Sections,
		})
	case st.View == app.ViewExam && s != nil:
		return appI18n.Tp(ctx, appI18n.MsgQuestionsLeft, max(len(s.Slots)-s.Answered, 0))
	case st.View == app.ViewResults && st.LastResult != nil:
		return appI18n.Td(ctx, appI18n.MsgScoreLine, map[string]any{
			"Score": st.LastResult.Score,
			"Total": st.LastResult.Total,
		})
	}
	return ""
}

// partLabel names the section being generated, "Part 2" for PART_2.
func partLabel(s session.View) string {
	sections, err := s.Plan.Sections()
	if err != nil || s.Assembled >= len(sections) {
		return ""
	}
	return strings.Replace(string(sections[s.Assembled]), "PART_", "Part ", 1)
}

// run executes a controller action and answers with the new state.
func (h *Handler) run(w http.ResponseWriter, r *http.Request, action func(*app.Controller) error) {
	if err := action(controllerFrom(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondState(w, r, "")
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "devices": h.devices.len()})
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	h.respondState(w, r, "")
}

func (h *Handler) handleLoginHome(w http.ResponseWriter, r *http.Request) {
	var f app.HomeLoginForm
	if err := decode(w, r, &f); err != nil {
		writeError(w, r, err)
		return
	}
	h.run(w, r, func(c *app.Controller) error { return c.LoginHome(r.Context(), f) })
}

func (h *Handler) handleLoginSchool(w http.ResponseWriter, r *http.Request) {
	var f app.SchoolLoginForm
	if err := decode(w, r, &f); err != nil {
		writeError(w, r, err)
		return
	}
	h.run(w, r, func(c *app.Controller) error { return c.LoginSchool(r.Context(), f) })
}

func (h *Handler) handleLoginDebug(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(c *app.Controller) error { return c.LoginDebug() })
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var f app.RegisterForm
	if err := decode(w, r, &f); err != nil {
		writeError(w, r, err)
		return
	}
	h.run(w, r, func(c *app.Controller) error { return c.Register(r.Context(), f) })
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var f app.ResetForm
	if err := decode(w, r, &f); err != nil {
		writeError(w, r, err)
		return
	}
	if err := controllerFrom(r.Context()).ResetPassword(r.Context(), f); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondState(w, r, appI18n.T(r.Context(), appI18n.MsgPasswordResetDone))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(c *app.Controller) error { return c.Logout() })
}

func (h *Handler) handleGrade(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Grade model.Grade `json:"grade"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.run(w, r, func(c *app.Controller) error { return c.SelectGrade(req.Grade) })
}

func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	var req struct {
		View app.View `json:"view"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.run(w, r, func(c *app.Controller) error { return c.Navigate(req.View) })
}

func (h *Handler) handleDarkMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.run(w, r, func(c *app.Controller) error { return c.SetDarkMode(req.Enabled) })
}

func (h *Handler) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var f app.PurchaseForm
	if err := decode(w, r, &f); err != nil {
		writeError(w, r, err)
		return
	}
	h.run(w, r, func(c *app.Controller) error { return c.Purchase(r.Context(), f) })
}
