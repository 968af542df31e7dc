package handler

import (
	"net/http"

	"github.com/pavelanni/eikenprep/internal/app"
)

type indexRequest struct {
	Index int `json:"index"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req app.StartRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.run(w, r, func(c *app.Controller) error { return c.Start(req) })
}

func (h *Handler) handleRetake(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(c *app.Controller) error { return c.Retake() })
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(c *app.Controller) error { return c.Cancel() })
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index  int `json:"index"`
		Option int `json:"option"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.run(w, r, func(c *app.Controller) error { return c.Answer(req.Index, req.Option) })
}

func (h *Handler) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.run(w, r, func(c *app.Controller) error { return c.Goto(req.Index) })
}

// handleRemake blocks until the replacement question is generated.
func (h *Handler) handleRemake(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.run(w, r, func(c *app.Controller) error {
		_, err := c.Remake(r.Context(), req.Index)
		return err
	})
}

func (h *Handler) handleFinish(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(c *app.Controller) error {
		_, err := c.Finish()
		return err
	})
}
