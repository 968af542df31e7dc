package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pavelanni/eikenprep/internal/app"
	"github.com/pavelanni/eikenprep/internal/store"
)

const (
	deviceCookieName = "eiken_device"
	tokenRefreshAge  = 24 * time.Hour
)

type ctxKey struct{}

// ControllerFactory builds the controller of a device.
type ControllerFactory func(device string) (*app.Controller, error)

type entry struct {
	ctrl     *app.Controller
	lastUsed time.Time
}

// registry keeps the controllers of recently active devices.
type registry struct {
	mu    sync.Mutex
	ctrls map[string]*entry
	build ControllerFactory
}

func newRegistry(build ControllerFactory) *registry {
	return &registry{ctrls: make(map[string]*entry), build: build}
}

func (reg *registry) get(device string) (*app.Controller, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if e, ok := reg.ctrls[device]; ok {
		e.lastUsed = time.Now()
		return e.ctrl, nil
	}
	c, err := reg.build(device)
	if err != nil {
		return nil, err
	}
	reg.ctrls[device] = &entry{ctrl: c, lastUsed: time.Now()}
	return c, nil
}

func (reg *registry) forget(device string) {
	reg.mu.Lock()
	e, ok := reg.ctrls[device]
	delete(reg.ctrls, device)
	reg.mu.Unlock()
	if ok {
		e.ctrl.Close()
	}
}

// evictIdle closes the controllers last used before cutoff. Their devices
// keep the stored state and get a new controller on the next request.
func (reg *registry) evictIdle(cutoff time.Time) int {
	reg.mu.Lock()
	var idle []*app.Controller
	for device, e := range reg.ctrls {
		if e.lastUsed.Before(cutoff) {
			idle = append(idle, e.ctrl)
			delete(reg.ctrls, device)
		}
	}
	reg.mu.Unlock()
	for _, c := range idle {
		c.Close()
	}
	return len(idle)
}

func (reg *registry) closeAll() {
	reg.mu.Lock()
	ctrls := reg.ctrls
	reg.ctrls = make(map[string]*entry)
	reg.mu.Unlock()
	for _, e := range ctrls {
		e.ctrl.Close()
	}
}

func (reg *registry) len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.ctrls)
}

// CleanupDevices removes expired devices from the store and closes their
// controllers, then closes the controllers idle since before now minus the
// idle timeout.
func (h *Handler) CleanupDevices(now time.Time) (removed, evicted int, err error) {
	ids, err := h.store.CleanupStaleDevices()
	for _, id := range ids {
		h.devices.forget(id)
	}
	evicted = h.devices.evictIdle(now.Add(-h.config.IdleTimeout))
	return len(ids), evicted, err
}

func controllerFrom(ctx context.Context) *app.Controller {
	c, _ := ctx.Value(ctxKey{}).(*app.Controller)
	return c
}

func (h *Handler) signDevice(device string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   device,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(store.DeviceTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.config.Secret)
}

func (h *Handler) parseDevice(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return h.config.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("device token has no subject")
	}
	return claims, nil
}

func (h *Handler) setDeviceCookie(w http.ResponseWriter, device string) error {
	now := time.Now()
	token, err := h.signDevice(device, now)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     deviceCookieName,
		Value:    token,
		Path:     "/",
		Expires:  now.Add(store.DeviceTTL),
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// knownDevice returns the device named by the request cookie if the token
// is valid and the device still exists.
func (h *Handler) knownDevice(r *http.Request) (string, *jwt.RegisteredClaims) {
	cookie, err := r.Cookie(deviceCookieName)
	if err != nil || cookie.Value == "" {
		return "", nil
	}
	claims, err := h.parseDevice(cookie.Value)
	if err != nil {
		slog.Debug("ignoring device cookie", "error", err)
		return "", nil
	}
	ok, err := h.store.TouchDevice(claims.Subject)
	if err != nil {
		slog.Error("failed to touch device", "device", claims.Subject, "error", err)
		return "", nil
	}
	if !ok {
		h.devices.forget(claims.Subject)
		return "", nil
	}
	return claims.Subject, claims
}

// requireDevice attaches the device's controller to the request, creating
// a device and its cookie on first contact. A first-contact read is served by
// a throwaway controller so that clients which never return hold no memory.
func (h *Handler) requireDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		device, claims := h.knownDevice(r)
		fresh := device == ""
		switch {
		case fresh:
			device = uuid.NewString()
			if err := h.store.CreateDevice(device); err != nil {
				writeError(w, r, err)
				return
			}
			slog.Info("new device", "device", device)
			fallthrough
		case claims != nil && claims.IssuedAt != nil && time.Since(claims.IssuedAt.Time) > tokenRefreshAge:
			if err := h.setDeviceCookie(w, device); err != nil {
				writeError(w, r, err)
				return
			}
		}

		var ctrl *app.Controller
		var err error
		if fresh && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
			ctrl, err = h.devices.build(device)
			if err == nil {
				defer ctrl.Close()
			}
		} else {
			ctrl, err = h.devices.get(device)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKey{}, ctrl)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
