// Package app is the application controller of one browser device. It owns
// the signed-in user, decides which view is shown, checks eligibility before
// any question is generated, and persists and syncs every state change.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/eikenprep/internal/apperr"
	"github.com/pavelanni/eikenprep/internal/clock"
	"github.com/pavelanni/eikenprep/internal/credential"
	"github.com/pavelanni/eikenprep/internal/gateway"
	"github.com/pavelanni/eikenprep/internal/metrics"
	"github.com/pavelanni/eikenprep/internal/model"
	"github.com/pavelanni/eikenprep/internal/progress"
	"github.com/pavelanni/eikenprep/internal/session"
)

// View is the screen the device shows.
type View string

const (
	ViewLogin          View = "login"
	ViewGradeSelection View = "grade-selection"
	ViewDashboard      View = "dashboard"
	ViewGenerating     View = "generating"
	ViewExam           View = "exam"
	ViewResults        View = "results"
	ViewShop           View = "shop"
)

// Starting balances.
const (
	NewHomeCredits = 3.0
	DebugCredits   = 99.0
)

// Backend is the account service. It is implemented by gateway.Client.
type Backend interface {
	Configured() bool
	Login(ctx context.Context, email, passwordDigest string) (model.User, error)
	SchoolLogin(ctx context.Context, studentName string) (model.User, error)
	Register(ctx context.Context, u model.User) (model.User, error)
	ResetPassword(ctx context.Context, r gateway.ResetRequest) error
	SyncState(ctx context.Context, u model.User, action string, extra map[string]any) (*model.User, error)
	Purchase(ctx context.Context, u model.User, action string, extra map[string]any) (model.User, error)
}

// LocalStore keeps the device's local state. It is implemented by store.Store.
type LocalStore interface {
	SaveUser(device string, u model.User) error
	LoadUser(device string) (*model.User, error)
	SetDarkMode(device string, on bool) error
	DarkMode(device string) (bool, error)
	ClearState(device string) error
	LogResult(device string, u model.User, r model.ExamResult) error
}

// Config carries the controller's collaborators and switches.
type Config struct {
	Generator session.Provider
	Backend   Backend
	Store     LocalStore
	Progress  *progress.Model
	Clock     clock.Clock
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// SchoolPINHash is the bcrypt hash of the school master PIN. Empty
	// disables school login.
	SchoolPINHash string
	AllowDebug    bool
	StrictFinish  bool
	SyncTimeout   time.Duration
}

// Controller drives one device. All methods are safe for concurrent use.
type Controller struct {
	device string
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	mu         sync.Mutex
	user       *model.User
	view       View
	grade      model.Grade
	darkMode   bool
	sess       *session.Session
	lastPlan   *model.Plan
	lastResult *model.ExamResult
	notice     error
}

// New creates the controller for device and restores its local state.
func New(device string, cfg Config) (*Controller, error) {
	if cfg.Generator == nil || cfg.Backend == nil || cfg.Store == nil {
		return nil, errors.New("app: generator, backend and store are required")
	}
	if cfg.Progress == nil {
		cfg.Progress = progress.New(progress.DefaultRules(), nil)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		device: device,
		cfg:    cfg,
		logger: logger.With("device", device),
		ctx:    ctx,
		cancel: cancel,
		view:   ViewLogin,
	}

	u, err := cfg.Store.LoadUser(device)
	if err != nil {
		c.logger.Warn("failed to load stored user", "error", err)
	}
	if u != nil {
		c.user = u
		c.view = ViewGradeSelection
	}
	if dark, err := cfg.Store.DarkMode(device); err == nil {
		c.darkMode = dark
	}
	return c, nil
}

// Device returns the device id.
func (c *Controller) Device() string { return c.device }

// Close discards any running session and waits for background work.
func (c *Controller) Close() {
	c.mu.Lock()
	c.dropSessionLocked()
	c.mu.Unlock()
	c.cancel()
	c.bg.Wait()
}

// Wait blocks until background generation and sync calls have finished.
func (c *Controller) Wait() {
	c.bg.Wait()
}

func (c *Controller) now() time.Time {
	return c.cfg.Clock.Now()
}

// LoginHome signs in a home account against the backend.
func (c *Controller) LoginHome(ctx context.Context, f HomeLoginForm) error {
	const op = "home login"
	if err := check(op, f); err != nil {
		return err
	}
	u, err := c.cfg.Backend.Login(ctx, strings.TrimSpace(f.Email), credential.Digest(f.Password))
	if err != nil {
		return err
	}
	if u.Kind == "" {
		u.Kind = model.AccountHome
	}
	c.signIn(u)
	return nil
}

// LoginSchool checks the school PIN and fetches the student's record.
func (c *Controller) LoginSchool(ctx context.Context, f SchoolLoginForm) error {
	const op = "school login"
	if err := check(op, f); err != nil {
		return err
	}
	if c.cfg.SchoolPINHash == "" {
		return apperr.Config(op, apperr.MsgSchoolNotConfigured, errors.New("no school PIN configured"))
	}
	if !credential.CheckPIN(c.cfg.SchoolPINHash, f.PIN) {
		return apperr.Auth(op, apperr.MsgInvalidPIN, nil)
	}
	u, err := c.cfg.Backend.SchoolLogin(ctx, strings.TrimSpace(f.StudentName))
	if err != nil {
		return err
	}
	if u.Kind == "" {
		u.Kind = model.AccountSchool
	}
	c.signIn(u)
	return nil
}

// LoginDebug signs in a local test account with unlimited use.
func (c *Controller) LoginDebug() error {
	if !c.cfg.AllowDebug {
		return apperr.Auth("debug login", apperr.MsgDebugDisabled, nil)
	}
	c.signIn(model.User{
		ID:      "debug_" + uuid.NewString(),
		Name:    "Debug User",
		Kind:    model.AccountDebug,
		Credits: DebugCredits,
	})
	return nil
}

// Register creates a home account and signs it in.
func (c *Controller) Register(ctx context.Context, f RegisterForm) error {
	const op = "register"
	if err := check(op, f); err != nil {
		return err
	}
	u := model.User{
		ID:                 fmt.Sprintf("home_%d", c.now().UnixMilli()),
		Name:               strings.TrimSpace(f.StudentName),
		StudentFurigana:    strings.TrimSpace(f.StudentFurigana),
		Kind:               model.AccountHome,
		BarcodeNumber:      strings.TrimSpace(f.BarcodeNumber),
		ParentEmail:        strings.TrimSpace(f.Email),
		ParentNameKanji:    strings.TrimSpace(f.ParentNameKanji),
		ParentNameFurigana: strings.TrimSpace(f.ParentNameFurigana),
		HashedPassword:     credential.Digest(f.Password),
		Credits:            NewHomeCredits,
		History:            []model.ExamResult{},
		Badges:             []model.Badge{},
	}
	registered, err := c.cfg.Backend.Register(ctx, u)
	if err != nil {
		return err
	}
	if registered.Kind == "" {
		registered.Kind = model.AccountHome
	}
	c.signIn(registered)
	return nil
}

// ResetPassword replaces a home account password. The user stays signed out.
func (c *Controller) ResetPassword(ctx context.Context, f ResetForm) error {
	const op = "reset password"
	if err := check(op, f); err != nil {
		return err
	}
	return c.cfg.Backend.ResetPassword(ctx, gateway.ResetRequest{
		Email:         strings.TrimSpace(f.Email),
		BarcodeNumber: strings.TrimSpace(f.BarcodeNumber),
		StudentName:   strings.TrimSpace(f.StudentName),
		NewDigest:     credential.Digest(f.Password),
	})
}

func (c *Controller) signIn(u model.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropSessionLocked()
	c.user = &u
	c.lastPlan = nil
	c.lastResult = nil
	c.notice = nil
	c.view = ViewGradeSelection
	c.persistLocked()
	c.logger.Info("signed in", "user", u.ID, "kind", u.EffectiveKind())
}

// Logout forgets the user and all local state of the device except the
// dark mode preference.
func (c *Controller) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropSessionLocked()
	c.user = nil
	c.lastPlan = nil
	c.lastResult = nil
	c.notice = nil
	c.view = ViewLogin
	if err := c.cfg.Store.ClearState(c.device); err != nil {
		return fmt.Errorf("clear local state: %w", err)
	}
	if c.darkMode {
		if err := c.cfg.Store.SetDarkMode(c.device, true); err != nil {
			c.logger.Warn("failed to keep dark mode", "error", err)
		}
	}
	return nil
}

// SetDarkMode stores the display preference.
func (c *Controller) SetDarkMode(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.darkMode = on
	return c.cfg.Store.SetDarkMode(c.device, on)
}

// SelectGrade picks the grade for the following sessions.
func (c *Controller) SelectGrade(g model.Grade) error {
	const op = "select grade"
	if _, err := model.SpecFor(g); err != nil {
		return apperr.Validation(op, apperr.MsgUnsupportedGrade, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return notLoggedIn(op)
	}
	c.dropSessionLocked()
	c.grade = g
	c.notice = nil
	c.view = ViewDashboard
	return nil
}

// Navigate switches to one of the freely reachable views. Leaving a running
// exam discards it without a result.
func (c *Controller) Navigate(v View) error {
	const op = "navigate"
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return notLoggedIn(op)
	}
	switch v {
	case ViewGradeSelection, ViewShop:
	case ViewDashboard:
		if c.grade == "" {
			return apperr.Invalid(op, errors.New("no grade selected"))
		}
	case ViewResults:
		if c.lastResult == nil {
			return apperr.Invalid(op, errors.New("no result to show"))
		}
	default:
		return apperr.New(apperr.KindInvalid, op, apperr.MsgInvalidView, fmt.Errorf("view %q is not reachable", v))
	}
	c.dropSessionLocked()
	c.notice = nil
	c.view = v
	return nil
}

// StartRequest describes the session the user asked for on the dashboard.
type StartRequest struct {
	Target  bool          `json:"isTargetPractice"`
	Section model.Section `json:"targetSection"`
	Theme   string        `json:"theme"`
}

// Start checks eligibility and begins assembling a new session in the
// background. The view switches to generating until it is ready.
func (c *Controller) Start(r StartRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.grade == "" {
		return apperr.Invalid("start exam", errors.New("no grade selected"))
	}
	plan := model.Plan{Grade: c.grade, Target: r.Target, Theme: strings.TrimSpace(r.Theme)}
	if r.Target {
		plan.Section = r.Section
	}
	return c.startLocked(plan)
}

// Retake starts another session of the last plan.
func (c *Controller) Retake() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastPlan == nil {
		return apperr.New(apperr.KindInvalid, "retake", apperr.MsgNothingToRetake, nil)
	}
	c.grade = c.lastPlan.Grade
	return c.startLocked(*c.lastPlan)
}

func (c *Controller) startLocked(plan model.Plan) error {
	const op = "start exam"
	if c.user == nil {
		return notLoggedIn(op)
	}
	if err := c.cfg.Progress.CheckStart(*c.user, plan, c.now()); err != nil {
		return err
	}

	c.dropSessionLocked()
	var sess *session.Session
	sess, err := session.New(uuid.NewString(), plan, c.cfg.Clock, session.Options{
		Strict:   c.cfg.StrictFinish,
		OnExpire: func(a model.Attempt) { c.complete(sess, a) },
		Logger:   c.logger,
	})
	if err != nil {
		return err
	}
	c.sess = sess
	c.lastPlan = &plan
	c.notice = nil
	c.view = ViewGenerating
	c.logger.Info("starting session", "session", sess.ID(), "grade", plan.Grade,
		"target", plan.Target, "section", plan.Section, "theme", plan.Theme)

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		c.assemble(sess)
	}()
	return nil
}

func (c *Controller) assemble(sess *session.Session) {
	err := sess.Assemble(c.ctx, c.cfg.Generator)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != sess {
		return
	}
	if err != nil {
		if apperr.Is(err, apperr.KindDiscarded) {
			return
		}
		c.logger.Error("session generation failed", "session", sess.ID(), "error", err)
		c.sess = nil
		c.notice = err
		c.view = ViewDashboard
		return
	}
	c.view = ViewExam
}

// Cancel abandons the running session. Nothing is recorded or charged.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return noSession("cancel")
	}
	c.dropSessionLocked()
	c.view = ViewDashboard
	return nil
}

func (c *Controller) dropSessionLocked() {
	if c.sess == nil {
		return
	}
	if err := c.sess.Discard(); err != nil {
		c.logger.Debug("discard session", "session", c.sess.ID(), "error", err)
	}
	c.sess = nil
}

func (c *Controller) activeSession(op string) (*session.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil, noSession(op)
	}
	return c.sess, nil
}

// Answer selects option for question index.
func (c *Controller) Answer(index, option int) error {
	sess, err := c.activeSession("answer")
	if err != nil {
		return err
	}
	return sess.Answer(index, option)
}

// Goto moves to question index.
func (c *Controller) Goto(index int) error {
	sess, err := c.activeSession("navigate")
	if err != nil {
		return err
	}
	return sess.Navigate(index)
}

// Remake replaces question index with a freshly generated one, subject to
// the daily remake cap.
func (c *Controller) Remake(ctx context.Context, index int) (model.Question, error) {
	const op = "remake"

	c.mu.Lock()
	if c.user == nil {
		c.mu.Unlock()
		return model.Question{}, notLoggedIn(op)
	}
	if c.sess == nil {
		c.mu.Unlock()
		return model.Question{}, noSession(op)
	}
	if err := c.cfg.Progress.CheckRemake(*c.user, c.now()); err != nil {
		c.mu.Unlock()
		return model.Question{}, err
	}
	sess, userID := c.sess, c.user.ID
	c.mu.Unlock()

	q, err := sess.Remake(ctx, index, c.cfg.Generator)
	if err != nil {
		return model.Question{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil || c.user.ID != userID {
		return q, nil
	}
	updated := c.cfg.Progress.RecordRemake(*c.user, c.now())
	c.user = &updated
	c.persistLocked()
	c.syncLocked("updateStats", nil)
	return q, nil
}

// Finish ends the running session on request and scores it.
func (c *Controller) Finish() (model.ExamResult, error) {
	sess, err := c.activeSession("finish")
	if err != nil {
		return model.ExamResult{}, err
	}
	a, err := sess.Finish()
	if err != nil {
		return model.ExamResult{}, err
	}
	return c.complete(sess, a)
}

// complete scores a finished attempt of sess and applies it to the user.
// It runs on the request goroutine for Finish and on the timer goroutine
// when the countdown expires.
func (c *Controller) complete(sess *session.Session, a model.Attempt) (model.ExamResult, error) {
	const op = "complete exam"

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != sess {
		c.logger.Info("dropping result of abandoned session", "session", a.ID)
		return model.ExamResult{}, noSession(op)
	}
	c.sess = nil
	if c.user == nil {
		c.view = ViewLogin
		return model.ExamResult{}, notLoggedIn(op)
	}

	result, updated, err := c.cfg.Progress.Score(a, *c.user, c.now())
	if err != nil {
		c.logger.Error("failed to score session", "session", a.ID, "error", err)
		c.notice = err
		c.view = ViewDashboard
		return model.ExamResult{}, err
	}

	c.user = &updated
	c.lastResult = &result
	c.view = ViewResults
	c.persistLocked()
	if err := c.cfg.Store.LogResult(c.device, updated, result); err != nil {
		c.logger.Warn("failed to log result", "session", a.ID, "error", err)
	}
	c.syncLocked("updateStats", nil)

	mode := "mock"
	if a.Plan.Target {
		mode = "target"
	}
	c.cfg.Metrics.ExamCompleted(string(a.Plan.Grade), mode, result.IsPassed)
	c.logger.Info("session completed", "session", a.ID, "score", result.Score,
		"total", result.Total, "passed", result.IsPassed, "badges", len(result.NewBadges),
		"credits", updated.Credits)
	return result, nil
}

// Purchase runs a shop action after verifying the parent's credentials with
// the backend. Debug accounts are topped up locally.
func (c *Controller) Purchase(ctx context.Context, f PurchaseForm) error {
	const op = "purchase"
	if err := check(op, f); err != nil {
		return err
	}
	action := progress.Purchase(f.Action)

	c.mu.Lock()
	if c.user == nil {
		c.mu.Unlock()
		return notLoggedIn(op)
	}
	u := c.user.Clone()
	c.mu.Unlock()

	if u.ParentEmail != "" && !strings.EqualFold(strings.TrimSpace(f.ParentEmail), u.ParentEmail) {
		c.cfg.Metrics.Purchase(string(action), "rejected")
		return apperr.Auth(op, apperr.MsgVerificationFailed, errors.New("email does not belong to this account"))
	}

	updated, err := c.cfg.Progress.ApplyPurchase(u, action)
	if err != nil {
		c.cfg.Metrics.Purchase(string(action), "rejected")
		return err
	}

	if u.EffectiveKind() != model.AccountDebug {
		if _, err := c.cfg.Backend.Login(ctx, strings.TrimSpace(f.ParentEmail), credential.Digest(f.Password)); err != nil {
			c.cfg.Metrics.Purchase(string(action), "rejected")
			if apperr.Is(err, apperr.KindAuth) {
				return apperr.Auth(op, apperr.MsgVerificationFailed, err)
			}
			return err
		}
		updated, err = c.cfg.Backend.Purchase(ctx, updated, string(action), c.purchaseDetails(action))
		if err != nil {
			c.cfg.Metrics.Purchase(string(action), "failed")
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil || c.user.ID != u.ID {
		return notLoggedIn(op)
	}
	c.user = &updated
	c.view = ViewDashboard
	c.notice = nil
	c.persistLocked()
	c.cfg.Metrics.Purchase(string(action), "ok")
	c.logger.Info("purchase completed", "user", u.ID, "action", action, "credits", updated.Credits)
	return nil
}

func (c *Controller) purchaseDetails(action progress.Purchase) map[string]any {
	rules := c.cfg.Progress.Rules()
	switch action {
	case progress.PurchaseCredits:
		return map[string]any{"amount": rules.CreditPack, "cost": 500, "notificationType": "purchase"}
	case progress.Subscribe:
		return map[string]any{"initial_bonus": rules.SubscriptionBonus, "cost_monthly": 1000, "notificationType": "subscription_start"}
	case progress.Unsubscribe:
		return map[string]any{"notificationType": "subscription_cancel"}
	}
	return nil
}

func (c *Controller) persistLocked() {
	if c.user == nil {
		return
	}
	if err := c.cfg.Store.SaveUser(c.device, *c.user); err != nil {
		c.logger.Warn("failed to save user locally", "user", c.user.ID, "error", err)
	}
}

// syncLocked mirrors the user to the backend without waiting. Failures are
// logged and never change local state.
func (c *Controller) syncLocked(action string, extra map[string]any) {
	if c.user == nil || !c.cfg.Backend.Configured() {
		return
	}
	u := c.user.Clone()
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.SyncTimeout)
		defer cancel()
		if _, err := c.cfg.Backend.SyncState(ctx, u, action, extra); err != nil {
			c.logger.Warn("state sync failed", "user", u.ID, "action", action, "error", err)
		}
	}()
}

func notLoggedIn(op string) error {
	return apperr.New(apperr.KindAuth, op, apperr.MsgNotLoggedIn, nil)
}

func noSession(op string) error {
	return apperr.New(apperr.KindInvalid, op, apperr.MsgNoSession, nil)
}
