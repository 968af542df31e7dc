// Package session runs one exam attempt: it assembles questions section by
// section, keeps the answers and the countdown, and hands a finished attempt
// over for scoring.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/pavelanni/eikenprep/internal/apperr"
	"github.com/pavelanni/eikenprep/internal/clock"
	"github.com/pavelanni/eikenprep/internal/model"
)

// State is the lifecycle position of a session.
type State string

const (
	StateAssembling State = "assembling"
	StateActive     State = "active"
	StateCompleted  State = "completed"
	StateDiscarded  State = "discarded"
)

// Provider yields questions. It is implemented by the llm client.
type Provider interface {
	GenerateSection(ctx context.Context, grade model.Grade, section model.Section, theme string) ([]model.Slot, error)
	Remake(ctx context.Context, grade model.Grade, q model.Question, theme string) (model.Question, error)
}

// Options tune a session.
type Options struct {
	// Strict refuses a manual finish while questions are unanswered.
	Strict bool
	// OnExpire receives the attempt when the countdown ends the session.
	// It runs on the timer goroutine without any session lock held.
	OnExpire func(model.Attempt)
	Logger   *slog.Logger
}

// Session is one exam attempt. All methods are safe for concurrent use.
// Generation calls run without the lock held so snapshots and Discard stay
// responsive; their results are dropped if the session has moved on.
type Session struct {
	mu sync.Mutex

	id       string
	plan     model.Plan
	sections []model.Section
	expected int
	duration time.Duration
	clock    clock.Clock
	opts     Options
	logger   *slog.Logger

	state     State
	slots     []model.Slot
	answers   []int
	current   int
	assembled int // sections already generated
	remaking  map[int]bool
	startedAt time.Time
	deadline  time.Time
	timer     clock.Timer
}

// New creates a session in the assembling state.
func New(id string, plan model.Plan, clk clock.Clock, opts Options) (*Session, error) {
	sections, err := plan.Sections()
	if err != nil {
		if errors.Is(err, model.ErrUnsupportedSection) {
			return nil, apperr.Validation("new session", apperr.MsgUnsupportedSection, err)
		}
		return nil, apperr.Validation("new session", apperr.MsgUnsupportedGrade, err)
	}
	expected, _ := plan.ExpectedCount()
	spec, _ := model.SpecFor(plan.Grade)
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:       id,
		plan:     plan,
		sections: sections,
		expected: expected,
		duration: spec.Duration,
		clock:    clk,
		opts:     opts,
		logger:   logger.With("session", id),
		state:    StateAssembling,
		remaking: make(map[int]bool),
	}, nil
}

func (s *Session) ID() string { return s.id }
func (s *Session) Plan() model.Plan { return s.plan }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Assemble generates every section in exam order, one after the other, and
// starts the countdown once the full list is present. On failure the session
// is discarded.
func (s *Session) Assemble(ctx context.Context, p Provider) error {
	const op = "assemble session"

	for i, section := range s.sections {
		if err := s.checkState(op, StateAssembling); err != nil {
			return err
		}
		s.logger.Info("generating section", "section", section, "index", i)

		slots, err := p.GenerateSection(ctx, s.plan.Grade, section, s.plan.Theme)

		s.mu.Lock()
		if s.state != StateAssembling {
			s.mu.Unlock()
			s.logger.Info("dropping generation result for abandoned session", "section", section)
			return apperr.New(apperr.KindDiscarded, op, apperr.MsgSessionDiscarded, nil)
		}
		if err != nil {
			s.state = StateDiscarded
			s.mu.Unlock()
			return err
		}
		for _, slot := range slots {
			slot.Question.ID = len(s.slots)
			s.slots = append(s.slots, slot)
			s.answers = append(s.answers, model.NoAnswer)
		}
		s.assembled = i + 1
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAssembling {
		return apperr.New(apperr.KindDiscarded, op, apperr.MsgSessionDiscarded, nil)
	}
	if len(s.slots) != s.expected {
		s.state = StateDiscarded
		return apperr.New(apperr.KindContract, op, apperr.MsgShortBatch,
			fmt.Errorf("assembled %d of %d questions", len(s.slots), s.expected))
	}
	s.state = StateActive
	s.startedAt = s.clock.Now()
	s.deadline = s.startedAt.Add(s.duration)
	s.timer = s.clock.AfterFunc(s.duration, s.expire)
	return nil
}

func (s *Session) checkState(op string, want State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkStateLocked(op, want)
}

func (s *Session) checkStateLocked(op string, want State) error {
	if s.state == want {
		return nil
	}
	if s.state == StateDiscarded {
		return apperr.New(apperr.KindDiscarded, op, apperr.MsgSessionDiscarded, nil)
	}
	return apperr.Invalid(op, fmt.Errorf("session is %s, want %s", s.state, want))
}

// Answer records option for question index. NoAnswer clears it.
func (s *Session) Answer(index, option int) error {
	const op = "answer"

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkStateLocked(op, StateActive); err != nil {
		return err
	}
	if index < 0 || index >= len(s.slots) {
		return apperr.Invalid(op, fmt.Errorf("question %d out of range", index))
	}
	if option != model.NoAnswer && (option < 0 || option > 3) {
		return apperr.Invalid(op, fmt.Errorf("option %d out of range", option))
	}
	if !s.slots[index].Usable() {
		return apperr.New(apperr.KindInvalid, op, apperr.MsgNeedsRemake, errors.New(s.slots[index].Problem))
	}
	s.answers[index] = option
	s.current = index
	return nil
}

// Navigate moves the current question pointer.
func (s *Session) Navigate(index int) error {
	const op = "navigate"

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkStateLocked(op, StateActive); err != nil {
		return err
	}
	if index < 0 || index >= len(s.slots) {
		return apperr.Invalid(op, fmt.Errorf("question %d out of range", index))
	}
	s.current = index
	return nil
}

// Remake replaces question index in place with a fresh one from p. The
// answer given to the old question is cleared.
func (s *Session) Remake(ctx context.Context, index int, p Provider) (model.Question, error) {
	const op = "remake"

	s.mu.Lock()
	if err := s.checkStateLocked(op, StateActive); err != nil {
		s.mu.Unlock()
		return model.Question{}, err
	}
	if index < 0 || index >= len(s.slots) {
		s.mu.Unlock()
		return model.Question{}, apperr.Invalid(op, fmt.Errorf("question %d out of range", index))
	}
	if s.remaking[index] {
		s.mu.Unlock()
		return model.Question{}, apperr.New(apperr.KindInvalid, op, apperr.MsgRemakeInProgress, nil)
	}
	s.remaking[index] = true
	original := s.slots[index].Question
	s.mu.Unlock()

	q, err := p.Remake(ctx, s.plan.Grade, original, s.plan.Theme)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.remaking, index)
	if s.state != StateActive {
		return model.Question{}, s.checkStateLocked(op, StateActive)
	}
	if err != nil {
		return model.Question{}, err
	}
	q.ID = original.ID
	s.slots[index] = model.Slot{Question: q}
	s.answers[index] = model.NoAnswer
	return q, nil
}

// Finish completes the session on the user's request. With the Strict
// option every usable question must be answered first.
func (s *Session) Finish() (model.Attempt, error) {
	const op = "finish"

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkStateLocked(op, StateActive); err != nil {
		return model.Attempt{}, err
	}
	if s.opts.Strict && s.unansweredLocked() > 0 {
		return model.Attempt{}, apperr.New(apperr.KindInvalid, op, apperr.MsgUnanswered,
			fmt.Errorf("%d questions unanswered", s.unansweredLocked()))
	}
	return s.completeLocked(), nil
}

func (s *Session) expire() {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.logger.Info("time is up, submitting answers", "answered", len(s.slots)-s.unansweredLocked())
	a := s.completeLocked()
	s.mu.Unlock()

	if s.opts.OnExpire != nil {
		s.opts.OnExpire(a)
	}
}

func (s *Session) completeLocked() model.Attempt {
	s.stopTimerLocked()
	s.state = StateCompleted

	elapsed := min(s.clock.Now().Sub(s.startedAt), s.duration)
	return model.Attempt{
		ID:      s.id,
		Plan:    s.plan,
		Slots:   slices.Clone(s.slots),
		Answers: slices.Clone(s.answers),
		Elapsed: elapsed,
	}
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) unansweredLocked() int {
	n := 0
	for i, a := range s.answers {
		if a == model.NoAnswer && s.slots[i].Usable() {
			n++
		}
	}
	return n
}

// Discard abandons the session. Pending generation results will be dropped.
// Discarding a completed session is an error; discarding twice is not.
func (s *Session) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateCompleted:
		return apperr.Invalid("discard", errors.New("session already completed"))
	case StateDiscarded:
		return nil
	}
	s.stopTimerLocked()
	s.state = StateDiscarded
	return nil
}

// View is a point-in-time copy of a session for rendering.
type View struct {
	ID        string        `json:"id"`
	Plan      model.Plan    `json:"plan"`
	State     State         `json:"state"`
	Slots     []model.Slot  `json:"questions"`
	Answers   []int         `json:"answers"`
	Current   int           `json:"currentIndex"`
	Expected  int           `json:"expectedCount"`
	Sections  int           `json:"sections"`
	Assembled int           `json:"sectionsReady"`
	Remaining time.Duration `json:"-"`
	Seconds   int           `json:"remainingSeconds"`
	Answered  int           `json:"answeredCount"`
}

// Snapshot copies the session state.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ID:        s.id,
		Plan:      s.plan,
		State:     s.state,
		Slots:     slices.Clone(s.slots),
		Answers:   slices.Clone(s.answers),
		Current:   s.current,
		Expected:  s.expected,
		Sections:  len(s.sections),
		Assembled: s.assembled,
		Remaining: s.duration,
	}
	if s.state == StateActive {
		v.Remaining = max(s.deadline.Sub(s.clock.Now()), 0)
	} else if !s.startedAt.IsZero() {
		v.Remaining = 0
	}
	v.Seconds = int(v.Remaining / time.Second)
	for _, a := range s.answers {
		if a != model.NoAnswer {
			v.Answered++
		}
	}
	return v
}
