package app

import (
	"github.com/pavelanni/eikenprep/internal/model"
	"github.com/pavelanni/eikenprep/internal/session"
)

// Prices are the ticket costs shown on the dashboard and in the shop.
type Prices struct {
	Mock              float64 `json:"mock"`
	Target            float64 `json:"target"`
	CreditPack        float64 `json:"creditPack"`
	SubscriptionBonus float64 `json:"subscriptionBonus"`
	CreditCap         float64 `json:"creditCap"`
}

// State is a point-in-time copy of everything the device renders.
type State struct {
	View       View              `json:"view"`
	User       *model.User       `json:"user"`
	Grade      model.Grade       `json:"grade,omitempty"`
	DarkMode   bool              `json:"darkMode"`
	Session    *session.View     `json:"session,omitempty"`
	LastResult *model.ExamResult `json:"lastResult,omitempty"`
	CanRetake  bool              `json:"canRetake"`
	Prices     Prices            `json:"prices"`
	Grades     []model.Grade     `json:"grades"`
	AllowDebug bool              `json:"allowDebug"`

	// Notice is an error from background work, such as a failed
	// generation, that the device has not been shown yet.
	Notice error `json:"-"`
}

// Snapshot copies the controller state. The stored password digest never
// leaves the controller, and the answers and explanations of a running
// session stay hidden until its result is shown.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	rules := c.cfg.Progress.Rules()
	st := State{
		View:      c.view,
		Grade:     c.grade,
		DarkMode:  c.darkMode,
		CanRetake: c.lastPlan != nil,
		Prices: Prices{
			Mock:              rules.MockCost,
			Target:            rules.TargetCost,
			CreditPack:        rules.CreditPack,
			SubscriptionBonus: rules.SubscriptionBonus,
			CreditCap:         rules.CreditCap,
		},
		Grades:     model.SupportedGrades(),
		AllowDebug: c.cfg.AllowDebug,
		Notice:     c.notice,
	}
	if c.user != nil {
		u := c.user.Clone()
		u.HashedPassword = ""
		st.User = &u
	}
	if c.sess != nil {
		v := c.sess.Snapshot()
		hideAnswers(v.Slots)
		st.Session = &v
	}
	if c.lastResult != nil {
		r := *c.lastResult
		st.LastResult = &r
	}
	return st
}

// hideAnswers blanks the answer key of copied slots. CorrectAnswer is set to
// NoAnswer since zero is a valid option index.
func hideAnswers(slots []model.Slot) {
	for i := range slots {
		slots[i].Question.CorrectAnswer = model.NoAnswer
		slots[i].Question.Explanation = ""
	}
}

// TakeNotice returns the pending background error once.
func (c *Controller) TakeNotice() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.notice
	c.notice = nil
	return err
}
