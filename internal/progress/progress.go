// Package progress turns a finished session into a scored result and an
// updated user: streaks, daily and monthly counters, thematic progress,
// badges and ticket deduction. It performs no I/O.
package progress

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/pavelanni/eikenprep/internal/apperr"
	"github.com/pavelanni/eikenprep/internal/model"
)

// Rules holds the configurable prices and usage caps.
type Rules struct {
	MockCost          float64
	TargetCost        float64
	DailyMockCap      int
	DailyTargetCap    int
	DailyRemakeCap    int
	ThemeMonthlyUses  int
	CreditCap         float64
	CreditPack        float64
	SubscriptionBonus float64
}

// DefaultRules returns the prices and caps used when nothing is configured.
func DefaultRules() Rules {
	return Rules{
		MockCost:          1.0,
		TargetCost:        0.2,
		DailyMockCap:      10,
		DailyTargetCap:    10,
		DailyRemakeCap:    5,
		ThemeMonthlyUses:  5,
		CreditCap:         45,
		CreditPack:        5,
		SubscriptionBonus: 15,
	}
}

// Cost returns the ticket price of a plan.
func (r Rules) Cost(p model.Plan) float64 {
	if p.Target {
		return r.TargetCost
	}
	return r.MockCost
}

// Model scores sessions against an injected badge catalog.
type Model struct {
	rules   Rules
	catalog *Catalog
}

// New creates a Model. A nil catalog selects the embedded default.
func New(rules Rules, catalog *Catalog) *Model {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Model{rules: rules, catalog: catalog}
}

// Rules returns the configured prices and caps.
func (m *Model) Rules() Rules {
	return m.rules
}

// Round10 rounds to one decimal place.
func Round10(v float64) float64 {
	return math.Round(v*10) / 10
}

// Deduct subtracts cost from a balance, rounded to one decimal and never
// below zero.
func Deduct(balance, cost float64) float64 {
	return math.Max(0, Round10(balance-cost))
}

// Score computes the result of a finished attempt and the updated user.
// The input user is not modified. It fails on attempts that are not
// complete sessions; such attempts must never cost tickets.
func (m *Model) Score(a model.Attempt, u model.User, now time.Time) (model.ExamResult, model.User, error) {
	const op = "score"

	if err := validate(a); err != nil {
		return model.ExamResult{}, u, apperr.Invalid(op, err)
	}

	out := u.Clone()
	st := &out.Stats
	today := model.DayKey(now)

	// 1. score
	score := 0
	var missed []model.MissedQuestion
	for i, slot := range a.Slots {
		ans := a.Answers[i]
		if slot.Usable() && ans == slot.Question.CorrectAnswer {
			score++
			continue
		}
		missed = append(missed, model.MissedQuestion{Question: slot.Question, UserAnswer: ans})
	}
	total := len(a.Slots)
	result := model.ExamResult{
		ID:               a.ID,
		Score:            score,
		Total:            total,
		IsPassed:         model.Passed(score, total),
		CompletedAt:      now,
		DurationSeconds:  int(a.Elapsed / time.Second),
		MissedQuestions:  missed,
		IsTargetPractice: a.Plan.Target,
		Grade:            a.Plan.Grade,
		Theme:            a.Plan.Theme,
		NewBadges:        []model.Badge{},
	}
	if a.Plan.Target {
		result.TargetSection = a.Plan.Section
	}

	before := snapshot(u, a.Plan, now)

	// 2. streak
	if st.LastStudyDate != today {
		if st.LastStudyDate == model.PreviousDayKey(now) {
			st.StreakCount++
		} else {
			st.StreakCount = 1
		}
		st.LastStudyDate = today
	}

	// 3. counters
	st.ResetDaily(today)
	st.ResetMonthly(model.MonthKey(now), m.rules.ThemeMonthlyUses)
	if a.Plan.Target {
		st.DailyTargetCount++
		if st.TargetCompletions == nil {
			st.TargetCompletions = make(map[model.Section]int)
		}
		st.TargetCompletions[a.Plan.Section]++
	} else {
		st.DailyMockExamsCount++
	}
	if a.Plan.Theme != "" && u.Metered() && st.ThemeUsesRemaining > 0 {
		st.ThemeUsesRemaining--
	}
	st.TotalQuestionsAnswered += total

	// 4. thematic progress
	if a.Plan.Target && a.Plan.Theme != "" && result.IsPassed {
		if st.ThematicProgress == nil {
			st.ThematicProgress = make(map[string]map[model.Section]bool)
		}
		if st.ThematicProgress[a.Plan.Theme] == nil {
			st.ThematicProgress[a.Plan.Theme] = make(map[model.Section]bool)
		}
		st.ThematicProgress[a.Plan.Theme][a.Plan.Section] = true
	}

	out.History = append(out.History, result)
	after := snapshot(out, a.Plan, now)

	// 5. badges
	for _, rule := range m.catalog.Rules {
		if rule.SectionScoped() && !a.Plan.Target {
			continue
		}
		if rule.Condition == CondThemeMastery && a.Plan.Theme == "" {
			continue
		}
		if !earned(rule, before, after, a.Plan, result) {
			continue
		}
		r := expand(rule, a.Plan.Section, a.Plan.Theme)
		if b, ok := award(&out, r, now); ok {
			result.NewBadges = append(result.NewBadges, b)
		}
	}
	out.History[len(out.History)-1] = result

	// 6. tickets
	if u.Metered() {
		out.Credits = Deduct(out.Credits, m.rules.Cost(a.Plan))
	}

	return result, out, nil
}

func validate(a model.Attempt) error {
	want, err := a.Plan.ExpectedCount()
	if err != nil {
		return err
	}
	switch {
	case len(a.Slots) == 0:
		return errors.New("session has no questions")
	case len(a.Slots) != want:
		return fmt.Errorf("session has %d questions, want %d", len(a.Slots), want)
	case len(a.Answers) != len(a.Slots):
		return fmt.Errorf("%d answers for %d questions", len(a.Answers), len(a.Slots))
	}
	return nil
}

// counters is the subset of state the threshold conditions look at.
type counters struct {
	sessions      int
	dailyMocks    int
	dailySection  int
	answered      int
	streak        int
	sectionTotal  int
	sweepDone     bool
	themeMastered bool
}

// snapshot reads the counters of u as they apply at now, treating counters
// from another day as zero.
func snapshot(u model.User, p model.Plan, now time.Time) counters {
	st := u.Stats
	today := model.DayKey(now)
	c := counters{
		sessions: len(u.History),
		answered: st.TotalQuestionsAnswered,
		streak:   st.StreakCount,
	}
	if st.LastStudyDate != today && st.LastStudyDate != model.PreviousDayKey(now) {
		c.streak = 0
	}
	if st.DailyDate == today {
		c.dailyMocks = st.DailyMockExamsCount
	}
	if p.Target {
		c.sectionTotal = st.TargetCompletions[p.Section]
	}

	passed := make(map[model.Section]bool)
	for _, h := range u.History {
		if !h.IsTargetPractice || model.DayKey(h.CompletedAt.In(now.Location())) != today {
			continue
		}
		if h.TargetSection == p.Section {
			c.dailySection++
		}
		if h.IsPassed {
			passed[h.TargetSection] = true
		}
	}

	if spec, err := model.SpecFor(p.Grade); err == nil {
		c.sweepDone = allSections(spec, passed)
		if p.Theme != "" {
			c.themeMastered = allSections(spec, st.ThematicProgress[p.Theme])
		}
	}
	return c
}

func allSections(spec model.GradeSpec, done map[model.Section]bool) bool {
	for _, s := range spec.Sections {
		if !done[s] {
			return false
		}
	}
	return true
}

// earned reports whether a rule's condition became true with this session.
// Threshold conditions fire when the counter crosses the threshold.
func earned(r Rule, before, after counters, p model.Plan, res model.ExamResult) bool {
	crossed := func(b, a int) bool { return b < r.Threshold && a >= r.Threshold }

	switch r.Condition {
	case CondSessions:
		return crossed(before.sessions, after.sessions)
	case CondDailyMocks:
		return !p.Target && crossed(before.dailyMocks, after.dailyMocks)
	case CondDailySection:
		return crossed(before.dailySection, after.dailySection)
	case CondAnswered:
		return crossed(before.answered, after.answered)
	case CondStreak:
		return crossed(before.streak, after.streak)
	case CondSectionCompletions:
		return crossed(before.sectionTotal, after.sectionTotal)
	case CondDailySweep:
		return p.Target && !before.sweepDone && after.sweepDone
	case CondThemeMastery:
		return p.Target && !before.themeMastered && after.themeMastered
	case CondPerfect:
		if res.Total == 0 || res.Score != res.Total {
			return false
		}
		switch r.Mode {
		case "mock":
			return !p.Target
		case "target":
			return p.Target
		}
		return true
	}
	return false
}

// award adds a badge or bumps the count of a repeatable one. It reports
// false when a non-repeatable badge is already held.
func award(u *model.User, r Rule, now time.Time) (model.Badge, bool) {
	for i, b := range u.Badges {
		if b.ID != r.ID {
			continue
		}
		if !r.Repeatable {
			return model.Badge{}, false
		}
		u.Badges[i].Count++
		return u.Badges[i], true
	}
	b := model.Badge{
		ID:            r.ID,
		Name:          r.Name,
		Description:   r.Description,
		JPDescription: r.JPDescription,
		Icon:          r.Icon,
		Color:         r.Color,
		EarnedAt:      now,
		Count:         1,
	}
	u.Badges = append(u.Badges, b)
	return b, true
}
