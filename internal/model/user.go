package model

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// AccountKind decides how tickets are metered for a user.
type AccountKind string

const (
	AccountSchool AccountKind = "school"
	AccountHome   AccountKind = "home"
	AccountDebug  AccountKind = "debug"
)

// User is one student/parent account as held on the device.
type User struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	StudentFurigana    string       `json:"studentFurigana,omitempty"`
	Kind               AccountKind  `json:"kind,omitempty"`
	BarcodeNumber      string       `json:"barcodeNumber,omitempty"`
	ParentEmail        string       `json:"parentEmail,omitempty"`
	ParentNameKanji    string       `json:"parentNameKanji,omitempty"`
	ParentNameFurigana string       `json:"parentNameFurigana,omitempty"`
	HashedPassword     string       `json:"hashedPassword,omitempty"`
	Credits            float64      `json:"credits"`
	HasSubscription    bool         `json:"hasSubscription"`
	History            []ExamResult `json:"history"`
	Badges             []Badge      `json:"badges"`
	Stats              Stats        `json:"stats"`
}

// EffectiveKind returns the stored kind, falling back to the id prefix used by
// backend records that predate the kind field.
func (u User) EffectiveKind() AccountKind {
	if u.Kind != "" {
		return u.Kind
	}
	switch {
	case strings.HasPrefix(u.ID, "debug"):
		return AccountDebug
	case strings.HasPrefix(u.ID, "school"):
		return AccountSchool
	}
	return AccountHome
}

// Unlimited reports whether ticket balance checks are bypassed.
func (u User) Unlimited() bool {
	switch u.EffectiveKind() {
	case AccountSchool, AccountDebug:
		return true
	}
	return u.HasSubscription
}

// Metered reports whether sessions deduct tickets.
func (u User) Metered() bool {
	return !u.Unlimited()
}

// HasBadge reports whether a badge id is already held.
func (u User) HasBadge(id string) bool {
	return slices.ContainsFunc(u.Badges, func(b Badge) bool { return b.ID == id })
}

// Clone returns a deep copy so callers can mutate without touching the original.
func (u User) Clone() User {
	c := u
	c.History = slices.Clone(u.History)
	c.Badges = slices.Clone(u.Badges)
	c.Stats = u.Stats.Clone()
	return c
}

// Stats are the counters embedded in a user. Daily counters are valid only
// while DailyDate equals the current day key; the theme counter only while
// ThemeUsesMonth equals the current month key.
type Stats struct {
	TotalQuestionsAnswered int                         `json:"totalQuestionsAnswered"`
	StreakCount            int                         `json:"streakCount"`
	LastStudyDate          string                      `json:"lastStudyDate,omitempty"`
	TargetCompletions      map[Section]int             `json:"targetCompletions,omitempty"`
	ThematicProgress       map[string]map[Section]bool `json:"thematicProgress,omitempty"`
	DailyMockExamsCount    int                         `json:"dailyMockExamsCount"`
	DailyTargetCount       int                         `json:"dailyTargetPracticeCount"`
	DailyDate              string                      `json:"lastActionDate,omitempty"`
	RemakeCountToday       int                         `json:"remakeCountToday"`
	LastRemakeDate         string                      `json:"lastRemakeDate,omitempty"`
	ThemeUsesRemaining     int                         `json:"scenarioUsesRemaining"`
	ThemeUsesMonth         string                      `json:"lastScenarioUseMonth,omitempty"`
}

// Clone deep-copies the maps.
func (s Stats) Clone() Stats {
	c := s
	if s.TargetCompletions != nil {
		c.TargetCompletions = maps.Clone(s.TargetCompletions)
	}
	if s.ThematicProgress != nil {
		c.ThematicProgress = make(map[string]map[Section]bool, len(s.ThematicProgress))
		for theme, parts := range s.ThematicProgress {
			c.ThematicProgress[theme] = maps.Clone(parts)
		}
	}
	return c
}

// ResetDaily zeroes the daily counters if they belong to another day.
// Calling it again on the same day changes nothing.
func (s *Stats) ResetDaily(day string) {
	if s.DailyDate == day {
		return
	}
	s.DailyMockExamsCount = 0
	s.DailyTargetCount = 0
	s.DailyDate = day
}

// ResetRemakes zeroes the remake counter if it belongs to another day.
func (s *Stats) ResetRemakes(day string) {
	if s.LastRemakeDate == day {
		return
	}
	s.RemakeCountToday = 0
	s.LastRemakeDate = day
}

// ResetMonthly refills the theme allowance if it belongs to another month.
func (s *Stats) ResetMonthly(month string, allowance int) {
	if s.ThemeUsesMonth == month {
		return
	}
	s.ThemeUsesRemaining = allowance
	s.ThemeUsesMonth = month
}

// Badge is an earned achievement.
type Badge struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	JPDescription string    `json:"jpDescription"`
	Icon          string    `json:"icon"`
	Color         string    `json:"color"`
	EarnedAt      time.Time `json:"earnedAt"`
	Count         int       `json:"count"`
}

// DayKey is the calendar-day period key of t in t's location.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// MonthKey is the calendar-month period key of t in t's location.
func MonthKey(t time.Time) string {
	return t.Format("2006-01")
}

// PreviousDayKey is the day key of the calendar day before t.
func PreviousDayKey(t time.Time) string {
	return DayKey(t.AddDate(0, 0, -1))
}
