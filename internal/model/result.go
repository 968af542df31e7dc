package model

import (
	"fmt"
	"time"
)

// MissedQuestion pairs a full copy of a question with the answer given.
type MissedQuestion struct {
	Question   Question `json:"question"`
	UserAnswer int      `json:"userAnswer"`
}

// ExamResult is the immutable outcome of one completed session.
type ExamResult struct {
	ID               string           `json:"id"`
	Score            int              `json:"score"`
	Total            int              `json:"total"`
	IsPassed         bool             `json:"isPassed"`
	CompletedAt      time.Time        `json:"timestamp"`
	DurationSeconds  int              `json:"durationSeconds"`
	MissedQuestions  []MissedQuestion `json:"missedQuestions"`
	IsTargetPractice bool             `json:"isTargetPractice"`
	TargetSection    Section          `json:"targetSection,omitempty"`
	Grade            Grade            `json:"grade"`
	Theme            string           `json:"theme,omitempty"`
	NewBadges        []Badge          `json:"newBadges"`
}

// PassRatio is the minimum score/total ratio that passes.
const PassRatio = 0.6

// Passed applies the pass rule to a raw score.
func Passed(score, total int) bool {
	if total <= 0 {
		return false
	}
	return float64(score)/float64(total) >= PassRatio
}

// ResultExport is the top-level JSON structure written by the export command.
type ResultExport struct {
	ExportedAt time.Time      `json:"exported_at"`
	Count      int            `json:"count"`
	Results    []ResultRecord `json:"results"`
}

// ResultRecord is one logged result with the account it belongs to.
type ResultRecord struct {
	Device   string     `json:"device"`
	UserID   string     `json:"user_id"`
	UserName string     `json:"user_name"`
	Result   ExamResult `json:"result"`
}

// Plan is what a session is generated for: a full mock exam of the grade or
// targeted practice of one section, optionally themed.
type Plan struct {
	Grade   Grade   `json:"grade"`
	Target  bool    `json:"isTargetPractice"`
	Section Section `json:"targetSection,omitempty"`
	Theme   string  `json:"theme,omitempty"`
}

// Sections returns the sections a session of this plan covers, in exam order.
func (p Plan) Sections() ([]Section, error) {
	spec, err := SpecFor(p.Grade)
	if err != nil {
		return nil, err
	}
	if !p.Target {
		return spec.Sections, nil
	}
	if !spec.HasSection(p.Section) {
		return nil, fmt.Errorf("%w: %s has no %q", ErrUnsupportedSection, p.Grade.Label(), p.Section)
	}
	return []Section{p.Section}, nil
}

// ExpectedCount returns the number of questions a complete session of this
// plan must hold.
func (p Plan) ExpectedCount() (int, error) {
	sections, err := p.Sections()
	if err != nil {
		return 0, err
	}
	spec, _ := SpecFor(p.Grade)
	n := 0
	for _, s := range sections {
		n += spec.Counts[s]
	}
	return n, nil
}

// Attempt is a finished session handed over for scoring.
type Attempt struct {
	ID      string
	Plan    Plan
	Slots   []Slot
	Answers []int
	Elapsed time.Duration
}
