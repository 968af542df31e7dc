package model

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Grade is the Eiken curriculum tier a session is generated for.
type Grade string

const (
	Grade5     Grade = "GRADE_5"
	Grade4     Grade = "GRADE_4"
	Grade3     Grade = "GRADE_3"
	GradePre2  Grade = "GRADE_PRE_2"
	Grade2     Grade = "GRADE_2"
	Grade2Plus Grade = "GRADE_2_PLUS"
	GradePre1  Grade = "GRADE_PRE_1"
	Grade1     Grade = "GRADE_1"
)

// Label returns the grade as it is written in prompts ("Grade 5").
func (g Grade) Label() string {
	switch g {
	case Grade5:
		return "Grade 5"
	case Grade4:
		return "Grade 4"
	case Grade3:
		return "Grade 3"
	case GradePre2:
		return "Grade Pre-2"
	case Grade2:
		return "Grade 2"
	case Grade2Plus:
		return "Grade 2 Plus"
	case GradePre1:
		return "Grade Pre-1"
	case Grade1:
		return "Grade 1"
	}
	return string(g)
}

// Section is one sub-part of an exam.
type Section string

const (
	Part1 Section = "PART_1"
	Part2 Section = "PART_2"
	Part3 Section = "PART_3"
	Part4 Section = "PART_4"
)

// QuestionType is the closed set of exam item kinds.
type QuestionType string

const (
	TypeVocabulary    QuestionType = "VOCABULARY"
	TypeDialogue      QuestionType = "DIALOGUE"
	TypeSentenceOrder QuestionType = "SENTENCE_ORDER"
	TypeReading       QuestionType = "READING_COMPREHENSION"
)

// TypeFor returns the question type every item of a section carries.
func TypeFor(s Section) QuestionType {
	switch s {
	case Part1:
		return TypeVocabulary
	case Part2:
		return TypeDialogue
	case Part3:
		return TypeSentenceOrder
	case Part4:
		return TypeReading
	}
	return ""
}

// OrderingLayout describes the sentence-ordering convention of a grade.
type OrderingLayout struct {
	Fragments int   // number of scrambled fragments
	Marked    []int // 1-based positions the options ask about
}

// Skeleton renders the blank template, e.g. "[ 1 ] ( ) [ 3 ] ( )".
func (l OrderingLayout) Skeleton() string {
	parts := make([]string, l.Fragments)
	for i := range parts {
		parts[i] = "( )"
		if slices.Contains(l.Marked, i+1) {
			parts[i] = fmt.Sprintf("[ %d ]", i+1)
		}
	}
	return strings.Join(parts, " ")
}

// MarkedText names the marked positions as ordinals ("1st and 3rd").
func (l OrderingLayout) MarkedText() string {
	names := make([]string, len(l.Marked))
	for i, pos := range l.Marked {
		names[i] = ordinal(pos)
	}
	return strings.Join(names, " and ")
}

func ordinal(n int) string {
	switch n {
	case 1:
		return "1st"
	case 2:
		return "2nd"
	case 3:
		return "3rd"
	}
	return fmt.Sprintf("%dth", n)
}

// GradeSpec is the fixed exam blueprint of a supported grade.
type GradeSpec struct {
	Grade    Grade
	Sections []Section
	Counts   map[Section]int
	Duration time.Duration
	Ordering OrderingLayout
}

// Total returns the number of questions in a full mock exam.
func (gs GradeSpec) Total() int {
	n := 0
	for _, s := range gs.Sections {
		n += gs.Counts[s]
	}
	return n
}

// HasSection reports whether the section is part of the grade's exam.
func (gs GradeSpec) HasSection(s Section) bool {
	_, ok := gs.Counts[s]
	return ok
}

var gradeSpecs = map[Grade]GradeSpec{
	Grade5: {
		Grade:    Grade5,
		Sections: []Section{Part1, Part2, Part3},
		Counts:   map[Section]int{Part1: 15, Part2: 5, Part3: 5},
		Duration: 25 * time.Minute,
		Ordering: OrderingLayout{Fragments: 4, Marked: []int{1, 3}},
	},
	Grade4: {
		Grade:    Grade4,
		Sections: []Section{Part1, Part2, Part3, Part4},
		Counts:   map[Section]int{Part1: 15, Part2: 5, Part3: 5, Part4: 10},
		Duration: 35 * time.Minute,
		Ordering: OrderingLayout{Fragments: 5, Marked: []int{2, 4}},
	},
}

// Errors returned for plans outside the supported blueprints.
var (
	ErrUnsupportedGrade   = errors.New("unsupported grade")
	ErrUnsupportedSection = errors.New("unsupported section")
)

// SpecFor returns the blueprint for a supported grade.
func SpecFor(g Grade) (GradeSpec, error) {
	gs, ok := gradeSpecs[g]
	if !ok {
		return GradeSpec{}, fmt.Errorf("%w %q", ErrUnsupportedGrade, g)
	}
	return gs, nil
}

// SupportedGrades lists the grades with a full blueprint, lower grade first.
func SupportedGrades() []Grade {
	return []Grade{Grade5, Grade4}
}

// NoAnswer marks an unanswered slot in an answers array.
const NoAnswer = -1

// Question is one multiple-choice exam item.
type Question struct {
	ID            int          `json:"id"`
	Type          QuestionType `json:"type"`
	Context       string       `json:"context,omitempty"`
	Fragments     []string     `json:"fragments,omitempty"`
	Text          string       `json:"text"`
	Skeleton      string       `json:"skeleton,omitempty"`
	Options       []string     `json:"options"`
	CorrectAnswer int          `json:"correctAnswer"`
	Explanation   string       `json:"explanation"`
	Category      string       `json:"category"`
}

// Section returns the exam section the question belongs to.
func (q Question) Section() Section {
	return Section(q.Category)
}

// Slot is one position in a session's question list. A slot either holds a
// usable question or is marked for remake with the reason it was rejected.
type Slot struct {
	Question    Question `json:"question"`
	NeedsRemake bool     `json:"needsRemake,omitempty"`
	Problem     string   `json:"problem,omitempty"`
}

// Usable reports whether the slot can be answered and scored.
func (s Slot) Usable() bool {
	return !s.NeedsRemake
}
