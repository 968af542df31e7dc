package model

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestSpecFor(t *testing.T) {
	tests := []struct {
		grade    Grade
		total    int
		sections int
		minutes  int
		frags    int
	}{
		{Grade5, 25, 3, 25, 4},
		{Grade4, 35, 4, 35, 5},
	}
	for _, tt := range tests {
		t.Run(string(tt.grade), func(t *testing.T) {
			gs, err := SpecFor(tt.grade)
			if err != nil {
				t.Fatalf("SpecFor: %v", err)
			}
			if gs.Total() != tt.total {
				t.Errorf("Total() = %d, want %d", gs.Total(), tt.total)
			}
			if len(gs.Sections) != tt.sections {
				t.Errorf("len(Sections) = %d, want %d", len(gs.Sections), tt.sections)
			}
			if gs.Duration != time.Duration(tt.minutes)*time.Minute {
				t.Errorf("Duration = %v", gs.Duration)
			}
			if gs.Ordering.Fragments != tt.frags {
				t.Errorf("Ordering.Fragments = %d, want %d", gs.Ordering.Fragments, tt.frags)
			}
		})
	}

	if _, err := SpecFor(Grade3); err == nil {
		t.Error("expected error for grade without blueprint")
	}
	gs, _ := SpecFor(Grade5)
	if gs.HasSection(Part4) {
		t.Error("grade 5 should not have PART_4")
	}
}

func TestTypeFor(t *testing.T) {
	want := map[Section]QuestionType{
		Part1: TypeVocabulary,
		Part2: TypeDialogue,
		Part3: TypeSentenceOrder,
		Part4: TypeReading,
	}
	for s, qt := range want {
		if got := TypeFor(s); got != qt {
			t.Errorf("TypeFor(%s) = %s, want %s", s, got, qt)
		}
	}
	if TypeFor("PART_9") != "" {
		t.Error("unknown section should have no type")
	}
}

func TestPeriodKeys(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	if got := DayKey(now); got != "2026-03-01" {
		t.Errorf("DayKey = %q", got)
	}
	if got := MonthKey(now); got != "2026-03" {
		t.Errorf("MonthKey = %q", got)
	}
	if got := PreviousDayKey(now); got != "2026-02-28" {
		t.Errorf("PreviousDayKey = %q", got)
	}
}

func TestResetDailyIdempotent(t *testing.T) {
	s := Stats{DailyMockExamsCount: 4, DailyTargetCount: 2, DailyDate: "2026-03-01"}

	s.ResetDaily("2026-03-02")
	if s.DailyMockExamsCount != 0 || s.DailyTargetCount != 0 {
		t.Fatalf("expected counters reset, got %+v", s)
	}
	s.DailyMockExamsCount = 3
	s.ResetDaily("2026-03-02")
	if s.DailyMockExamsCount != 3 {
		t.Errorf("second reset on same day changed counter to %d", s.DailyMockExamsCount)
	}
}

func TestResetMonthly(t *testing.T) {
	s := Stats{ThemeUsesRemaining: 1, ThemeUsesMonth: "2026-02"}
	s.ResetMonthly("2026-03", 5)
	if s.ThemeUsesRemaining != 5 || s.ThemeUsesMonth != "2026-03" {
		t.Fatalf("unexpected stats after reset: %+v", s)
	}
	s.ThemeUsesRemaining = 2
	s.ResetMonthly("2026-03", 5)
	if s.ThemeUsesRemaining != 2 {
		t.Errorf("same-month reset refilled allowance to %d", s.ThemeUsesRemaining)
	}
}

func TestEffectiveKind(t *testing.T) {
	tests := []struct {
		name      string
		user      User
		want      AccountKind
		unlimited bool
	}{
		{"explicit home", User{ID: "x", Kind: AccountHome}, AccountHome, false},
		{"subscribed home", User{ID: "home_1", HasSubscription: true}, AccountHome, true},
		{"debug prefix", User{ID: "debug_123"}, AccountDebug, true},
		{"school prefix", User{ID: "school_7"}, AccountSchool, true},
		{"default", User{ID: "home_1"}, AccountHome, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.user.EffectiveKind(); got != tt.want {
				t.Errorf("EffectiveKind() = %q, want %q", got, tt.want)
			}
			if got := tt.user.Unlimited(); got != tt.unlimited {
				t.Errorf("Unlimited() = %v, want %v", got, tt.unlimited)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	u := User{
		ID:     "home_1",
		Badges: []Badge{{ID: "first_step", Count: 1}},
		Stats: Stats{
			TargetCompletions: map[Section]int{Part1: 1},
			ThematicProgress:  map[string]map[Section]bool{"Shopping": {Part1: true}},
		},
	}
	c := u.Clone()
	c.Badges[0].Count = 9
	c.Stats.TargetCompletions[Part1] = 5
	c.Stats.ThematicProgress["Shopping"][Part2] = true

	if u.Badges[0].Count != 1 {
		t.Error("badge slice shared with clone")
	}
	if u.Stats.TargetCompletions[Part1] != 1 {
		t.Error("target completions shared with clone")
	}
	if u.Stats.ThematicProgress["Shopping"][Part2] {
		t.Error("thematic progress shared with clone")
	}
}

func TestUserJSONRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	u := User{
		ID:      "home_1",
		Name:    "Taro",
		Kind:    AccountHome,
		Credits: 2.8,
		History: []ExamResult{{
			ID: "r1", Score: 20, Total: 25, IsPassed: true, CompletedAt: now, Grade: Grade5,
			MissedQuestions: []MissedQuestion{{Question: Question{ID: 3, Options: []string{"a", "b", "c", "d"}, CorrectAnswer: 1}, UserAnswer: NoAnswer}},
			NewBadges:       []Badge{{ID: "first_step", EarnedAt: now, Count: 1}},
		}},
		Badges: []Badge{{ID: "first_step", EarnedAt: now, Count: 1}},
		Stats: Stats{
			StreakCount:       2,
			TargetCompletions: map[Section]int{Part3: 4},
		},
	}
	data, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back User
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(u, back) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", back, u)
	}
}

func TestPassed(t *testing.T) {
	if !Passed(15, 25) {
		t.Error("15/25 should pass")
	}
	if Passed(14, 25) {
		t.Error("14/25 should fail")
	}
	if Passed(0, 0) {
		t.Error("empty exam should not pass")
	}
}

func TestOrderingLayout(t *testing.T) {
	g5, _ := SpecFor(Grade5)
	g4, _ := SpecFor(Grade4)
	if got := g5.Ordering.Skeleton(); got != "[ 1 ] ( ) [ 3 ] ( )" {
		t.Errorf("grade 5 skeleton = %q", got)
	}
	if got := g4.Ordering.Skeleton(); got != "( ) [ 2 ] ( ) [ 4 ] ( )" {
		t.Errorf("grade 4 skeleton = %q", got)
	}
	if got := g4.Ordering.MarkedText(); got != "2nd and 4th" {
		t.Errorf("grade 4 marked text = %q", got)
	}
}
