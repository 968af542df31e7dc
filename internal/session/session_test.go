package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/eikenprep/internal/apperr"
	"github.com/pavelanni/eikenprep/internal/clock"
	"github.com/pavelanni/eikenprep/internal/model"
)

var start = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type fakeProvider struct {
	mu       sync.Mutex
	sections []model.Section
	short    model.Section // section returning one question too few
	failOn   model.Section
	flag     map[model.Section]int // index to mark as needing remake
	hook     func(model.Section)   // runs before returning, without locks
	remakes  int
}

func (f *fakeProvider) GenerateSection(_ context.Context, grade model.Grade, section model.Section, _ string) ([]model.Slot, error) {
	f.mu.Lock()
	f.sections = append(f.sections, section)
	f.mu.Unlock()
	if f.hook != nil {
		f.hook(section)
	}
	if section == f.failOn {
		return nil, apperr.Transient("generate section", errors.New("overloaded"))
	}
	spec, _ := model.SpecFor(grade)
	n := spec.Counts[section]
	if section == f.short {
		n--
	}
	slots := make([]model.Slot, n)
	for i := range slots {
		slots[i] = model.Slot{Question: model.Question{
			ID:            i,
			Type:          model.TypeFor(section),
			Text:          fmt.Sprintf("%s #%d", section, i),
			Options:       []string{"a", "b", "c", "d"},
			CorrectAnswer: 0,
			Category:      string(section),
		}}
	}
	if idx, ok := f.flag[section]; ok {
		slots[idx].NeedsRemake = true
		slots[idx].Problem = "empty text"
		slots[idx].Question.Text = ""
	}
	return slots, nil
}

func (f *fakeProvider) Remake(_ context.Context, _ model.Grade, q model.Question, _ string) (model.Question, error) {
	f.mu.Lock()
	f.remakes++
	n := f.remakes
	f.mu.Unlock()
	q.Text = fmt.Sprintf("remade %d", n)
	q.ID = -1
	return q, nil
}

func newActive(t *testing.T, plan model.Plan, opts Options) (*Session, *clock.Fake, *fakeProvider) {
	t.Helper()
	clk := clock.NewFake(start)
	s, err := New("s1", plan, clk, opts)
	require.NoError(t, err)
	p := &fakeProvider{}
	require.NoError(t, s.Assemble(context.Background(), p))
	return s, clk, p
}

func TestAssembleInSectionOrder(t *testing.T) {
	s, clk, p := newActive(t, model.Plan{Grade: model.Grade4}, Options{})

	assert.Equal(t, []model.Section{model.Part1, model.Part2, model.Part3, model.Part4}, p.sections)
	v := s.Snapshot()
	assert.Equal(t, StateActive, v.State)
	require.Len(t, v.Slots, 35)
	assert.Len(t, v.Answers, 35)
	for i, slot := range v.Slots {
		assert.Equal(t, i, slot.Question.ID, "ids follow exam order")
		assert.Equal(t, model.NoAnswer, v.Answers[i])
	}
	assert.Equal(t, "PART_4", v.Slots[34].Question.Category)
	assert.Equal(t, 35*time.Minute, v.Remaining)
	assert.Equal(t, 1, clk.Pending())
}

func TestSnapshotWhileAssembling(t *testing.T) {
	clk := clock.NewFake(start)
	s, err := New("s1", model.Plan{Grade: model.Grade5}, clk, Options{})
	require.NoError(t, err)

	var seen []View
	p := &fakeProvider{hook: func(model.Section) { seen = append(seen, s.Snapshot()) }}
	require.NoError(t, s.Assemble(context.Background(), p))

	require.Len(t, seen, 3)
	assert.Equal(t, StateAssembling, seen[0].State)
	assert.Equal(t, 0, seen[0].Assembled)
	assert.Len(t, seen[2].Slots, 20, "first two sections already visible")
	assert.Equal(t, 25*time.Minute, seen[2].Remaining, "countdown not started")
}

func TestAssembleFailureDiscards(t *testing.T) {
	clk := clock.NewFake(start)
	s, err := New("s1", model.Plan{Grade: model.Grade5}, clk, Options{})
	require.NoError(t, err)

	p := &fakeProvider{failOn: model.Part2}
	err = s.Assemble(context.Background(), p)
	assert.True(t, apperr.Is(err, apperr.KindTransient))
	assert.Equal(t, StateDiscarded, s.State())
	assert.Equal(t, []model.Section{model.Part1, model.Part2}, p.sections, "later sections not requested")
	assert.Equal(t, 0, clk.Pending())
}

func TestAssembleRejectsShortList(t *testing.T) {
	clk := clock.NewFake(start)
	s, err := New("s1", model.Plan{Grade: model.Grade4, Target: true, Section: model.Part4}, clk, Options{})
	require.NoError(t, err)

	err = s.Assemble(context.Background(), &fakeProvider{short: model.Part4})
	assert.True(t, apperr.Is(err, apperr.KindContract))
	assert.Equal(t, StateDiscarded, s.State())
}

func TestDiscardDuringAssemblyDropsResult(t *testing.T) {
	clk := clock.NewFake(start)
	s, err := New("s1", model.Plan{Grade: model.Grade5}, clk, Options{})
	require.NoError(t, err)

	p := &fakeProvider{hook: func(sec model.Section) {
		if sec == model.Part2 {
			require.NoError(t, s.Discard())
		}
	}}
	err = s.Assemble(context.Background(), p)
	assert.True(t, apperr.Is(err, apperr.KindDiscarded))
	v := s.Snapshot()
	assert.Equal(t, StateDiscarded, v.State)
	assert.Len(t, v.Slots, 15, "late section result dropped")
	assert.Equal(t, 0, clk.Pending(), "no timer for a discarded session")
}

func TestAnswerAndNavigate(t *testing.T) {
	s, _, _ := newActive(t, model.Plan{Grade: model.Grade5}, Options{})

	require.NoError(t, s.Answer(3, 2))
	v := s.Snapshot()
	assert.Equal(t, 2, v.Answers[3])
	assert.Equal(t, 3, v.Current)
	assert.Equal(t, 1, v.Answered)

	require.NoError(t, s.Answer(3, model.NoAnswer))
	assert.Equal(t, model.NoAnswer, s.Snapshot().Answers[3])

	require.NoError(t, s.Navigate(24))
	assert.Equal(t, 24, s.Snapshot().Current)

	assert.True(t, apperr.Is(s.Answer(25, 0), apperr.KindInvalid))
	assert.True(t, apperr.Is(s.Answer(0, 4), apperr.KindInvalid))
	assert.True(t, apperr.Is(s.Navigate(-1), apperr.KindInvalid))
}

func TestFinish(t *testing.T) {
	s, clk, _ := newActive(t, model.Plan{Grade: model.Grade5, Target: true, Section: model.Part2}, Options{})
	require.NoError(t, s.Answer(0, 0))
	clk.Advance(90 * time.Second)

	a, err := s.Finish()
	require.NoError(t, err)
	assert.Equal(t, "s1", a.ID)
	assert.Len(t, a.Slots, 5)
	assert.Equal(t, []int{0, -1, -1, -1, -1}, a.Answers)
	assert.Equal(t, 90*time.Second, a.Elapsed)
	assert.Equal(t, StateCompleted, s.State())
	assert.Equal(t, 0, clk.Pending(), "timer cleared on finish")

	_, err = s.Finish()
	assert.True(t, apperr.Is(err, apperr.KindInvalid), "finish only once")
	assert.True(t, apperr.Is(s.Answer(1, 1), apperr.KindInvalid))
}

func TestStrictFinish(t *testing.T) {
	s, _, _ := newActive(t, model.Plan{Grade: model.Grade5, Target: true, Section: model.Part3}, Options{Strict: true})

	_, err := s.Finish()
	assert.Equal(t, apperr.MsgUnanswered, apperr.MsgIDOf(err))
	assert.Equal(t, StateActive, s.State())

	for i := range 5 {
		require.NoError(t, s.Answer(i, 1))
	}
	_, err = s.Finish()
	assert.NoError(t, err)
}

func TestExpirySubmitsAnswers(t *testing.T) {
	var got []model.Attempt
	s, clk, _ := newActive(t, model.Plan{Grade: model.Grade5}, Options{
		Strict:   true,
		OnExpire: func(a model.Attempt) { got = append(got, a) },
	})
	require.NoError(t, s.Navigate(24))
	require.NoError(t, s.Answer(24, 3))

	clk.Advance(24 * time.Minute)
	assert.Empty(t, got)
	assert.Equal(t, time.Minute, s.Snapshot().Remaining)

	clk.Advance(time.Minute)
	require.Len(t, got, 1, "expiry finishes even when strict and on the last question")
	assert.Equal(t, 3, got[0].Answers[24])
	assert.Equal(t, 25*time.Minute, got[0].Elapsed)
	assert.Equal(t, StateCompleted, s.State())

	clk.Advance(time.Hour)
	assert.Len(t, got, 1)
}

func TestDiscardClearsTimer(t *testing.T) {
	fired := false
	s, clk, _ := newActive(t, model.Plan{Grade: model.Grade5}, Options{OnExpire: func(model.Attempt) { fired = true }})

	require.NoError(t, s.Discard())
	require.NoError(t, s.Discard(), "discarding twice is harmless")
	assert.Equal(t, 0, clk.Pending())
	clk.Advance(time.Hour)
	assert.False(t, fired)

	_, err := s.Finish()
	assert.True(t, apperr.Is(err, apperr.KindDiscarded))
}

func TestRemakeReplacesInPlace(t *testing.T) {
	clk := clock.NewFake(start)
	s, err := New("s1", model.Plan{Grade: model.Grade5, Target: true, Section: model.Part3}, clk, Options{})
	require.NoError(t, err)
	p := &fakeProvider{flag: map[model.Section]int{model.Part3: 2}}
	require.NoError(t, s.Assemble(context.Background(), p))

	assert.True(t, apperr.Is(s.Answer(2, 1), apperr.KindInvalid), "unusable slot cannot be answered")
	require.NoError(t, s.Answer(1, 3))

	q, err := s.Remake(context.Background(), 2, p)
	require.NoError(t, err)
	assert.Equal(t, 2, q.ID)
	assert.Equal(t, "remade 1", q.Text)

	v := s.Snapshot()
	assert.True(t, v.Slots[2].Usable())
	assert.Equal(t, "PART_3", v.Slots[2].Question.Category)
	require.NoError(t, s.Answer(2, 1))

	_, err = s.Remake(context.Background(), 1, p)
	require.NoError(t, err)
	assert.Equal(t, model.NoAnswer, s.Snapshot().Answers[1], "answer to the replaced question is cleared")
}

func TestRemakeAfterDiscardIsDropped(t *testing.T) {
	s, _, _ := newActive(t, model.Plan{Grade: model.Grade5, Target: true, Section: model.Part1}, Options{})
	p := &discardingProvider{s: s}

	_, err := s.Remake(context.Background(), 0, p)
	assert.True(t, apperr.Is(err, apperr.KindDiscarded))
	assert.Equal(t, "PART_1 #0", s.Snapshot().Slots[0].Question.Text)
}

type discardingProvider struct {
	fakeProvider
	s *Session
}

func (d *discardingProvider) Remake(ctx context.Context, g model.Grade, q model.Question, theme string) (model.Question, error) {
	_ = d.s.Discard()
	return d.fakeProvider.Remake(ctx, g, q, theme)
}

func TestNewRejectsUnknownPlan(t *testing.T) {
	_, err := New("s1", model.Plan{Grade: model.Grade5, Target: true, Section: model.Part4}, clock.NewFake(start), Options{})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, apperr.MsgUnsupportedSection, apperr.MsgIDOf(err))

	_, err = New("s2", model.Plan{Grade: model.Grade3}, clock.NewFake(start), Options{})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, apperr.MsgUnsupportedGrade, apperr.MsgIDOf(err))
}
