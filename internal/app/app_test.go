package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/eikenprep/internal/apperr"
	"github.com/pavelanni/eikenprep/internal/clock"
	"github.com/pavelanni/eikenprep/internal/credential"
	"github.com/pavelanni/eikenprep/internal/gateway"
	"github.com/pavelanni/eikenprep/internal/model"
	"github.com/pavelanni/eikenprep/internal/store"
)

var start = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type fakeGenerator struct {
	mu      sync.Mutex
	calls   int
	remakes int
	fail    error
	release chan struct{} // when set, each section waits for a value
}

func (g *fakeGenerator) GenerateSection(ctx context.Context, grade model.Grade, section model.Section, _ string) ([]model.Slot, error) {
	g.mu.Lock()
	g.calls++
	release := g.release
	fail := g.fail
	g.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, fail
	}
	spec, _ := model.SpecFor(grade)
	slots := make([]model.Slot, spec.Counts[section])
	for i := range slots {
		slots[i] = model.Slot{Question: model.Question{
			ID:            i,
			Type:          model.TypeFor(section),
			Text:          fmt.Sprintf("%s question %d", section, i),
			Options:       []string{"a", "b", "c", "d"},
			CorrectAnswer: 0,
			Explanation:   "a is correct",
			Category:      string(section),
		}}
	}
	return slots, nil
}

func (g *fakeGenerator) Remake(_ context.Context, _ model.Grade, q model.Question, _ string) (model.Question, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.remakes++
	q.Text = fmt.Sprintf("remade %d", g.remakes)
	return q, nil
}

func (g *fakeGenerator) sectionCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeBackend struct {
	mu         sync.Mutex
	accounts   map[string]string // email -> password digest
	users      map[string]model.User
	syncs      []string
	purchases  []string
	logins     int
	registered []model.User
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{accounts: map[string]string{}, users: map[string]model.User{}}
}

func (b *fakeBackend) addHome(email, password string, u model.User) {
	b.accounts[email] = credential.Digest(password)
	b.users[email] = u
}

func (b *fakeBackend) Configured() bool { return true }

func (b *fakeBackend) Login(_ context.Context, email, digest string) (model.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logins++
	if want, ok := b.accounts[email]; !ok || want != digest {
		return model.User{}, apperr.Auth("login", apperr.MsgLoginFailed, errors.New("Invalid email or password."))
	}
	return b.users[email], nil
}

func (b *fakeBackend) SchoolLogin(_ context.Context, name string) (model.User, error) {
	return model.User{ID: "school_" + name, Name: name}, nil
}

func (b *fakeBackend) Register(_ context.Context, u model.User) (model.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if u.BarcodeNumber != "12345" {
		return model.User{}, apperr.Validation("register", apperr.MsgRegistrationRejected, errors.New("Barcode not found."))
	}
	b.registered = append(b.registered, u)
	return u, nil
}

func (b *fakeBackend) ResetPassword(_ context.Context, _ gateway.ResetRequest) error {
	return nil
}

func (b *fakeBackend) SyncState(_ context.Context, u model.User, action string, _ map[string]any) (*model.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.syncs = append(b.syncs, action)
	return nil, nil
}

func (b *fakeBackend) Purchase(_ context.Context, u model.User, action string, _ map[string]any) (model.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.purchases = append(b.purchases, action)
	return u, nil
}

func (b *fakeBackend) counts() (logins, syncs, purchases int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.logins, len(b.syncs), len(b.purchases)
}

type fixture struct {
	c       *Controller
	gen     *fakeGenerator
	backend *fakeBackend
	store   *store.Store
	clock   *clock.Fake
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{
		gen:     &fakeGenerator{},
		backend: newFakeBackend(),
		store:   st,
		clock:   clock.NewFake(start),
	}
	cfg := Config{
		Generator:  f.gen,
		Backend:    f.backend,
		Store:      st,
		Clock:      f.clock,
		AllowDebug: true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.c, err = New("dev1", cfg)
	require.NoError(t, err)
	t.Cleanup(f.c.Close)
	return f
}

// signInAs stores u locally and signs it in with grade g selected.
func (f *fixture) signInAs(t *testing.T, u model.User, g model.Grade) {
	t.Helper()
	f.c.signIn(u)
	require.NoError(t, f.c.SelectGrade(g))
}

func (f *fixture) startAndWait(t *testing.T, r StartRequest) {
	t.Helper()
	require.NoError(t, f.c.Start(r))
	f.c.Wait()
	require.Equal(t, ViewExam, f.c.Snapshot().View)
}

func TestFirstMockExam(t *testing.T) {
	f := newFixture(t, nil)
	f.signInAs(t, model.User{ID: "home_1", Kind: model.AccountHome, Credits: 3.0}, model.Grade5)

	f.startAndWait(t, StartRequest{})
	st := f.c.Snapshot()
	require.NotNil(t, st.Session)
	require.Len(t, st.Session.Slots, 25)
	assert.Equal(t, 3.0, st.User.Credits, "nothing charged before scoring")
	for i, s := range st.Session.Slots {
		assert.Equal(t, model.NoAnswer, s.Question.CorrectAnswer, "slot %d shows its answer", i)
		assert.Empty(t, s.Question.Explanation, "slot %d shows its explanation", i)
	}

	for i := range 25 {
		option := 0
		if i >= 20 {
			option = 1
		}
		require.NoError(t, f.c.Answer(i, option))
	}
	f.clock.Advance(10 * time.Minute)

	res, err := f.c.Finish()
	require.NoError(t, err)
	assert.Equal(t, 20, res.Score)
	assert.True(t, res.IsPassed)
	assert.Equal(t, 600, res.DurationSeconds)
	require.Len(t, res.NewBadges, 1)
	assert.Equal(t, "first_step", res.NewBadges[0].ID)

	st = f.c.Snapshot()
	assert.Equal(t, ViewResults, st.View)
	assert.Equal(t, 2.0, st.User.Credits)
	assert.Nil(t, st.Session)
	assert.True(t, st.CanRetake)

	stored, err := f.store.LoadUser("dev1")
	require.NoError(t, err)
	assert.Equal(t, 2.0, stored.Credits)
	assert.Len(t, stored.History, 1)

	exp, err := f.store.ExportResults("home_1")
	require.NoError(t, err)
	assert.Equal(t, 1, exp.Count)

	f.c.Wait()
	_, syncs, _ := f.backend.counts()
	assert.Equal(t, 1, syncs)
}

func TestInsufficientTicketsRejectedBeforeGeneration(t *testing.T) {
	f := newFixture(t, nil)
	f.signInAs(t, model.User{ID: "home_1", Kind: model.AccountHome, Credits: 0.1}, model.Grade5)

	err := f.c.Start(StartRequest{Target: true, Section: model.Part1})
	assert.Equal(t, apperr.MsgInsufficientTickets, apperr.MsgIDOf(err))
	f.c.Wait()

	assert.Equal(t, 0, f.gen.sectionCalls())
	st := f.c.Snapshot()
	assert.Equal(t, 0.1, st.User.Credits)
	assert.Equal(t, ViewDashboard, st.View)
}

func TestGenerationFailureLeavesUserUnchanged(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.fail = apperr.Transient("generate section", errors.New("overloaded"))
	f.signInAs(t, model.User{ID: "home_1", Kind: model.AccountHome, Credits: 3.0}, model.Grade4)

	require.NoError(t, f.c.Start(StartRequest{}))
	f.c.Wait()

	st := f.c.Snapshot()
	assert.Equal(t, ViewDashboard, st.View)
	assert.Nil(t, st.Session)
	assert.Equal(t, 3.0, st.User.Credits)
	assert.True(t, apperr.Is(st.Notice, apperr.KindTransient))
	assert.Equal(t, 1, f.gen.sectionCalls(), "later sections not requested")

	assert.Error(t, f.c.TakeNotice())
	assert.NoError(t, f.c.TakeNotice(), "notice is shown once")
}

func TestCancelDuringGeneration(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.release = make(chan struct{})
	f.signInAs(t, model.User{ID: "home_1", Kind: model.AccountHome, Credits: 3.0}, model.Grade5)

	require.NoError(t, f.c.Start(StartRequest{}))
	assert.Equal(t, ViewGenerating, f.c.Snapshot().View)

	require.NoError(t, f.c.Cancel())
	close(f.gen.release)
	f.c.Wait()

	st := f.c.Snapshot()
	assert.Equal(t, ViewDashboard, st.View)
	assert.Nil(t, st.Session)
	assert.Nil(t, st.Notice)
	assert.Equal(t, 3.0, st.User.Credits)
	assert.Empty(t, st.User.History)
}

func TestExpirySubmitsAndScores(t *testing.T) {
	f := newFixture(t, nil)
	f.signInAs(t, model.User{ID: "school_1", Kind: model.AccountSchool}, model.Grade5)

	f.startAndWait(t, StartRequest{Target: true, Section: model.Part2})
	require.NoError(t, f.c.Goto(4))
	require.NoError(t, f.c.Answer(4, 0))

	f.clock.Advance(25 * time.Minute)

	st := f.c.Snapshot()
	assert.Equal(t, ViewResults, st.View)
	require.NotNil(t, st.LastResult)
	assert.Equal(t, 1, st.LastResult.Score)
	assert.Equal(t, 5, st.LastResult.Total)
	assert.Equal(t, model.Part2, st.LastResult.TargetSection)
	assert.Equal(t, 1, st.User.Stats.TargetCompletions[model.Part2])

	_, err := f.c.Finish()
	assert.Equal(t, apperr.MsgNoSession, apperr.MsgIDOf(err))
}

func TestNavigateAwayDiscardsSession(t *testing.T) {
	f := newFixture(t, nil)
	f.signInAs(t, model.User{ID: "home_1", Kind: model.AccountHome, Credits: 3.0}, model.Grade5)
	f.startAndWait(t, StartRequest{})

	require.NoError(t, f.c.Navigate(ViewShop))
	assert.Equal(t, 0, f.clock.Pending(), "timer cleared")
	f.clock.Advance(time.Hour)

	st := f.c.Snapshot()
	assert.Equal(t, ViewShop, st.View)
	assert.Empty(t, st.User.History)
	assert.Equal(t, 3.0, st.User.Credits)

	assert.True(t, apperr.Is(f.c.Navigate(ViewExam), apperr.KindInvalid))
	assert.True(t, apperr.Is(f.c.Navigate(ViewResults), apperr.KindInvalid))
}

func TestRetake(t *testing.T) {
	f := newFixture(t, nil)
	f.signInAs(t, model.User{ID: "home_1", Kind: model.AccountHome, Credits: 3.0}, model.Grade4)

	assert.Equal(t, apperr.MsgNothingToRetake, apperr.MsgIDOf(f.c.Retake()))

	f.startAndWait(t, StartRequest{Target: true, Section: model.Part4, Theme: "  Space travel "})
	_, err := f.c.Finish()
	require.NoError(t, err)

	require.NoError(t, f.c.Retake())
	f.c.Wait()
	st := f.c.Snapshot()
	require.NotNil(t, st.Session)
	assert.Equal(t, model.Plan{Grade: model.Grade4, Target: true, Section: model.Part4, Theme: "Space travel"}, st.Session.Plan)
	assert.Len(t, st.Session.Slots, 10)
}

func TestRemakeCap(t *testing.T) {
	f := newFixture(t, nil)
	u := model.User{ID: "home_1", Kind: model.AccountHome, Credits: 3.0}
	u.Stats.RemakeCountToday = 4
	u.Stats.LastRemakeDate = model.DayKey(start)
	f.signInAs(t, u, model.Grade5)
	f.startAndWait(t, StartRequest{Target: true, Section: model.Part3})

	q, err := f.c.Remake(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "remade 1", q.Text)
	assert.Equal(t, 2, q.ID)
	assert.Equal(t, 5, f.c.Snapshot().User.Stats.RemakeCountToday)

	_, err = f.c.Remake(context.Background(), 3)
	assert.Equal(t, apperr.MsgDailyRemakeCap, apperr.MsgIDOf(err))

	// A new day resets the counter.
	f.clock.Advance(24 * time.Hour)
	require.NoError(t, f.c.Navigate(ViewDashboard))
	f.startAndWait(t, StartRequest{Target: true, Section: model.Part3})
	_, err = f.c.Remake(context.Background(), 0)
	assert.NoError(t, err)
}

func TestDebugLogin(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.c.LoginDebug())

	st := f.c.Snapshot()
	require.NotNil(t, st.User)
	assert.True(t, strings.HasPrefix(st.User.ID, "debug_"))
	assert.Equal(t, model.AccountDebug, st.User.Kind)
	assert.Equal(t, DebugCredits, st.User.Credits)
	assert.Equal(t, ViewGradeSelection, st.View)

	g := newFixture(t, func(c *Config) { c.AllowDebug = false })
	assert.Equal(t, apperr.MsgDebugDisabled, apperr.MsgIDOf(g.c.LoginDebug()))
}

func TestSchoolLogin(t *testing.T) {
	hash, err := credential.HashPIN("2468")
	require.NoError(t, err)
	f := newFixture(t, func(c *Config) { c.SchoolPINHash = hash })

	err = f.c.LoginSchool(context.Background(), SchoolLoginForm{PIN: "1111", StudentName: "Hanako"})
	assert.Equal(t, apperr.MsgInvalidPIN, apperr.MsgIDOf(err))
	assert.Nil(t, f.c.Snapshot().User)

	err = f.c.LoginSchool(context.Background(), SchoolLoginForm{PIN: "2468"})
	assert.Equal(t, apperr.MsgMissingField, apperr.MsgIDOf(err))

	require.NoError(t, f.c.LoginSchool(context.Background(), SchoolLoginForm{PIN: "2468", StudentName: " Hanako "}))
	st := f.c.Snapshot()
	assert.Equal(t, "school_Hanako", st.User.ID)
	assert.Equal(t, model.AccountSchool, st.User.Kind)

	stored, err := f.store.LoadUser("dev1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "school_Hanako", stored.ID)

	unconfigured := newFixture(t, nil)
	err = unconfigured.c.LoginSchool(context.Background(), SchoolLoginForm{PIN: "2468", StudentName: "Hanako"})
	assert.True(t, apperr.Is(err, apperr.KindConfig))
}

func TestHomeLogin(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.addHome("parent@example.com", "secret1", model.User{ID: "home_5", Name: "Taro", ParentEmail: "parent@example.com", Credits: 4})

	err := f.c.LoginHome(context.Background(), HomeLoginForm{Email: "parent@example.com", Password: "wrong"})
	assert.True(t, apperr.Is(err, apperr.KindAuth))

	err = f.c.LoginHome(context.Background(), HomeLoginForm{Email: "not-an-email", Password: "secret1"})
	assert.Equal(t, apperr.MsgInvalidEmail, apperr.MsgIDOf(err))

	require.NoError(t, f.c.LoginHome(context.Background(), HomeLoginForm{Email: "parent@example.com", Password: "secret1"}))
	st := f.c.Snapshot()
	assert.Equal(t, "home_5", st.User.ID)
	assert.Equal(t, model.AccountHome, st.User.Kind)
}

func TestRegister(t *testing.T) {
	f := newFixture(t, nil)
	form := RegisterForm{
		StudentName:   "Jiro",
		BarcodeNumber: "12345",
		Email:         "parent@example.com",
		ConfirmEmail:  "parent@example.org",
		Password:      "secret1",
	}

	err := f.c.Register(context.Background(), form)
	assert.Equal(t, apperr.MsgEmailMismatch, apperr.MsgIDOf(err))

	form.ConfirmEmail = form.Email
	form.Password = "12345"
	err = f.c.Register(context.Background(), form)
	assert.Equal(t, apperr.MsgPasswordTooShort, apperr.MsgIDOf(err))

	form.Password = "secret1"
	form.BarcodeNumber = "99999"
	err = f.c.Register(context.Background(), form)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Nil(t, f.c.Snapshot().User)

	form.BarcodeNumber = "12345"
	require.NoError(t, f.c.Register(context.Background(), form))
	st := f.c.Snapshot()
	assert.Equal(t, fmt.Sprintf("home_%d", start.UnixMilli()), st.User.ID)
	assert.Equal(t, NewHomeCredits, st.User.Credits)
	assert.Empty(t, st.User.HashedPassword, "digest not exposed")
	require.Len(t, f.backend.registered, 1)
	assert.Equal(t, credential.Digest("secret1"), f.backend.registered[0].HashedPassword)
}

func TestResetPasswordValidation(t *testing.T) {
	f := newFixture(t, nil)
	err := f.c.ResetPassword(context.Background(), ResetForm{
		Email: "parent@example.com", BarcodeNumber: "1", StudentName: "Jiro",
		Password: "secret1", ConfirmPassword: "secret2",
	})
	assert.Equal(t, apperr.MsgPasswordMismatch, apperr.MsgIDOf(err))

	err = f.c.ResetPassword(context.Background(), ResetForm{
		Email: "parent@example.com", BarcodeNumber: "1", StudentName: "Jiro",
		Password: "secret1", ConfirmPassword: "secret1",
	})
	assert.NoError(t, err)
}

func TestPurchaseRequiresParentVerification(t *testing.T) {
	f := newFixture(t, nil)
	u := model.User{ID: "home_5", Name: "Taro", Kind: model.AccountHome, ParentEmail: "parent@example.com", Credits: 42}
	f.backend.addHome("parent@example.com", "secret1", u)
	f.signInAs(t, u, model.Grade5)

	err := f.c.Purchase(context.Background(), PurchaseForm{Action: "purchase_credits", ParentEmail: "parent@example.com", Password: "nope"})
	assert.Equal(t, apperr.MsgVerificationFailed, apperr.MsgIDOf(err))

	err = f.c.Purchase(context.Background(), PurchaseForm{Action: "purchase_credits", ParentEmail: "other@example.com", Password: "secret1"})
	assert.Equal(t, apperr.MsgVerificationFailed, apperr.MsgIDOf(err))

	err = f.c.Purchase(context.Background(), PurchaseForm{Action: "gift", ParentEmail: "parent@example.com", Password: "secret1"})
	assert.Equal(t, apperr.MsgUnknownPurchase, apperr.MsgIDOf(err))

	_, _, purchases := f.backend.counts()
	assert.Zero(t, purchases)
	assert.Equal(t, 42.0, f.c.Snapshot().User.Credits)

	require.NoError(t, f.c.Purchase(context.Background(), PurchaseForm{Action: "purchase_credits", ParentEmail: "parent@example.com", Password: "secret1"}))
	st := f.c.Snapshot()
	assert.Equal(t, 45.0, st.User.Credits, "capped")
	assert.Equal(t, ViewDashboard, st.View)

	require.NoError(t, f.c.Purchase(context.Background(), PurchaseForm{Action: "subscribe", ParentEmail: "parent@example.com", Password: "secret1"}))
	assert.True(t, f.c.Snapshot().User.HasSubscription)

	err = f.c.Purchase(context.Background(), PurchaseForm{Action: "subscribe", ParentEmail: "parent@example.com", Password: "secret1"})
	assert.Equal(t, apperr.MsgAlreadySubscribed, apperr.MsgIDOf(err))

	_, _, purchases = f.backend.counts()
	assert.Equal(t, 2, purchases)
}

func TestDebugPurchaseStaysLocal(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.c.LoginDebug())

	require.NoError(t, f.c.Purchase(context.Background(), PurchaseForm{Action: "purchase_credits", ParentEmail: "x@example.com", Password: "any"}))
	assert.Equal(t, 104.0, f.c.Snapshot().User.Credits, "debug balance is not capped")

	logins, _, purchases := f.backend.counts()
	assert.Zero(t, logins)
	assert.Zero(t, purchases)
}

func TestRestoreAndLogout(t *testing.T) {
	f := newFixture(t, nil)
	f.signInAs(t, model.User{ID: "home_1", Kind: model.AccountHome, Credits: 1}, model.Grade5)
	require.NoError(t, f.c.SetDarkMode(true))

	restored, err := New("dev1", Config{Generator: f.gen, Backend: f.backend, Store: f.store, Clock: f.clock})
	require.NoError(t, err)
	defer restored.Close()
	st := restored.Snapshot()
	assert.Equal(t, ViewGradeSelection, st.View)
	assert.Equal(t, "home_1", st.User.ID)
	assert.True(t, st.DarkMode)

	require.NoError(t, restored.Logout())
	st = restored.Snapshot()
	assert.Equal(t, ViewLogin, st.View)
	assert.Nil(t, st.User)

	u, err := f.store.LoadUser("dev1")
	require.NoError(t, err)
	assert.Nil(t, u)
	dark, err := f.store.DarkMode("dev1")
	require.NoError(t, err)
	assert.True(t, dark, "dark mode survives logout")
}

func TestActionsRequireLogin(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, apperr.MsgNotLoggedIn, apperr.MsgIDOf(f.c.SelectGrade(model.Grade5)))
	assert.Equal(t, apperr.MsgNotLoggedIn, apperr.MsgIDOf(f.c.Navigate(ViewShop)))
	assert.Equal(t, apperr.MsgNoSession, apperr.MsgIDOf(f.c.Answer(0, 0)))
	assert.True(t, apperr.Is(f.c.SelectGrade("GRADE_3"), apperr.KindValidation))
}
