package progress

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/pavelanni/eikenprep/internal/apperr"
	"github.com/pavelanni/eikenprep/internal/model"
)

// CheckStart reports whether u may start a session of plan p. It must run
// before any question is generated and never changes u.
func (m *Model) CheckStart(u model.User, p model.Plan, now time.Time) error {
	const op = "check start"

	if _, err := p.Sections(); err != nil {
		return planError(op, err)
	}
	if u.Metered() && u.Credits < m.rules.Cost(p) {
		return apperr.Eligibility(op, apperr.MsgInsufficientTickets)
	}

	st := u.Stats.Clone()
	st.ResetDaily(model.DayKey(now))
	if u.EffectiveKind() != model.AccountSchool {
		if !p.Target && capped(st.DailyMockExamsCount, m.rules.DailyMockCap) {
			return apperr.Eligibility(op, apperr.MsgDailyMockCap)
		}
		if p.Target && capped(st.DailyTargetCount, m.rules.DailyTargetCap) {
			return apperr.Eligibility(op, apperr.MsgDailyTargetCap)
		}
	}

	if p.Theme != "" && u.Metered() {
		st.ResetMonthly(model.MonthKey(now), m.rules.ThemeMonthlyUses)
		if st.ThemeUsesRemaining <= 0 {
			return apperr.Eligibility(op, apperr.MsgThemeCap)
		}
	}
	return nil
}

// CheckRemake reports whether u may regenerate another question today.
func (m *Model) CheckRemake(u model.User, now time.Time) error {
	if u.EffectiveKind() == model.AccountDebug {
		return nil
	}
	st := u.Stats
	st.ResetRemakes(model.DayKey(now))
	if capped(st.RemakeCountToday, m.rules.DailyRemakeCap) {
		return apperr.Eligibility("check remake", apperr.MsgDailyRemakeCap)
	}
	return nil
}

// RecordRemake counts one successful remake.
func (m *Model) RecordRemake(u model.User, now time.Time) model.User {
	out := u.Clone()
	out.Stats.ResetRemakes(model.DayKey(now))
	out.Stats.RemakeCountToday++
	return out
}

// A cap of zero or less disables the limit.
func capped(count, limit int) bool {
	return limit > 0 && count >= limit
}

// Purchase is a shop action.
type Purchase string

const (
	PurchaseCredits Purchase = "purchase_credits"
	Subscribe       Purchase = "subscribe"
	Unsubscribe     Purchase = "unsubscribe"
)

// ApplyPurchase returns u after a shop action. Balances are capped except
// for debug accounts.
func (m *Model) ApplyPurchase(u model.User, action Purchase) (model.User, error) {
	const op = "apply purchase"

	out := u.Clone()
	switch action {
	case PurchaseCredits:
		out.Credits = m.topUp(out, m.rules.CreditPack)
	case Subscribe:
		if out.HasSubscription {
			return u, apperr.Validation(op, apperr.MsgAlreadySubscribed, nil)
		}
		out.HasSubscription = true
		out.Credits = m.topUp(out, m.rules.SubscriptionBonus)
	case Unsubscribe:
		if !out.HasSubscription {
			return u, apperr.Validation(op, apperr.MsgNotSubscribed, nil)
		}
		out.HasSubscription = false
	default:
		return u, apperr.Validation(op, apperr.MsgUnknownPurchase, fmt.Errorf("unknown purchase %q", action))
	}
	return out, nil
}

func (m *Model) topUp(u model.User, amount float64) float64 {
	total := Round10(u.Credits + amount)
	if u.EffectiveKind() == model.AccountDebug || m.rules.CreditCap <= 0 {
		return total
	}
	return math.Min(m.rules.CreditCap, total)
}

// planError tags a Plan.Sections failure with the message for the part of
// the plan that is unsupported.
func planError(op string, err error) error {
	if errors.Is(err, model.ErrUnsupportedSection) {
		return apperr.Validation(op, apperr.MsgUnsupportedSection, err)
	}
	return apperr.Validation(op, apperr.MsgUnsupportedGrade, err)
}
