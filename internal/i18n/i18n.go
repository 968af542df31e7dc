// Package i18n holds the English and Japanese user-facing messages. Message
// ids are apperr.MsgID values: the error ids declared by apperr and the page
// texts declared here.
package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"

	"github.com/pavelanni/eikenprep/internal/apperr"
)

// Page texts.
const (
	MsgAppTitle          apperr.MsgID = "AppTitle"
	MsgGeneratingSection apperr.MsgID = "GeneratingSection"
	MsgQuestionsLeft     apperr.MsgID = "QuestionsLeft"
	MsgScoreLine         apperr.MsgID = "ScoreLine"
	MsgPasswordResetDone apperr.MsgID = "PasswordResetDone"
)

// Messages lists every id the locale files must translate.
func Messages() []apperr.MsgID {
	return append([]apperr.MsgID{
		MsgAppTitle, MsgGeneratingSection, MsgQuestionsLeft, MsgScoreLine, MsgPasswordResetDone,
	}, apperr.Messages()...)
}

//go:embed locales/*.json
var localeFS embed.FS

type ctxKey struct{}

var bundle *i18n.Bundle

// Init loads the English and Japanese messages with lang as the fallback.
func Init(lang string) error {
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("parse language %q: %w", lang, err)
	}

	b := i18n.NewBundle(tag)
	b.RegisterUnmarshalFunc("json", json.Unmarshal)
	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return fmt.Errorf("read locales dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + e.Name())
		if err != nil {
			return fmt.Errorf("read locale file %s: %w", e.Name(), err)
		}
		if _, err := b.ParseMessageFileBytes(data, e.Name()); err != nil {
			return fmt.Errorf("parse locale file %s: %w", e.Name(), err)
		}
		slog.Debug("loaded locale file", "file", e.Name())
	}
	bundle = b
	return nil
}

// NewLocalizer creates a localizer for the first matching language. Entries
// may be tags or Accept-Language header values; empty entries are skipped.
func NewLocalizer(langs ...string) *i18n.Localizer {
	var prefs []string
	for _, l := range langs {
		if l != "" {
			prefs = append(prefs, l)
		}
	}
	return i18n.NewLocalizer(bundle, prefs...)
}

// WithLocalizer stores a localizer in the context.
func WithLocalizer(ctx context.Context, loc *i18n.Localizer) context.Context {
	return context.WithValue(ctx, ctxKey{}, loc)
}

func localizerFromCtx(ctx context.Context) *i18n.Localizer {
	if loc, ok := ctx.Value(ctxKey{}).(*i18n.Localizer); ok {
		return loc
	}
	return i18n.NewLocalizer(bundle, "en")
}

// localize renders id and falls back to the id itself when it has no
// translation.
func localize(ctx context.Context, id apperr.MsgID, cfg i18n.LocalizeConfig) string {
	cfg.MessageID = string(id)
	s, err := localizerFromCtx(ctx).Localize(&cfg)
	if err != nil {
		slog.Warn("missing translation", "id", id, "error", err)
		return string(id)
	}
	return s
}

// T translates a message.
func T(ctx context.Context, id apperr.MsgID) string {
	return localize(ctx, id, i18n.LocalizeConfig{})
}

// Td translates a message with template data.
func Td(ctx context.Context, id apperr.MsgID, data map[string]any) string {
	return localize(ctx, id, i18n.LocalizeConfig{TemplateData: data})
}

// Tp translates a message with a plural count, available to the template
// as .Count.
func Tp(ctx context.Context, id apperr.MsgID, count int) string {
	return localize(ctx, id, i18n.LocalizeConfig{
		PluralCount:  count,
		TemplateData: map[string]any{"Count": count},
	})
}

// Error translates the message carried by err, ErrUnknown for untagged
// errors.
func Error(ctx context.Context, err error) string {
	return T(ctx, apperr.MsgIDOf(err))
}
