// Package llm generates exam questions through an OpenAI-compatible chat
// completion API and validates them into typed records.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/eikenprep/internal/apperr"
	"github.com/pavelanni/eikenprep/internal/llm/prompts"
	"github.com/pavelanni/eikenprep/internal/metrics"
	"github.com/pavelanni/eikenprep/internal/model"
)

// remakeAttempts is how many times a remake may come back identical to the
// question it replaces before giving up.
const remakeAttempts = 2

// Config configures the generator client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Retry   RetryConfig
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	hasKey  bool
	prompts *prompts.Builder
	retry   *retrier
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a generator client. A missing API key is not an error here;
// every generation call reports it instead.
func New(cfg Config) (*Client, error) {
	b, err := prompts.Default()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   cfg.Model,
		hasKey:  cfg.APIKey != "",
		prompts: b,
		retry:   newRetrier(cfg.Retry, logger),
		metrics: cfg.Metrics,
		logger:  logger,
	}, nil
}

// GenerateSection returns exactly the blueprint count of slots for one
// section. Items that parse but fail validation come back flagged for
// remake. A short batch is padded with remakes; surplus items are dropped.
func (c *Client) GenerateSection(ctx context.Context, grade model.Grade, section model.Section, theme string) ([]model.Slot, error) {
	const op = "generate section"

	spec, err := model.SpecFor(grade)
	if err != nil {
		return nil, apperr.Validation(op, apperr.MsgUnsupportedGrade, err)
	}
	want, ok := spec.Counts[section]
	if !ok {
		return nil, apperr.Validation(op, apperr.MsgUnsupportedSection, fmt.Errorf("%s has no %s", grade, section))
	}

	prompt, err := c.prompts.Section(grade, section, want, theme)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	raw, err := c.complete(ctx, op, prompt)
	if err != nil {
		c.metrics.Generation("section", string(apperr.KindOf(err)))
		return nil, err
	}

	items, err := decodeQuestions(raw)
	if err != nil {
		c.logger.Debug("unparseable generator output", "section", section, "raw", raw)
		c.metrics.Generation("section", string(apperr.KindMalformed))
		return nil, apperr.Malformed(op, err)
	}

	if len(items) > want {
		c.logger.Info("generator returned extra questions", "section", section, "got", len(items), "want", want)
		items = items[:want]
	}
	slots := make([]model.Slot, 0, want)
	for i, rq := range items {
		slots = append(slots, toSlot(rq, spec, section, i))
	}

	for len(slots) < want {
		c.logger.Info("padding short batch", "section", section, "got", len(slots), "want", want)
		placeholder := model.Question{ID: len(slots), Type: model.TypeFor(section), Category: string(section)}
		q, err := c.Remake(ctx, grade, placeholder, theme)
		if err != nil {
			c.metrics.Generation("section", string(apperr.KindContract))
			return nil, apperr.New(apperr.KindContract, op, apperr.MsgShortBatch,
				fmt.Errorf("%s returned %d of %d questions: %w", section, len(slots), want, err))
		}
		slots = append(slots, model.Slot{Question: q})
	}

	c.metrics.Generation("section", "ok")
	return slots, nil
}

// Remake returns one valid replacement for q with the same id, type and
// category but different content.
func (c *Client) Remake(ctx context.Context, grade model.Grade, q model.Question, theme string) (model.Question, error) {
	const op = "remake question"

	spec, err := model.SpecFor(grade)
	if err != nil {
		return model.Question{}, apperr.Validation(op, apperr.MsgUnsupportedGrade, err)
	}
	section := q.Section()
	if !spec.HasSection(section) {
		return model.Question{}, apperr.Validation(op, apperr.MsgUnsupportedSection, fmt.Errorf("%s has no %s", grade, section))
	}

	prompt, err := c.prompts.Remake(grade, q, theme)
	if err != nil {
		return model.Question{}, fmt.Errorf("%s: %w", op, err)
	}

	var problem string
	for range remakeAttempts {
		raw, err := c.complete(ctx, op, prompt)
		if err != nil {
			c.metrics.Generation("remake", string(apperr.KindOf(err)))
			return model.Question{}, err
		}
		items, err := decodeQuestions(raw)
		if err != nil {
			c.metrics.Generation("remake", string(apperr.KindMalformed))
			return model.Question{}, apperr.Malformed(op, err)
		}
		if len(items) == 0 {
			problem = "no question returned"
			continue
		}
		slot := toSlot(items[0], spec, section, q.ID)
		if !slot.Usable() {
			problem = slot.Problem
			continue
		}
		if sameContent(slot.Question, q) {
			problem = "replacement identical to original"
			continue
		}
		c.metrics.Generation("remake", "ok")
		return slot.Question, nil
	}

	c.metrics.Generation("remake", string(apperr.KindMalformed))
	return model.Question{}, apperr.Malformed(op, errors.New(problem))
}

func sameContent(a, b model.Question) bool {
	if a.Text != b.Text || len(a.Options) != len(b.Options) {
		return false
	}
	for i := range a.Options {
		if a.Options[i] != b.Options[i] {
			return false
		}
	}
	return true
}

// complete sends one prompt and returns the raw message content.
func (c *Client) complete(ctx context.Context, op, prompt string) (string, error) {
	if !c.hasKey {
		return "", apperr.Config(op, apperr.MsgGeneratorNotConfigured, errors.New("no API key configured"))
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You write Eiken practice questions. Answer with JSON only."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "eiken_questions",
				Schema: batchSchema(),
			},
		},
		Temperature: 0.7,
	}

	return c.retry.do(ctx, op, func(ctx context.Context) (string, error) {
		c.metrics.GeneratorAttempt()
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			return "", classify(op, err)
		}
		if len(resp.Choices) == 0 {
			return "", apperr.Malformed(op, errors.New("no choices"))
		}
		raw := resp.Choices[0].Message.Content
		c.logger.Debug("generator response", "op", op, "bytes", len(raw))
		return raw, nil
	})
}
