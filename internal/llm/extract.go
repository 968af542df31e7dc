package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pavelanni/eikenprep/internal/model"
)

var errNoJSON = errors.New("no JSON object or array in output")

// rawQuestion is the loosely typed item as the generator returns it. Context
// stays raw because some generators put the ordering fragments there.
type rawQuestion struct {
	Type          string          `json:"type"`
	Context       json.RawMessage `json:"context"`
	Fragments     []string        `json:"fragments"`
	Text          string          `json:"text"`
	Skeleton      string          `json:"skeleton"`
	Options       []string        `json:"options"`
	CorrectAnswer *int            `json:"correctAnswer"`
	Explanation   string          `json:"explanation"`
	Category      string          `json:"category"`
}

type batch struct {
	Questions []rawQuestion `json:"questions"`
}

// extractJSON returns the JSON object or array embedded in raw, dropping
// surrounding prose and markdown fences. Brackets in the prose, as in
// "the [5] questions", do not count as the start of the payload.
func extractJSON(raw string) ([]byte, error) {
	data := []byte(strings.TrimSpace(raw))
	if json.Valid(data) {
		return data, nil
	}
	if body, ok := fencedBlock(data); ok && json.Valid(body) {
		return body, nil
	}

	opened := false
	for start, c := range data {
		closing := byte('}')
		switch c {
		case '{':
		case '[':
			closing = ']'
		default:
			continue
		}
		opened = true
		end := bytes.LastIndexByte(data, closing)
		if end <= start {
			continue
		}
		if candidate := data[start : end+1]; json.Valid(candidate) {
			return candidate, nil
		}
	}
	if !opened {
		return nil, errNoJSON
	}
	return nil, errors.New("no valid JSON object or array in output")
}

// fencedBlock returns the body of the first ``` fence in data, without the
// language tag line.
func fencedBlock(data []byte) ([]byte, bool) {
	_, rest, ok := bytes.Cut(data, []byte("```"))
	if !ok {
		return nil, false
	}
	nl := bytes.IndexByte(rest, '\n')
	if nl < 0 {
		return nil, false
	}
	body, _, ok := bytes.Cut(rest[nl+1:], []byte("```"))
	if !ok {
		return nil, false
	}
	return bytes.TrimSpace(body), true
}

// decodeQuestions accepts {"questions": [...]}, a bare array, or a single
// question object.
func decodeQuestions(raw string) ([]rawQuestion, error) {
	data, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}

	if data[0] == '[' {
		var qs []rawQuestion
		if err := json.Unmarshal(data, &qs); err != nil {
			return nil, fmt.Errorf("decode question array: %w", err)
		}
		return qs, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	if _, ok := probe["questions"]; ok {
		var b batch
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("decode questions: %w", err)
		}
		return b.Questions, nil
	}
	if _, ok := probe["options"]; ok {
		var q rawQuestion
		if err := json.Unmarshal(data, &q); err != nil {
			return nil, fmt.Errorf("decode question: %w", err)
		}
		return []rawQuestion{q}, nil
	}
	return nil, errors.New("object has neither questions nor options")
}

// toSlot coerces a raw item into a Question of the requested section and
// checks it. Type and category always follow the section, whatever the
// generator wrote.
func toSlot(rq rawQuestion, spec model.GradeSpec, section model.Section, id int) model.Slot {
	q := model.Question{
		ID:          id,
		Type:        model.TypeFor(section),
		Text:        strings.TrimSpace(rq.Text),
		Skeleton:    strings.TrimSpace(rq.Skeleton),
		Options:     rq.Options,
		Explanation: rq.Explanation,
		Category:    string(section),
		Fragments:   rq.Fragments,
	}
	if rq.CorrectAnswer != nil {
		q.CorrectAnswer = *rq.CorrectAnswer
	}

	ctxText, ctxList := decodeContext(rq.Context)
	q.Context = ctxText
	if len(q.Fragments) == 0 && len(ctxList) > 0 {
		q.Fragments = ctxList
	}

	slot := model.Slot{Question: q}
	if problem := check(&slot.Question, rq.CorrectAnswer != nil, spec); problem != "" {
		slot.NeedsRemake = true
		slot.Problem = problem
	}
	return slot
}

func decodeContext(raw json.RawMessage) (string, []string) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return "", list
	}
	return "", nil
}

// check returns a non-empty description when the question cannot be used.
// A missing ordering skeleton is filled in from the grade layout.
func check(q *model.Question, hasAnswer bool, spec model.GradeSpec) string {
	if q.Text == "" || strings.EqualFold(q.Text, "null") {
		return "empty text"
	}
	if len(q.Options) != 4 {
		return fmt.Sprintf("%d options, want 4", len(q.Options))
	}
	for _, o := range q.Options {
		if strings.TrimSpace(o) == "" {
			return "empty option"
		}
	}
	if !hasAnswer {
		return "missing correct answer"
	}
	if q.CorrectAnswer < 0 || q.CorrectAnswer > 3 {
		return fmt.Sprintf("correct answer %d out of range", q.CorrectAnswer)
	}

	if q.Type != model.TypeSentenceOrder {
		return ""
	}
	layout := spec.Ordering
	if len(q.Fragments) != layout.Fragments {
		return fmt.Sprintf("%d fragments, want %d", len(q.Fragments), layout.Fragments)
	}
	if q.Skeleton == "" {
		q.Skeleton = layout.Skeleton() + " ."
		return ""
	}
	if normalizeSkeleton(q.Skeleton) != normalizeSkeleton(layout.Skeleton()) {
		return fmt.Sprintf("skeleton %q does not mark %s of %d", q.Skeleton, layout.MarkedText(), layout.Fragments)
	}
	return ""
}

// normalizeSkeleton drops whitespace and the closing punctuation so
// "[1] ( ) [3] ( )?" and "[ 1 ] ( ) [ 3 ] ( ) ." compare equal.
func normalizeSkeleton(s string) string {
	s = strings.Join(strings.Fields(s), "")
	return strings.TrimRight(s, ".?!")
}
