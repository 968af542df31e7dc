// Package prompts renders the generation and remake prompts sent to the
// question provider.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/eikenprep/internal/model"
)

//go:embed templates/*.tmpl
var embedded embed.FS

// maxThemeRunes bounds how much free text a theme may inject into a prompt.
const maxThemeRunes = 80

var (
	markupRegex = regexp.MustCompile(`(?s)<[^>]*>`)
	spaceRegex  = regexp.MustCompile(`\s+`)
)

var sectionRules = map[model.Section]string{
	model.Part1: "Vocabulary, grammar and fill-in-the-blank sentences with one \"( )\" blank each.",
	model.Part2: "Dialogue completion. Two speakers, use \"\\n\" to separate them in 'text'. The blank is the line the student chooses.",
	model.Part3: "Sentence ordering with a Japanese hint in 'text' and the scrambled English pieces in 'fragments'.",
	model.Part4: "Reading comprehension: posters, emails and short stories. Put the passage in 'context' and repeat it for every question about it.",
}

// Data is the template input for both prompt kinds.
type Data struct {
	Count        int
	GradeLabel   string
	Section      model.Section
	Type         model.QuestionType
	GradeRules   string
	SectionRules string
	Theme        string
	Previous     string
	Ordering     model.OrderingLayout
}

// Builder renders prompts from a parsed template set.
type Builder struct {
	tmpl       *template.Template
	gradeRules map[model.Grade]string
}

// Default returns a Builder backed by the embedded templates.
func Default() (*Builder, error) {
	return New(embedded)
}

// New parses the templates under templates/ in fsys. Every supported grade
// must have a grade_<GRADE>.tmpl rules file.
func New(fsys fs.FS) (*Builder, error) {
	tmpl, err := template.ParseFS(fsys,
		"templates/section.tmpl",
		"templates/remake.tmpl",
		"templates/ordering.tmpl",
	)
	if err != nil {
		return nil, fmt.Errorf("parse prompt templates: %w", err)
	}

	rules := make(map[model.Grade]string)
	for _, g := range model.SupportedGrades() {
		name := "templates/grade_" + string(g) + ".tmpl"
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read grade rules %s: %w", name, err)
		}
		rules[g] = strings.TrimSpace(string(content))
	}
	return &Builder{tmpl: tmpl, gradeRules: rules}, nil
}

// Section renders the prompt asking for count questions of one section.
func (b *Builder) Section(grade model.Grade, section model.Section, count int, theme string) (string, error) {
	data, err := b.data(grade, section, theme)
	if err != nil {
		return "", err
	}
	data.Count = count
	return b.render("section.tmpl", data)
}

// Remake renders the prompt asking for one replacement of q.
func (b *Builder) Remake(grade model.Grade, q model.Question, theme string) (string, error) {
	data, err := b.data(grade, q.Section(), theme)
	if err != nil {
		return "", err
	}
	data.Count = 1
	data.Previous = previousText(q)
	return b.render("remake.tmpl", data)
}

func (b *Builder) data(grade model.Grade, section model.Section, theme string) (Data, error) {
	spec, err := model.SpecFor(grade)
	if err != nil {
		return Data{}, err
	}
	if !spec.HasSection(section) {
		return Data{}, fmt.Errorf("section %s is not part of %s", section, grade.Label())
	}
	d := Data{
		GradeLabel:   grade.Label(),
		Section:      section,
		Type:         model.TypeFor(section),
		GradeRules:   b.gradeRules[grade],
		SectionRules: sectionRules[section],
		Theme:        SanitizeTheme(theme),
	}
	if section == model.Part3 {
		d.Ordering = spec.Ordering
	}
	return d, nil
}

func (b *Builder) render(name string, data Data) (string, error) {
	var buf bytes.Buffer
	if err := b.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func previousText(q model.Question) string {
	text := strings.TrimSpace(q.Text)
	if text == "" || text == "null" {
		return "(empty)"
	}
	return strings.ReplaceAll(text, `"`, `'`)
}

// SanitizeTheme strips markup and control whitespace from a free-text theme
// and caps its length. It returns "" when nothing usable is left.
func SanitizeTheme(theme string) string {
	theme = markupRegex.ReplaceAllString(theme, "")
	theme = strings.ReplaceAll(theme, `"`, "")
	theme = spaceRegex.ReplaceAllString(theme, " ")
	theme = strings.TrimSpace(theme)

	if utf8.RuneCountInString(theme) > maxThemeRunes {
		theme = strings.TrimSpace(string([]rune(theme)[:maxThemeRunes]))
	}
	return theme
}
