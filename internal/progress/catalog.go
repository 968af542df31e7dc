package progress

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pavelanni/eikenprep/internal/model"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Condition names a badge award rule.
type Condition string

const (
	// CondSessions counts every scored session.
	CondSessions Condition = "sessions"
	// CondPerfect is a full score in this session, filtered by Mode.
	CondPerfect Condition = "perfect"
	// CondDailyMocks counts mock exams taken today.
	CondDailyMocks Condition = "daily_mocks"
	// CondDailySection counts targeted practices of one section today.
	CondDailySection Condition = "daily_section"
	// CondDailySweep is every section of the grade passed as targeted practice today.
	CondDailySweep Condition = "daily_sweep"
	// CondAnswered counts questions answered across all sessions.
	CondAnswered Condition = "answered"
	// CondStreak is the consecutive-day study streak.
	CondStreak Condition = "streak"
	// CondSectionCompletions counts targeted practices of one section overall.
	CondSectionCompletions Condition = "section_completions"
	// CondThemeMastery is every section of the grade passed for the session theme.
	CondThemeMastery Condition = "theme_mastery"
)

var thresholdConditions = map[Condition]bool{
	CondSessions:           true,
	CondDailyMocks:         true,
	CondDailySection:       true,
	CondAnswered:           true,
	CondStreak:             true,
	CondSectionCompletions: true,
}

var sectionConditions = map[Condition]bool{
	CondDailySection:       true,
	CondSectionCompletions: true,
}

// Rule is one catalog entry. ID and the text fields may carry placeholders
// that are filled in per section or per theme.
type Rule struct {
	ID            string    `yaml:"id"`
	Name          string    `yaml:"name"`
	Description   string    `yaml:"description"`
	JPDescription string    `yaml:"jpDescription"`
	Icon          string    `yaml:"icon"`
	Color         string    `yaml:"color"`
	Repeatable    bool      `yaml:"repeatable"`
	Condition     Condition `yaml:"condition"`
	Threshold     int       `yaml:"threshold"`
	Mode          string    `yaml:"mode"`
}

// SectionScoped reports whether the rule is evaluated for the practiced section.
func (r Rule) SectionScoped() bool {
	return strings.Contains(r.ID, "{section}")
}

// Catalog is the ordered, read-only list of badge rules.
type Catalog struct {
	Rules []Rule `yaml:"badges"`
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded badge catalog: %v", err))
	}
	return c
}

// LoadCatalog reads a catalog from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open badge catalog: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read badge catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and checks a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse badge catalog: %w", err)
	}
	if len(c.Rules) == 0 {
		return nil, fmt.Errorf("badge catalog has no rules")
	}

	seen := make(map[string]bool)
	for i, r := range c.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("badge rule %d has no id", i)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate badge id %q", r.ID)
		}
		seen[r.ID] = true

		switch r.Condition {
		case CondSessions, CondDailyMocks, CondDailySection, CondAnswered, CondStreak,
			CondSectionCompletions, CondDailySweep, CondThemeMastery:
		case CondPerfect:
			switch r.Mode {
			case "mock", "target", "any", "":
			default:
				return nil, fmt.Errorf("badge %q: unknown mode %q", r.ID, r.Mode)
			}
		default:
			return nil, fmt.Errorf("badge %q: unknown condition %q", r.ID, r.Condition)
		}
		if thresholdConditions[r.Condition] && r.Threshold <= 0 {
			return nil, fmt.Errorf("badge %q: condition %s needs a positive threshold", r.ID, r.Condition)
		}
		if sectionConditions[r.Condition] && !r.SectionScoped() {
			return nil, fmt.Errorf("badge %q: condition %s needs {section} in the id", r.ID, r.Condition)
		}
		if r.Condition == CondThemeMastery && !strings.Contains(r.ID, "{theme}") {
			return nil, fmt.Errorf("badge %q: theme mastery needs {theme} in the id", r.ID)
		}
	}
	return &c, nil
}

var sectionJA = map[model.Section]string{
	model.Part1: "語彙・文法",
	model.Part2: "対話文",
	model.Part3: "並び替え",
	model.Part4: "読解",
}

// expand fills the placeholders of a rule's text fields.
func expand(r Rule, section model.Section, theme string) Rule {
	label := theme
	if fields := strings.Fields(theme); len(fields) > 0 {
		label = fields[0]
	}
	rep := strings.NewReplacer(
		"{section}", string(section),
		"{part}", strings.Replace(string(section), "PART_", "Part ", 1),
		"{section_ja}", sectionJA[section],
		"{theme}", theme,
		"{theme_label}", label,
	)
	r.ID = rep.Replace(r.ID)
	r.Name = rep.Replace(r.Name)
	r.Description = rep.Replace(r.Description)
	r.JPDescription = rep.Replace(r.JPDescription)
	return r
}
