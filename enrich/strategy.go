package enrich

import (
	_ "embed"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/teranos/carbonfill/errors"
	"github.com/teranos/carbonfill/lca"
)

//go:embed strategies.yaml
var strategiesYAML []byte

// Field is a stage attribute the model may fill
type Field struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}

// Pattern is one named text pattern. Group 1 captures the 1-based position,
// group 2 the value written to Field.
type Pattern struct {
	Name     string `yaml:"name"`
	Priority int    `yaml:"priority"`
	Field    string `yaml:"field"`
	Regex    string `yaml:"regex"`

	re *regexp.Regexp
}

// Strategy is the prompt and extraction recipe for one stage
type Strategy struct {
	Stage    lca.Stage `yaml:"stage"`
	Role     string    `yaml:"role"`
	Task     string    `yaml:"task"`
	Unit     string    `yaml:"unit"`
	Context  []string  `yaml:"context"`
	Fields   []Field   `yaml:"fields"`
	Patterns []Pattern `yaml:"patterns"`

	// Shared parts of the table, filled by LoadStrategies
	Banding string `yaml:"-"`
	shared  []Pattern
}

// HasField reports whether name is an attribute this stage may fill.
func (s Strategy) HasField(name string) bool {
	for _, f := range s.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// AllPatterns returns the shared and stage patterns ordered by priority.
func (s Strategy) AllPatterns() []Pattern {
	all := make([]Pattern, 0, len(s.shared)+len(s.Patterns))
	all = append(all, s.shared...)
	all = append(all, s.Patterns...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Priority < all[j].Priority })
	return all
}

// Strategies maps every stage to its strategy
type Strategies struct {
	byStage map[lca.Stage]Strategy
}

// For returns the strategy of a stage. Unknown stages fall back to raw_material,
// matching the default stage of a node.
func (s *Strategies) For(stage lca.Stage) Strategy {
	if st, ok := s.byStage[stage]; ok {
		return st
	}
	return s.byStage[lca.StageRawMaterial]
}

type strategyFile struct {
	Banding  string     `yaml:"banding"`
	Patterns []Pattern  `yaml:"patterns"`
	Stages   []Strategy `yaml:"stages"`
}

// LoadStrategies decodes a strategy table and compiles its patterns. Every
// stage must be present exactly once.
func LoadStrategies(data []byte) (*Strategies, error) {
	var file strategyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "failed to decode strategy table")
	}

	if err := compilePatterns(file.Patterns); err != nil {
		return nil, err
	}

	table := &Strategies{byStage: make(map[lca.Stage]Strategy, len(file.Stages))}
	for _, st := range file.Stages {
		if !st.Stage.Valid() {
			return nil, errors.Newf("strategy table names unknown stage %q", st.Stage)
		}
		if _, dup := table.byStage[st.Stage]; dup {
			return nil, errors.Newf("strategy table lists stage %q twice", st.Stage)
		}
		if err := compilePatterns(st.Patterns); err != nil {
			return nil, errors.Wrapf(err, "stage %s", st.Stage)
		}
		if st.Unit == "" {
			st.Unit = lca.DefaultCarbonFactorUnit
		}
		st.Banding = file.Banding
		st.shared = file.Patterns
		table.byStage[st.Stage] = st
	}

	for _, stage := range lca.Stages {
		if _, ok := table.byStage[stage]; !ok {
			return nil, errors.Newf("strategy table is missing stage %q", stage)
		}
	}
	return table, nil
}

func compilePatterns(patterns []Pattern) error {
	for i := range patterns {
		re, err := regexp.Compile(patterns[i].Regex)
		if err != nil {
			return errors.Wrapf(err, "pattern %s", patterns[i].Name)
		}
		if re.NumSubexp() < 2 {
			return errors.Newf("pattern %s needs a position and a value group", patterns[i].Name)
		}
		if patterns[i].Field == "" {
			patterns[i].Field = "carbonFactor"
		}
		patterns[i].re = re
	}
	return nil
}

// DefaultStrategies returns the embedded strategy table.
func DefaultStrategies() *Strategies {
	table, err := LoadStrategies(strategiesYAML)
	if err != nil {
		panic(errors.AssertionFailedf("embedded strategy table: %v", err))
	}
	return table
}
