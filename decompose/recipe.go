package decompose

import (
	_ "embed"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/teranos/carbonfill/enrich"
	"github.com/teranos/carbonfill/errors"
)

//go:embed recipe.yaml
var recipeYAML []byte

// lineGroups are the named groups the free-text pattern must carry
var lineGroups = []string{"name", "percentage", "weight", "unit", "factor"}

// Recipe is the prompt and extraction table for decomposition
type Recipe struct {
	Role    string         `yaml:"role"`
	Rules   []string       `yaml:"rules"`
	Task    string         `yaml:"task"`
	Fields  []enrich.Field `yaml:"fields"`
	Columns struct {
		Factor     []string `yaml:"factor"`
		Percentage []string `yaml:"percentage"`
		Weight     []string `yaml:"weight"`
		Source     []string `yaml:"source"`
		Name       []string `yaml:"name"`
	} `yaml:"columns"`
	Cells struct {
		Percentage string `yaml:"percentage"`
		Weight     string `yaml:"weight"`
		Factor     string `yaml:"factor"`
	} `yaml:"cells"`
	Line string `yaml:"line"`

	percentage *regexp.Regexp
	weight     *regexp.Regexp
	factor     *regexp.Regexp
	line       *regexp.Regexp
}

// LoadRecipe decodes a recipe and compiles its patterns.
func LoadRecipe(data []byte) (*Recipe, error) {
	var r Recipe
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrap(err, "failed to decode decomposition recipe")
	}
	if r.Role == "" || len(r.Fields) == 0 {
		return nil, errors.New("decomposition recipe needs a role and fields")
	}
	if len(r.Columns.Name) == 0 {
		return nil, errors.New("decomposition recipe needs material column keywords")
	}

	var err error
	if r.percentage, err = compileCell("percentage", r.Cells.Percentage, 1); err != nil {
		return nil, err
	}
	if r.weight, err = compileCell("weight", r.Cells.Weight, 2); err != nil {
		return nil, err
	}
	if r.factor, err = compileCell("factor", r.Cells.Factor, 1); err != nil {
		return nil, err
	}

	r.line, err = regexp.Compile(r.Line)
	if err != nil {
		return nil, errors.Wrap(err, "line pattern")
	}
	for _, name := range lineGroups {
		if r.line.SubexpIndex(name) < 0 {
			return nil, errors.Newf("line pattern is missing group %q", name)
		}
	}
	return &r, nil
}

func compileCell(name, expr string, groups int) (*regexp.Regexp, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, errors.Wrapf(err, "cell pattern %s", name)
	}
	if re.NumSubexp() < groups {
		return nil, errors.Newf("cell pattern %s needs %d groups", name, groups)
	}
	return re, nil
}

// column names a table column by its header cell. Factor keywords are
// checked first so "Carbon factor (kgCO2e/kg)" is a factor, not a weight.
func (r *Recipe) column(header string) string {
	h := strings.ToLower(header)
	for _, c := range []struct {
		kind     string
		keywords []string
	}{
		{"factor", r.Columns.Factor},
		{"percentage", r.Columns.Percentage},
		{"weight", r.Columns.Weight},
		{"source", r.Columns.Source},
		{"name", r.Columns.Name},
	} {
		for _, k := range c.keywords {
			if strings.Contains(h, strings.ToLower(k)) {
				return c.kind
			}
		}
	}
	return ""
}

// DefaultRecipe returns the embedded recipe.
func DefaultRecipe() *Recipe {
	r, err := LoadRecipe(recipeYAML)
	if err != nil {
		panic(errors.AssertionFailedf("embedded decomposition recipe: %v", err))
	}
	return r
}
