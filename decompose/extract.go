package decompose

import (
	"encoding/json"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/teranos/carbonfill/enrich"
	"github.com/teranos/carbonfill/errors"
)

// draft is one material as the model stated it. Missing numbers stay nil.
type draft struct {
	Name         string   `mapstructure:"name"`
	Percentage   *float64 `mapstructure:"percentage"`
	Weight       *float64 `mapstructure:"weight"`
	Unit         string   `mapstructure:"unit"`
	CarbonFactor *float64 `mapstructure:"carbonFactor"`
	DataSource   string   `mapstructure:"dataSource"`
}

type extractor interface {
	name() string
	extract(raw string) ([]draft, error)
}

// chain tries extractors in order and reports every failure when none succeeds.
func chain(raw string, extractors ...extractor) ([]draft, string, error) {
	failure := &enrich.ParseFailure{}
	for _, ex := range extractors {
		drafts, err := ex.extract(raw)
		if err == nil {
			return drafts, ex.name(), nil
		}
		failure.Attempts = append(failure.Attempts, enrich.Attempt{Extractor: ex.name(), Err: err})
	}
	return nil, "", failure
}

// jsonMaterials reads a fenced or bare JSON array of materials
type jsonMaterials struct{}

var materialKeys = []string{"materials", "components", "items", "data"}

// keyAliases maps spellings models use to the draft fields
var keyAliases = map[string]string{
	"material":      "name",
	"material_name": "name",
	"materialName":  "name",
	"component":     "name",
	"share":         "percentage",
	"percent":       "percentage",
	"carbon_factor": "carbonFactor",
	"factor":        "carbonFactor",
	"data_source":   "dataSource",
	"source":        "dataSource",
}

func (jsonMaterials) name() string { return "json" }

func (jsonMaterials) extract(raw string) ([]draft, error) {
	body := enrich.FencedBody(raw)
	if body == "" {
		return nil, errors.New("no JSON content")
	}
	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, errors.Wrap(err, "invalid JSON")
	}

	var elems []any
	switch v := doc.(type) {
	case []any:
		elems = v
	case map[string]any:
		for _, key := range materialKeys {
			if arr, ok := v[key].([]any); ok {
				elems = arr
				break
			}
		}
		if elems == nil {
			return nil, errors.New("JSON object holds no materials array")
		}
	default:
		return nil, errors.Newf("JSON answer is a %T, not an array or object", doc)
	}

	drafts := make([]draft, 0, len(elems))
	for i, e := range elems {
		obj, ok := e.(map[string]any)
		if !ok {
			return nil, errors.Newf("element %d is a %T, not an object", i, e)
		}
		d, err := decodeDraft(obj)
		if err != nil {
			return nil, errors.Wrapf(err, "element %d", i)
		}
		drafts = append(drafts, d)
	}
	if len(drafts) == 0 {
		return nil, errors.New("empty materials array")
	}
	return drafts, nil
}

func decodeDraft(obj map[string]any) (draft, error) {
	in := make(map[string]any, len(obj))
	for k, v := range obj {
		in[k] = v
	}
	for alias, key := range keyAliases {
		if v, ok := in[alias]; ok {
			if _, set := in[key]; !set {
				in[key] = v
			}
		}
	}

	var d draft
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &d,
		WeaklyTypedInput: true,
		DecodeHook:       numberText,
	})
	if err != nil {
		return d, errors.Wrap(err, "failed to build material decoder")
	}
	return d, dec.Decode(in)
}

// numberText accepts "60%" for numeric fields on top of enrich.BlankToNil.
func numberText(from, to reflect.Type, data any) (any, error) {
	data, err := enrich.BlankToNil(from, to, data)
	if err != nil || data == nil {
		return data, err
	}
	if s, ok := data.(string); ok && to.Kind() == reflect.Ptr {
		return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%")), nil
	}
	return data, nil
}

var (
	number   = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	unitText = regexp.MustCompile(`(?i)(千克|kg)|(克|\bg\b)`)
)

// unitOf finds a weight unit in text, "" when none is named.
func unitOf(text string) string {
	m := unitText.FindStringSubmatch(text)
	switch {
	case m == nil:
		return ""
	case m[1] != "":
		return UnitKilogram
	default:
		return UnitGram
	}
}

func firstNumber(text string) *float64 {
	m := number.FindString(text)
	if m == "" {
		return nil
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return nil
	}
	return &v
}

// tableMaterials reads markdown table rows. A header row maps columns; cells
// it does not explain are read with the recipe's cell patterns.
type tableMaterials struct {
	recipe *Recipe
}

func (tableMaterials) name() string { return "table" }

func (t tableMaterials) extract(raw string) ([]draft, error) {
	var (
		drafts  []draft
		columns map[int]string
		headers []string
		inTable bool
	)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, "|") {
			inTable = false
			continue
		}
		if strings.Trim(line, "|-: ") == "" {
			continue
		}
		cells := splitRow(line)
		if !inTable {
			inTable = true
			columns, headers = t.header(cells)
			if columns != nil {
				continue
			}
		}
		if d, ok := t.row(cells, columns, headers); ok {
			drafts = append(drafts, d)
		}
	}
	if len(drafts) == 0 {
		return nil, errors.New("no material table rows")
	}
	return drafts, nil
}

func splitRow(line string) []string {
	var cells []string
	for _, c := range strings.Split(line, "|") {
		if c = strings.TrimSpace(c); c != "" {
			cells = append(cells, c)
		}
	}
	return cells
}

// header returns the column kinds of a header row, nil when cells hold no
// material column.
func (t tableMaterials) header(cells []string) (map[int]string, []string) {
	columns := make(map[int]string, len(cells))
	seen := make(map[string]bool, len(cells))
	hasName := false
	for i, c := range cells {
		kind := t.recipe.column(c)
		if kind == "" || seen[kind] {
			continue
		}
		seen[kind] = true
		columns[i] = kind
		hasName = hasName || kind == "name"
	}
	if !hasName {
		return nil, nil
	}
	return columns, cells
}

func (t tableMaterials) row(cells []string, columns map[int]string, headers []string) (draft, bool) {
	if len(cells) < 4 {
		return draft{}, false
	}
	d := draft{Name: cells[0]}
	used := map[int]bool{0: true}

	for i, kind := range columns {
		if i >= len(cells) {
			continue
		}
		cell := cells[i]
		switch kind {
		case "name":
			d.Name = cell
		case "percentage":
			d.Percentage = firstNumber(cell)
		case "weight":
			d.Weight = firstNumber(cell)
			if d.Unit = unitOf(cell); d.Unit == "" {
				d.Unit = unitOf(headers[i])
			}
		case "factor":
			d.CarbonFactor = firstNumber(cell)
		case "source":
			d.DataSource = cell
		}
		used[i] = true
	}

	for i, cell := range cells {
		if used[i] {
			continue
		}
		if d.CarbonFactor == nil {
			if m := t.recipe.factor.FindStringSubmatch(cell); m != nil {
				d.CarbonFactor = parse(m[1])
				used[i] = true
				continue
			}
		}
		if d.Percentage == nil {
			if m := t.recipe.percentage.FindStringSubmatch(cell); m != nil {
				d.Percentage = parse(m[1])
				used[i] = true
				continue
			}
		}
		if d.Weight == nil {
			if m := t.recipe.weight.FindStringSubmatch(cell); m != nil {
				d.Weight = parse(m[1])
				d.Unit = unitOf(m[2])
				used[i] = true
			}
		}
	}

	if columns == nil && d.DataSource == "" && len(cells) >= 5 && !used[len(cells)-1] {
		d.DataSource = cells[len(cells)-1]
	}
	if d.CarbonFactor == nil && d.Percentage == nil && d.Weight == nil {
		return draft{}, false
	}
	return d, true
}

func parse(s string) *float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// lineMaterials reads "Name: 60% 210 g 5.9 kgCO2e/kg" lines from free text
type lineMaterials struct {
	recipe *Recipe
}

func (lineMaterials) name() string { return "line" }

func (l lineMaterials) extract(raw string) ([]draft, error) {
	re := l.recipe.line
	var drafts []draft
	for _, m := range re.FindAllStringSubmatch(raw, -1) {
		drafts = append(drafts, draft{
			Name:         strings.TrimSpace(m[re.SubexpIndex("name")]),
			Percentage:   parse(m[re.SubexpIndex("percentage")]),
			Weight:       parse(m[re.SubexpIndex("weight")]),
			Unit:         unitOf(m[re.SubexpIndex("unit")]),
			CarbonFactor: parse(m[re.SubexpIndex("factor")]),
			DataSource:   "recovered from free text",
		})
	}
	if len(drafts) == 0 {
		return nil, errors.New("no material line matched")
	}
	return drafts, nil
}
