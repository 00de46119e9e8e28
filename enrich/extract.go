package enrich

import (
	"encoding/json"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/teranos/carbonfill/errors"
)

// Result is one model answer for one node. Position is 1-based, 0 when the
// answer carried none.
type Result struct {
	ID                 string         `mapstructure:"id"`
	Position           int            `mapstructure:"position"`
	CarbonFactor       *float64       `mapstructure:"carbonFactor"`
	CarbonFactorUnit   string         `mapstructure:"carbonFactorUnit"`
	DataSource         string         `mapstructure:"dataSource"`
	UncertaintyScore   *float64       `mapstructure:"uncertaintyScore"`
	UncertaintyFactors []string       `mapstructure:"uncertaintyFactors"`
	Reasoning          string         `mapstructure:"aiReasoning"`
	Attributes         map[string]any `mapstructure:",remain"`
}

// Extractor recovers results from raw model output. expected is the number of
// nodes in the group.
type Extractor interface {
	Name() string
	Extract(raw string, expected int) ([]Result, error)
}

// JSONExtractor reads a fenced or bare JSON answer
type JSONExtractor struct{}

var (
	jsonFence = regexp.MustCompile("(?is)```\\s*json[ \\t]*\\r?\\n?(.*?)```")
	bareFence = regexp.MustCompile("(?s)```[ \\t]*\\r?\\n(.*?)```")
)

// wrapperKeys are object keys whose array value holds the results
var wrapperKeys = []string{"results", "items", "nodes", "data"}

func (JSONExtractor) Name() string { return "json" }

// FencedBody returns the content of the first ```json fence, else the first
// bare fence, else the whole text, trimmed.
func FencedBody(raw string) string {
	if m := jsonFence.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := bareFence.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(raw)
}

func (JSONExtractor) Extract(raw string, expected int) ([]Result, error) {
	body := FencedBody(raw)
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
		elems = []any{v}
		for _, key := range wrapperKeys {
			if arr, ok := v[key].([]any); ok {
				elems = arr
				break
			}
		}
	default:
		return nil, errors.Newf("JSON answer is a %T, not an array or object", doc)
	}

	results := make([]Result, 0, len(elems))
	for i, e := range elems {
		obj, ok := e.(map[string]any)
		if !ok {
			return nil, errors.Newf("element %d is a %T, not an object", i, e)
		}
		r, err := decodeResult(obj)
		if err != nil {
			return nil, errors.Wrapf(err, "element %d", i)
		}
		results = append(results, r)
	}
	return results, nil
}

func decodeResult(obj map[string]any) (Result, error) {
	var r Result
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &r,
		WeaklyTypedInput: true,
		DecodeHook:       BlankToNil,
	})
	if err != nil {
		return r, errors.Wrap(err, "failed to build result decoder")
	}
	if err := dec.Decode(obj); err != nil {
		return r, err
	}
	return r, nil
}

// BlankToNil is a decode hook that lets "" and "N/A" leave pointer fields unset
func BlankToNil(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Ptr {
		return data, nil
	}
	switch strings.ToLower(strings.TrimSpace(data.(string))) {
	case "", "n/a", "na", "null", "unknown":
		return nil, nil
	}
	return data, nil
}

// PatternExtractor recovers values from free text with the strategy's
// prioritized patterns.
type PatternExtractor struct {
	Patterns []Pattern
}

func (PatternExtractor) Name() string { return "pattern" }

func (p PatternExtractor) Extract(raw string, expected int) ([]Result, error) {
	found := make(map[int]map[string]float64)

	for _, pat := range p.Patterns {
		if pat.re == nil {
			continue
		}
		for _, m := range pat.re.FindAllStringSubmatch(raw, -1) {
			pos, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			val, err := strconv.ParseFloat(m[2], 64)
			if err != nil {
				continue
			}
			if pos < 1 || pos > expected {
				return nil, errors.Newf("pattern %s matched position %d outside 1..%d", pat.Name, pos, expected)
			}
			fields, ok := found[pos]
			if !ok {
				fields = make(map[string]float64)
				found[pos] = fields
			}
			// Higher priority patterns run first and keep their value
			if _, set := fields[pat.Field]; !set {
				fields[pat.Field] = val
			}
		}
	}

	if len(found) == 0 {
		return nil, errors.New("no pattern matched")
	}
	if len(found) > expected {
		return nil, errors.Newf("patterns matched %d positions for %d nodes", len(found), expected)
	}

	positions := make([]int, 0, len(found))
	for pos := range found {
		positions = append(positions, pos)
	}
	sort.Ints(positions)

	results := make([]Result, 0, len(positions))
	for _, pos := range positions {
		r := Result{Position: pos, DataSource: "recovered from free text"}
		for field, val := range found[pos] {
			v := val
			switch field {
			case "carbonFactor":
				r.CarbonFactor = &v
			case "uncertaintyScore":
				r.UncertaintyScore = &v
			default:
				if r.Attributes == nil {
					r.Attributes = make(map[string]any)
				}
				r.Attributes[field] = v
			}
		}
		results = append(results, r)
	}
	return results, nil
}

// Attempt records why one extractor failed
type Attempt struct {
	Extractor string
	Err       error
}

// ParseFailure is returned when no extractor recovered results
type ParseFailure struct {
	Attempts []Attempt
}

func (f *ParseFailure) Error() string {
	parts := make([]string, 0, len(f.Attempts))
	for _, a := range f.Attempts {
		parts = append(parts, a.Extractor+": "+a.Err.Error())
	}
	return "unparseable response (" + strings.Join(parts, "; ") + ")"
}

func (f *ParseFailure) Unwrap() error { return errors.ErrParse }

// Chain tries extractors in order
type Chain []Extractor

// NewChain returns the JSON extractor followed by the strategy's patterns.
func NewChain(s Strategy) Chain {
	return Chain{JSONExtractor{}, PatternExtractor{Patterns: s.AllPatterns()}}
}

// Extract returns the results of the first extractor that succeeds and its name.
func (c Chain) Extract(raw string, expected int) ([]Result, string, error) {
	failure := &ParseFailure{}
	for _, ex := range c {
		results, err := ex.Extract(raw, expected)
		if err == nil {
			return results, ex.Name(), nil
		}
		failure.Attempts = append(failure.Attempts, Attempt{Extractor: ex.Name(), Err: err})
	}
	return nil, "", failure
}
