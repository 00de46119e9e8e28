package lca

import (
	"encoding/json"
	"reflect"

	"github.com/go-viper/mapstructure/v2"

	"github.com/teranos/carbonfill/errors"
)

const stageKey = "lifecycleStage"

// stageOf reads the stage from the top level or from a nested data object.
func stageOf(m map[string]any) (Stage, error) {
	raw, ok := m[stageKey]
	if !ok || raw == nil || raw == "" {
		if data, isMap := m["data"].(map[string]any); isMap {
			raw = data[stageKey]
		}
	}
	if raw == nil {
		return StageRawMaterial, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", errors.NewInvalidRequestError("lifecycleStage must be a string, got %T", raw)
	}
	return ParseStage(s)
}

// emptyStringToNil leaves optional numeric and boolean fields unset for "".
func emptyStringToNil(from, to reflect.Type, data any) (any, error) {
	if from.Kind() == reflect.String && data == "" && to.Kind() == reflect.Ptr {
		return nil, nil
	}
	return data, nil
}

func decodeInto(m map[string]any, out Node) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       emptyStringToNil,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return errors.Wrap(err, "create node decoder")
	}
	return decoder.Decode(m)
}

// Decode builds the stage variant for m. Numeric strings are accepted; values
// that cannot be converted are invalid requests.
func Decode(m map[string]any) (Node, error) {
	stage, err := stageOf(m)
	if err != nil {
		return nil, err
	}
	n, err := New(stage)
	if err != nil {
		return nil, err
	}

	in := copyMap(m)
	in[stageKey] = string(stage)

	if err := decodeInto(in, n); err != nil {
		return nil, errors.WrapInvalidRequest(err, "decode node")
	}
	return n, nil
}

// DecodeBatch decodes every element, naming the offending index on failure.
func DecodeBatch(items []map[string]any) ([]Node, error) {
	nodes := make([]Node, len(items))
	for i, m := range items {
		n, err := Decode(m)
		if err != nil {
			return nil, errors.Wrapf(err, "node %d", i)
		}
		nodes[i] = n
	}
	return nodes, nil
}

// Encode renders n as a camelCase map with unknown keys merged back.
func Encode(n Node) map[string]any {
	raw, err := json.Marshal(n)
	if err != nil {
		panic(errors.AssertionFailedf("marshal %T: %v", n, err))
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(errors.AssertionFailedf("unmarshal %T: %v", n, err))
	}
	for k, v := range n.Common().Extra {
		if _, known := out[k]; !known {
			out[k] = copyValue(v)
		}
	}
	return out
}

// copyValue deep-copies the map and slice shapes produced by JSON decoding.
// Other values are returned as is.
func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i] = copyMap(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

// EncodeBatch encodes nodes in order
func EncodeBatch(nodes []Node) []map[string]any {
	out := make([]map[string]any, len(nodes))
	for i, n := range nodes {
		out[i] = Encode(n)
	}
	return out
}

// Clone deep-copies n, including Extra and slices.
func Clone(n Node) Node {
	c, err := Decode(Encode(n))
	if err != nil {
		panic(errors.AssertionFailedf("clone %T: %v", n, err))
	}
	return c
}

// Patch applies attribute overrides through the node decoder. The stage and
// id cannot change through a patch.
func Patch(n Node, attrs map[string]any) (Node, error) {
	m := Encode(n)
	for k, v := range attrs {
		if k == stageKey || k == "id" {
			continue
		}
		m[k] = v
	}
	patched, err := Decode(m)
	if err != nil {
		return nil, errors.Wrapf(err, "patch node %s", n.Common().ID)
	}
	return patched, nil
}
