package lca

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/carbonfill/errors"
)

func TestParseStage(t *testing.T) {
	tests := []struct {
		input   string
		want    Stage
		wantErr bool
	}{
		{"", StageRawMaterial, false},
		{"  ", StageRawMaterial, false},
		{"raw_material", StageRawMaterial, false},
		{"raw-material", StageRawMaterial, false},
		{"Raw Material", StageRawMaterial, false},
		{"原材料", StageRawMaterial, false},
		{"MANUFACTURING", StageManufacturing, false},
		{"生产制造", StageManufacturing, false},
		{"Distribution & Storage", StageDistribution, false},
		{"分销和储存", StageDistribution, false},
		{"product use", StageUsage, false},
		{"产品使用", StageUsage, false},
		{"end-of-life", StageDisposal, false},
		{"废弃处置", StageDisposal, false},
		{"recycling plant", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseStage(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalidRequestError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStageLabel(t *testing.T) {
	for _, s := range Stages {
		assert.True(t, s.Valid())
		assert.NotEqual(t, string(s), s.Label())
	}
	assert.False(t, Stage("orbit").Valid())
	assert.Equal(t, "orbit", Stage("orbit").Label())
}

func TestDecode_SelectsVariant(t *testing.T) {
	tests := []struct {
		stage string
		want  Node
	}{
		{"", &RawMaterialNode{}},
		{"manufacturing", &ManufacturingNode{}},
		{"distribution", &DistributionNode{}},
		{"usage", &UsageNode{}},
		{"disposal", &DisposalNode{}},
	}
	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			n, err := Decode(map[string]any{"id": "n1", "lifecycleStage": tt.stage})
			require.NoError(t, err)
			assert.IsType(t, tt.want, n)
			assert.Equal(t, n.Stage(), n.Common().LifecycleStage)
		})
	}
}

func TestDecode_WeakTyping(t *testing.T) {
	n, err := Decode(map[string]any{
		"id":             "d1",
		"productName":    "Oat drink",
		"lifecycleStage": "distribution",
		"weight":         "1.5",
		"distance":       250,
		"refrigeration":  "true",
		"loadFactor":     "",
		"transportMode":  "truck",
		"customerNote":   "fragile",
	})
	require.NoError(t, err)

	d, ok := n.(*DistributionNode)
	require.True(t, ok)
	require.NotNil(t, d.Weight)
	assert.Equal(t, 1.5, *d.Weight)
	require.NotNil(t, d.Distance)
	assert.Equal(t, 250.0, *d.Distance)
	require.NotNil(t, d.Refrigeration)
	assert.True(t, *d.Refrigeration)
	assert.Nil(t, d.LoadFactor, "empty string leaves optional numbers unset")
	assert.Equal(t, "truck", d.TransportMode)
	assert.Equal(t, map[string]any{"customerNote": "fragile"}, d.Extra)
}

func TestDecode_NestedStage(t *testing.T) {
	n, err := Decode(map[string]any{
		"id":   "m1",
		"data": map[string]any{"lifecycleStage": "生产制造"},
	})
	require.NoError(t, err)
	assert.Equal(t, StageManufacturing, n.Stage())
	assert.Contains(t, n.Common().Extra, "data")
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode(map[string]any{"id": "x", "weight": "heavy"})
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))

	_, err = Decode(map[string]any{"lifecycleStage": 3})
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))

	_, err = Decode(map[string]any{"lifecycleStage": "moon landing"})
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestDecodeBatch(t *testing.T) {
	nodes, err := DecodeBatch([]map[string]any{{"id": "a"}, {"id": "b", "lifecycleStage": "usage"}})
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, StageUsage, nodes[1].Stage())

	_, err = DecodeBatch([]map[string]any{{"id": "a"}, {"weight": "heavy"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node 1")
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestEncode_RoundTrip(t *testing.T) {
	in := map[string]any{
		"id":                "r1",
		"productName":       "Wheat flour",
		"material":          "wheat",
		"weight":            11.5,
		"lifecycleStage":    "raw_material",
		"supplier":          "Mill Co",
		"uncertaintyFactors": []any{"regional mix"},
		"position":          map[string]any{"x": 10.0, "y": 20.0},
	}

	n, err := Decode(in)
	require.NoError(t, err)
	out := Encode(n)

	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-in +out):\n%s", diff)
	}
}

func TestEncode_CarbonFactorZeroIsPresent(t *testing.T) {
	n, _ := New(StageUsage)
	zero := 0.0
	n.Common().CarbonFactor = &zero

	out := Encode(n)
	assert.Contains(t, out, "carbonFactor")
	assert.Equal(t, 0.0, out["carbonFactor"])
	assert.NotContains(t, out, "uncertaintyScore")
}

func TestClone_IsDeep(t *testing.T) {
	n, err := Decode(map[string]any{
		"id":                 "c1",
		"lifecycleStage":     "disposal",
		"recyclingRate":      40,
		"uncertaintyFactors": []any{"a"},
		"meta":               map[string]any{"k": "v"},
	})
	require.NoError(t, err)

	c := Clone(n)
	if diff := cmp.Diff(Encode(n), Encode(c)); diff != "" {
		t.Fatalf("clone differs (-orig +clone):\n%s", diff)
	}

	cd := c.(*DisposalNode)
	*cd.RecyclingRate = 99
	cd.UncertaintyFactors[0] = "changed"
	cd.Extra["meta"].(map[string]any)["k"] = "changed"

	od := n.(*DisposalNode)
	assert.Equal(t, 40.0, *od.RecyclingRate)
	assert.Equal(t, "a", od.UncertaintyFactors[0])
	assert.Equal(t, "v", od.Extra["meta"].(map[string]any)["k"])
}

func TestDecode_CopiesNestedInput(t *testing.T) {
	meta := map[string]any{"k": "v"}
	n, err := Decode(map[string]any{"id": "d1", "meta": meta})
	require.NoError(t, err)

	meta["k"] = "changed"
	assert.Equal(t, "v", n.Common().Extra["meta"].(map[string]any)["k"])

	enc := Encode(n)
	enc["meta"].(map[string]any)["k"] = "changed"
	assert.Equal(t, "v", n.Common().Extra["meta"].(map[string]any)["k"])
}

func TestPatch(t *testing.T) {
	n, err := Decode(map[string]any{"id": "p1", "lifecycleStage": "manufacturing", "energyConsumption": 10})
	require.NoError(t, err)

	patched, err := Patch(n, map[string]any{
		"energyConsumption": "12.5",
		"energyType":        "grid",
		"lifecycleStage":    "disposal",
		"id":                "other",
	})
	require.NoError(t, err)

	m := patched.(*ManufacturingNode)
	assert.Equal(t, 12.5, *m.EnergyConsumption)
	assert.Equal(t, "grid", m.EnergyType)
	assert.Equal(t, StageManufacturing, patched.Stage(), "stage cannot change")
	assert.Equal(t, "p1", m.ID, "id cannot change")
	assert.Equal(t, 10.0, *n.(*ManufacturingNode).EnergyConsumption, "original untouched")

	_, err = Patch(n, map[string]any{"energyConsumption": "lots"})
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestApplyDefaults(t *testing.T) {
	n, _ := New(StageRawMaterial)
	ApplyDefaults(n, 3)
	assert.Equal(t, "node_3", n.Common().ID)
	assert.Equal(t, DefaultProductName, n.Common().ProductName)
	assert.Equal(t, "", n.Common().Material)

	named, _ := Decode(map[string]any{"id": "keep", "productName": "Bread"})
	ApplyDefaults(named, 0)
	assert.Equal(t, "keep", named.Common().ID)
	assert.Equal(t, "Bread", named.Common().ProductName)
}
