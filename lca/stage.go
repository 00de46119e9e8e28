// Package lca models lifecycle-assessment nodes: one record per lifecycle
// stage of a product, carrying stage-specific attributes and enrichment output.
package lca

import (
	"strings"

	"github.com/teranos/carbonfill/errors"
)

// Stage is a lifecycle stage
type Stage string

const (
	StageRawMaterial   Stage = "raw_material"
	StageManufacturing Stage = "manufacturing"
	StageDistribution  Stage = "distribution"
	StageUsage         Stage = "usage"
	StageDisposal      Stage = "disposal"
)

// Stages lists every stage in lifecycle order
var Stages = []Stage{StageRawMaterial, StageManufacturing, StageDistribution, StageUsage, StageDisposal}

var stageLabels = map[Stage]string{
	StageRawMaterial:   "Raw Material",
	StageManufacturing: "Manufacturing",
	StageDistribution:  "Distribution & Storage",
	StageUsage:         "Product Use",
	StageDisposal:      "Disposal",
}

// Keys are normalized with normalizeStage.
var stageAliases = map[string]Stage{
	"raw_material":             StageRawMaterial,
	"raw_materials":            StageRawMaterial,
	"rawmaterial":              StageRawMaterial,
	"原材料":                      StageRawMaterial,
	"manufacturing":            StageManufacturing,
	"production":               StageManufacturing,
	"生产制造":                     StageManufacturing,
	"distribution":             StageDistribution,
	"distribution_and_storage": StageDistribution,
	"分销和储存":                    StageDistribution,
	"usage":                    StageUsage,
	"use":                      StageUsage,
	"product_use":              StageUsage,
	"产品使用":                     StageUsage,
	"disposal":                 StageDisposal,
	"end_of_life":              StageDisposal,
	"废弃处置":                     StageDisposal,
}

func normalizeStage(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "&", " and ")
	s = strings.NewReplacer("-", " ", "_", " ").Replace(s)
	return strings.Join(strings.Fields(s), "_")
}

// ParseStage accepts slugs, English names, and the Chinese stage labels.
// Empty input is raw material.
func ParseStage(s string) (Stage, error) {
	if strings.TrimSpace(s) == "" {
		return StageRawMaterial, nil
	}
	if stage, ok := stageAliases[normalizeStage(s)]; ok {
		return stage, nil
	}
	return "", errors.NewInvalidRequestError("unknown lifecycle stage %q", s)
}

// Valid reports whether s is one of Stages
func (s Stage) Valid() bool {
	_, ok := stageLabels[s]
	return ok
}

// Label returns the human-readable stage name used in prompts
func (s Stage) Label() string {
	if l, ok := stageLabels[s]; ok {
		return l
	}
	return string(s)
}

func (s Stage) String() string {
	return string(s)
}
