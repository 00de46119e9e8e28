package lca

import (
	"fmt"

	"github.com/teranos/carbonfill/errors"
)

// Completion statuses written by the enrichment pipeline
const (
	StatusCompleted      = "completed"
	StatusManualRequired = "manual-required"

	VerificationUnverified = "unverified"

	DefaultCarbonFactorUnit = "kg CO2e/kg"
	DefaultProductName      = "Unknown Product"
)

// Enrichment holds the fields written by the pipeline, never by the caller.
// CarbonFootprint is carried through but never computed here.
type Enrichment struct {
	CarbonFactor       *float64 `json:"carbonFactor,omitempty" mapstructure:"carbonFactor"`
	CarbonFactorUnit   string   `json:"carbonFactorUnit,omitempty" mapstructure:"carbonFactorUnit"`
	CarbonFootprint    *float64 `json:"carbonFootprint,omitempty" mapstructure:"carbonFootprint"`
	DataSource         string   `json:"dataSource,omitempty" mapstructure:"dataSource"`
	UncertaintyScore   *float64 `json:"uncertaintyScore,omitempty" mapstructure:"uncertaintyScore"`
	UncertaintyFactors []string `json:"uncertaintyFactors,omitempty" mapstructure:"uncertaintyFactors"`
	VerificationStatus string   `json:"verificationStatus,omitempty" mapstructure:"verificationStatus"`
	CompletionStatus   string   `json:"completionStatus,omitempty" mapstructure:"completionStatus"`
	AIReasoning        string   `json:"aiReasoning,omitempty" mapstructure:"aiReasoning"`
}

// Base carries the fields shared by every stage
type Base struct {
	ID             string   `json:"id" mapstructure:"id"`
	ProductName    string   `json:"productName" mapstructure:"productName"`
	Material       string   `json:"material" mapstructure:"material"`
	Weight         *float64 `json:"weight,omitempty" mapstructure:"weight"` // kg
	LifecycleStage Stage    `json:"lifecycleStage" mapstructure:"lifecycleStage"`

	Enrichment `mapstructure:",squash"`

	// Unknown keys, preserved on round trip
	Extra map[string]any `json:"-" mapstructure:",remain"`
}

// Common returns the shared fields
func (b *Base) Common() *Base { return b }

// Node is one of RawMaterialNode, ManufacturingNode, DistributionNode,
// UsageNode, or DisposalNode.
type Node interface {
	Common() *Base
	Stage() Stage
}

// RawMaterialNode describes material extraction and supply
type RawMaterialNode struct {
	Base             `mapstructure:",squash"`
	Supplier         string   `json:"supplier,omitempty" mapstructure:"supplier"`
	RecycledContent  *float64 `json:"recycledContent,omitempty" mapstructure:"recycledContent"` // percent
	OriginCountry    string   `json:"originCountry,omitempty" mapstructure:"originCountry"`
	ExtractionMethod string   `json:"extractionMethod,omitempty" mapstructure:"extractionMethod"`
}

// ManufacturingNode describes a production process
type ManufacturingNode struct {
	Base                       `mapstructure:",squash"`
	EnergyConsumption          *float64 `json:"energyConsumption,omitempty" mapstructure:"energyConsumption"` // kWh
	EnergyType                 string   `json:"energyType,omitempty" mapstructure:"energyType"`
	ProcessEfficiency          *float64 `json:"processEfficiency,omitempty" mapstructure:"processEfficiency"`
	WasteGeneration            *float64 `json:"wasteGeneration,omitempty" mapstructure:"wasteGeneration"`
	WaterConsumption           *float64 `json:"waterConsumption,omitempty" mapstructure:"waterConsumption"`
	RecycledMaterialPercentage *float64 `json:"recycledMaterialPercentage,omitempty" mapstructure:"recycledMaterialPercentage"`
	ProductionCapacity         *float64 `json:"productionCapacity,omitempty" mapstructure:"productionCapacity"`
	ProcessTechnology          string   `json:"processTechnology,omitempty" mapstructure:"processTechnology"`
	ManufacturingStandard      string   `json:"manufacturingStandard,omitempty" mapstructure:"manufacturingStandard"`
	AutomationLevel            string   `json:"automationLevel,omitempty" mapstructure:"automationLevel"`
}

// DistributionNode describes transport and storage
type DistributionNode struct {
	Base              `mapstructure:",squash"`
	TransportMode     string   `json:"transportMode,omitempty" mapstructure:"transportMode"`
	Distance          *float64 `json:"distance,omitempty" mapstructure:"distance"` // km
	StartPoint        string   `json:"startPoint,omitempty" mapstructure:"startPoint"`
	EndPoint          string   `json:"endPoint,omitempty" mapstructure:"endPoint"`
	VehicleType       string   `json:"vehicleType,omitempty" mapstructure:"vehicleType"`
	FuelType          string   `json:"fuelType,omitempty" mapstructure:"fuelType"`
	FuelEfficiency    *float64 `json:"fuelEfficiency,omitempty" mapstructure:"fuelEfficiency"`
	LoadFactor        *float64 `json:"loadFactor,omitempty" mapstructure:"loadFactor"`
	Refrigeration     *bool    `json:"refrigeration,omitempty" mapstructure:"refrigeration"`
	PackagingMaterial string   `json:"packagingMaterial,omitempty" mapstructure:"packagingMaterial"`
	PackagingWeight   *float64 `json:"packagingWeight,omitempty" mapstructure:"packagingWeight"`
	StorageTime       *float64 `json:"storageTime,omitempty" mapstructure:"storageTime"` // days
	WarehouseEnergy   *float64 `json:"warehouseEnergy,omitempty" mapstructure:"warehouseEnergy"`
}

// UsageNode describes the use phase
type UsageNode struct {
	Base                     `mapstructure:",squash"`
	Lifespan                 *float64 `json:"lifespan,omitempty" mapstructure:"lifespan"` // years
	EnergyConsumptionPerUse  *float64 `json:"energyConsumptionPerUse,omitempty" mapstructure:"energyConsumptionPerUse"`
	WaterConsumptionPerUse   *float64 `json:"waterConsumptionPerUse,omitempty" mapstructure:"waterConsumptionPerUse"`
	ConsumablesUsed          string   `json:"consumablesUsed,omitempty" mapstructure:"consumablesUsed"`
	UsageFrequency           *float64 `json:"usageFrequency,omitempty" mapstructure:"usageFrequency"`
	MaintenanceFrequency     *float64 `json:"maintenanceFrequency,omitempty" mapstructure:"maintenanceFrequency"`
	RepairRate               *float64 `json:"repairRate,omitempty" mapstructure:"repairRate"`
	StandbyEnergyConsumption *float64 `json:"standbyEnergyConsumption,omitempty" mapstructure:"standbyEnergyConsumption"`
}

// DisposalNode describes end of life
type DisposalNode struct {
	Base                  `mapstructure:",squash"`
	RecyclingRate         *float64 `json:"recyclingRate,omitempty" mapstructure:"recyclingRate"`
	LandfillRate          *float64 `json:"landfillRate,omitempty" mapstructure:"landfillRate"`
	IncinerationRate      *float64 `json:"incinerationRate,omitempty" mapstructure:"incinerationRate"`
	CompostRate           *float64 `json:"compostRate,omitempty" mapstructure:"compostRate"`
	ReuseRate             *float64 `json:"reuseRate,omitempty" mapstructure:"reuseRate"`
	HazardousWasteContent *float64 `json:"hazardousWasteContent,omitempty" mapstructure:"hazardousWasteContent"`
	Biodegradability      *float64 `json:"biodegradability,omitempty" mapstructure:"biodegradability"`
	DisposalMethod        string   `json:"disposalMethod,omitempty" mapstructure:"disposalMethod"`
	TransportToDisposal   *float64 `json:"transportToDisposal,omitempty" mapstructure:"transportToDisposal"`
	EndOfLifeTreatment    string   `json:"endOfLifeTreatment,omitempty" mapstructure:"endOfLifeTreatment"`
}

func (*RawMaterialNode) Stage() Stage   { return StageRawMaterial }
func (*ManufacturingNode) Stage() Stage { return StageManufacturing }
func (*DistributionNode) Stage() Stage  { return StageDistribution }
func (*UsageNode) Stage() Stage         { return StageUsage }
func (*DisposalNode) Stage() Stage      { return StageDisposal }

// New returns an empty node of the given stage's variant
func New(stage Stage) (Node, error) {
	var n Node
	switch stage {
	case StageRawMaterial:
		n = &RawMaterialNode{}
	case StageManufacturing:
		n = &ManufacturingNode{}
	case StageDistribution:
		n = &DistributionNode{}
	case StageUsage:
		n = &UsageNode{}
	case StageDisposal:
		n = &DisposalNode{}
	default:
		return nil, errors.NewInvalidRequestError("no node variant for stage %q", stage)
	}
	n.Common().LifecycleStage = stage
	return n, nil
}

// ApplyDefaults fills the id and product name. index is the node's position
// in its batch.
func ApplyDefaults(n Node, index int) {
	b := n.Common()
	if b.ID == "" {
		b.ID = fmt.Sprintf("node_%d", index)
	}
	if b.ProductName == "" {
		b.ProductName = DefaultProductName
	}
	if !b.LifecycleStage.Valid() {
		b.LifecycleStage = n.Stage()
	}
}
