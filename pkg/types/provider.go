package types

import (
	"fmt"
	"strings"
)

// Vendor identifies a third-party energy-data provider.
type Vendor string

const (
	VendorHuawei   Vendor = "huawei"
	VendorGoodWe   Vendor = "goodwe"
	VendorFranklin Vendor = "franklin"
	VendorManual   Vendor = "manual"
)

// Vendors returns every supported vendor in display order.
func Vendors() []Vendor {
	return []Vendor{VendorHuawei, VendorGoodWe, VendorFranklin, VendorManual}
}

// ParseVendor maps a raw identifier onto a known Vendor.
func ParseVendor(raw string) (Vendor, error) {
	switch v := Vendor(strings.ToLower(strings.TrimSpace(raw))); v {
	case VendorHuawei, VendorGoodWe, VendorFranklin, VendorManual:
		return v, nil
	default:
		return "", fmt.Errorf("unknown provider vendor: %q", raw)
	}
}

func (v Vendor) String() string {
	return string(v)
}

// ProviderType describes how a provider's readings reach the platform.
type ProviderType string

const (
	// ProviderTypeAPI providers are polled through the vendor's cloud API.
	ProviderTypeAPI ProviderType = "api"
	// ProviderTypeManual providers have their readings entered by hand.
	ProviderTypeManual ProviderType = "manual"
)

// ProviderKind is the physical quantity a provider reports.
type ProviderKind string

const (
	ProviderKindPower  ProviderKind = "power"
	ProviderKindEnergy ProviderKind = "energy"
)

// Unit is a measurement unit for power or energy readings.
type Unit string

const (
	UnitWatt         Unit = "W"
	UnitKilowatt     Unit = "kW"
	UnitMegawatt     Unit = "MW"
	UnitWattHour     Unit = "Wh"
	UnitKilowattHour Unit = "kWh"
)

// Units returns every supported unit.
func Units() []Unit {
	return []Unit{UnitWatt, UnitKilowatt, UnitMegawatt, UnitWattHour, UnitKilowattHour}
}

// ProviderVendorSummary is the list view of a single provider definition.
type ProviderVendorSummary struct {
	Vendor         Vendor       `json:"vendor"`
	Label          string       `json:"label"`
	Kind           ProviderKind `json:"kind"`
	DefaultUnit    Unit         `json:"default_unit"`
	RequiresWizard bool         `json:"requires_wizard"`
}

// ProviderTypeDefinitions groups vendor summaries by provider type.
type ProviderTypeDefinitions struct {
	Type    ProviderType            `json:"type"`
	Vendors []ProviderVendorSummary `json:"vendors"`
}

// ProviderDefinitionDetail is the full public view of a provider definition.
type ProviderDefinitionDetail struct {
	Vendor         Vendor         `json:"vendor"`
	Label          string         `json:"label"`
	ProviderType   ProviderType   `json:"provider_type"`
	Kind           ProviderKind   `json:"kind"`
	DefaultUnit    Unit           `json:"default_unit"`
	RequiresWizard bool           `json:"requires_wizard"`
	ConfigSchema   map[string]any `json:"config_schema"`
}
