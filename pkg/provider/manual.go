package provider

import (
	"github.com/smartenergy/smartenergy/pkg/schema"
	"github.com/smartenergy/smartenergy/pkg/types"
)

func manualConfigSchema() *schema.Schema {
	units := make([]any, 0, len(types.Units()))
	for _, u := range types.Units() {
		units = append(units, string(u))
	}
	return schema.Object("Manual meter", map[string]*schema.Schema{
		"name":         {Type: "string", Title: "Name"},
		"max_power_kw": schema.Number("Maximum power (kW)", 0),
		"unit": {
			Type:    "string",
			Title:   "Unit",
			Enum:    units,
			Default: string(types.UnitKilowatt),
		},
	}, "max_power_kw", "unit")
}

func manualDefinition() Definition {
	return Definition{
		Vendor:       types.VendorManual,
		Label:        "Manual entry",
		ProviderType: types.ProviderTypeManual,
		Kind:         types.ProviderKindEnergy,
		DefaultUnit:  types.UnitKilowattHour,
		ConfigSchema: manualConfigSchema(),
	}
}
