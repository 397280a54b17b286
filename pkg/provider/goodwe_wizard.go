package provider

import (
	"context"
	"fmt"

	"github.com/smartenergy/smartenergy/pkg/schema"
	"github.com/smartenergy/smartenergy/pkg/types"
	"github.com/smartenergy/smartenergy/pkg/wizard"
)

func goodweConfigSchema() *schema.Schema {
	return schema.Object("GoodWe SEMS", map[string]*schema.Schema{
		"powerstation_id": schema.String("Power station"),
		"credentials":     credentialsConfigSchema(),
	}, "powerstation_id")
}

// selectionSchema accepts a plain value, an option object or a non-empty
// list of option objects, as sent by select inputs.
func selectionSchema(title string) *schema.Schema {
	option := schema.Object("", map[string]*schema.Schema{
		"value": schema.String("Value"),
		"label": {Type: "string"},
	}, "value")
	return &schema.Schema{
		Title: title,
		OneOf: []*schema.Schema{
			schema.String(title),
			option,
			{Type: "array", Items: option, MinItems: schema.Int(1)},
		},
	}
}

// selectedValue reduces a selection to its value. The first element of a list
// wins.
func selectedValue(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, s != ""
	case map[string]any:
		return selectedValue(s["value"])
	case []any:
		if len(s) == 0 {
			return "", false
		}
		return selectedValue(s[0])
	default:
		return "", false
	}
}

type goodwePowerStationInput struct {
	PowerStationID any `json:"powerstation_id"`
}

// goodweSteps is auth -> powerstation.
func goodweSteps(connect connectFunc) []wizard.Step {
	return []wizard.Step{
		wizard.TypedStep[loginInput]{
			StepName: wizard.AuthStep,
			Input:    loginSchema("SEMS account"),
			Handle: func(ctx context.Context, in loginInput, session map[string]any) (wizard.StepResult, error) {
				creds := in.credentials()
				a, err := connect(ctx, creds)
				if err != nil {
					return wizard.StepResult{}, err
				}
				stations, err := a.ListStations(ctx)
				if err != nil {
					return wizard.StepResult{}, err
				}
				if len(stations) == 0 {
					return wizard.StepResult{}, noStationsError(types.VendorGoodWe)
				}
				return wizard.Next("powerstation", map[string]any{
					sessionCredentials: creds,
				}, map[string]any{
					"powerstations": types.StationOptions(stations),
				}), nil
			},
		},
		wizard.TypedStep[goodwePowerStationInput]{
			StepName: "powerstation",
			Input: schema.Object("Power station", map[string]*schema.Schema{
				"powerstation_id": selectionSchema("Power station"),
			}, "powerstation_id"),
			Handle: func(ctx context.Context, in goodwePowerStationInput, session map[string]any) (wizard.StepResult, error) {
				id, ok := selectedValue(in.PowerStationID)
				if !ok {
					return wizard.StepResult{}, fieldError(types.VendorGoodWe, "powerstation", "powerstation_id", "must select a power station")
				}
				creds, err := sessionCredentialsFrom(session)
				if err != nil {
					return wizard.StepResult{}, err
				}
				a, err := connect(ctx, creds)
				if err != nil {
					return wizard.StepResult{}, err
				}
				if _, err := a.ListDevices(ctx, id); err != nil {
					return wizard.StepResult{}, fmt.Errorf("failed to load power station %s: %w", id, err)
				}
				return wizard.Complete(map[string]any{
					"powerstation_id": id,
					"credentials":     creds,
				}), nil
			},
		},
	}
}
