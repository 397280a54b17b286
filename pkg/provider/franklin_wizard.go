package provider

import (
	"context"
	"fmt"

	"github.com/smartenergy/smartenergy/pkg/schema"
	"github.com/smartenergy/smartenergy/pkg/types"
	"github.com/smartenergy/smartenergy/pkg/wizard"
)

func franklinConfigSchema() *schema.Schema {
	return schema.Object("FranklinWH", map[string]*schema.Schema{
		"gateway_id":  schema.String("aGate"),
		"credentials": credentialsConfigSchema(),
	}, "gateway_id")
}

type franklinGatewayInput struct {
	GatewayID string `json:"gateway_id"`
}

// franklinSteps is auth -> gateway.
func franklinSteps(connect connectFunc) []wizard.Step {
	return []wizard.Step{
		wizard.TypedStep[loginInput]{
			StepName: wizard.AuthStep,
			Input:    loginSchema("Email"),
			Handle: func(ctx context.Context, in loginInput, session map[string]any) (wizard.StepResult, error) {
				creds := in.credentials()
				a, err := connect(ctx, creds)
				if err != nil {
					return wizard.StepResult{}, err
				}
				gateways, err := a.ListStations(ctx)
				if err != nil {
					return wizard.StepResult{}, err
				}
				if len(gateways) == 0 {
					return wizard.StepResult{}, noStationsError(types.VendorFranklin)
				}
				ids := make([]string, 0, len(gateways))
				for _, g := range gateways {
					ids = append(ids, g.Code)
				}
				return wizard.Next("gateway", map[string]any{
					sessionCredentials: creds,
					sessionDeviceIDs:   ids,
				}, map[string]any{
					"gateways": types.StationOptions(gateways),
				}), nil
			},
		},
		wizard.TypedStep[franklinGatewayInput]{
			StepName: "gateway",
			Input: schema.Object("aGate", map[string]*schema.Schema{
				"gateway_id": schema.String("aGate"),
			}, "gateway_id"),
			Handle: func(ctx context.Context, in franklinGatewayInput, session map[string]any) (wizard.StepResult, error) {
				if !contains(stringList(session[sessionDeviceIDs]), in.GatewayID) {
					return wizard.StepResult{}, fieldError(types.VendorFranklin, "gateway", "gateway_id", fmt.Sprintf("gateway %s is not part of the account", in.GatewayID))
				}
				creds, err := sessionCredentialsFrom(session)
				if err != nil {
					return wizard.StepResult{}, err
				}
				return wizard.Complete(map[string]any{
					"gateway_id":  in.GatewayID,
					"credentials": creds,
				}), nil
			},
		},
	}
}
