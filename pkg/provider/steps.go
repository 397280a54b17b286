package provider

import (
	"context"
	"fmt"

	"github.com/smartenergy/smartenergy/pkg/schema"
	"github.com/smartenergy/smartenergy/pkg/types"
	"github.com/smartenergy/smartenergy/pkg/wizard"
)

// session data keys shared by the vendor wizards
const (
	sessionCredentials = "credentials"
	sessionStationCode = "station_code"
	sessionDeviceIDs   = "device_ids"
)

// connectFunc returns a connected adapter for the credentials collected by a
// wizard.
type connectFunc func(ctx context.Context, credentials map[string]any) (Adapter, error)

type loginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (in loginInput) credentials() map[string]any {
	return map[string]any{
		"username": in.Username,
		"password": in.Password,
	}
}

func loginSchema(usernameTitle string) *schema.Schema {
	return schema.Object("Sign in", map[string]*schema.Schema{
		"username": schema.String(usernameTitle),
		"password": schema.Password("Password"),
	}, "username", "password")
}

// credentialsConfigSchema is the optional credentials object carried in a
// final provider config.
func credentialsConfigSchema() *schema.Schema {
	return schema.Object("Credentials", map[string]*schema.Schema{
		"username": schema.String("Username"),
		"password": schema.Password("Password"),
	}, "username", "password")
}

// sessionCredentialsFrom returns the credentials stored by the auth step.
func sessionCredentialsFrom(session map[string]any) (map[string]any, error) {
	creds, ok := session[sessionCredentials].(map[string]any)
	if !ok || len(creds) == 0 {
		return nil, fmt.Errorf("%w: no credentials in session", wizard.ErrSessionState)
	}
	return creds, nil
}

func sessionString(session map[string]any, key string) (string, error) {
	v, ok := session[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: no %s in session", wizard.ErrSessionState, key)
	}
	return v, nil
}

// stringList reads a string list stored in a session. Lists come back as
// []any once a session has been through JSON.
func stringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, e := range l {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}

// fieldError returns a validation error for a single field of a step.
func fieldError(vendor types.Vendor, step, field, message string) *schema.ValidationError {
	return &schema.ValidationError{
		Schema: fmt.Sprintf("%s/%s", vendor, step),
		Fields: []schema.FieldError{{Field: field, Message: message}},
	}
}

func noStationsError(vendor types.Vendor) *Error {
	return &Error{
		Vendor:     vendor,
		Code:       CodeNotFound,
		StatusCode: 404,
		Message:    "the account has no stations",
	}
}
