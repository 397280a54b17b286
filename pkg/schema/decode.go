package schema

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Decode copies a validated input map into out, which must be a pointer to a
// struct. Fields are matched by their json tag and scalar values are weakly
// converted, so "4" decodes into a float and 4.0 into a string.
func Decode(input map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("failed to decode input: %w", err)
	}
	return nil
}
