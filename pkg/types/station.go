package types

// Station is a vendor-side plant/site grouping one or more devices.
type Station struct {
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	Address    string  `json:"address,omitempty"`
	CapacityKW float64 `json:"capacity_kw,omitempty"`
}

// Device is a single inverter, meter or gateway reported by a vendor.
type Device struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	StationCode  string `json:"station_code"`
	Type         string `json:"type,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

// Option is a selectable value offered to the wizard user.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// StationOptions converts stations into wizard options.
func StationOptions(stations []Station) []Option {
	opts := make([]Option, 0, len(stations))
	for _, s := range stations {
		label := s.Name
		if label == "" {
			label = s.Code
		}
		opts = append(opts, Option{Value: s.Code, Label: label})
	}
	return opts
}

// DeviceOptions converts devices into wizard options.
func DeviceOptions(devices []Device) []Option {
	opts := make([]Option, 0, len(devices))
	for _, d := range devices {
		label := d.Name
		if label == "" {
			label = d.ID
		}
		opts = append(opts, Option{Value: d.ID, Label: label})
	}
	return opts
}
