package types

import "time"

// WizardSession is the server-side state of a running provider wizard.
type WizardSession struct {
	ID        string         `json:"id"`
	Vendor    Vendor         `json:"vendor"`
	Data      map[string]any `json:"data"`
	LastStep  string         `json:"lastStep,omitempty"`
	NextStep  string         `json:"nextStep,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// Expired reports whether the session deadline has passed at now.
func (s WizardSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// WizardSessionUpdate is applied to a session after a step succeeds. Data is
// merged into the session at the top level with new keys overriding old ones.
type WizardSessionUpdate struct {
	Data     map[string]any
	LastStep string
	NextStep string
}

// MergeSessionData overwrites dst keys with the keys from src. dst is
// allocated if nil and returned.
func MergeSessionData(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
