package wizard

import "errors"

var (
	// ErrNotConfigured means the vendor has no wizard or its flow is invalid.
	ErrNotConfigured = errors.New("wizard not configured")
	// ErrStepNotFound means the requested step is not part of the flow.
	ErrStepNotFound = errors.New("wizard step not found")
	// ErrSessionExpired means the session is unknown or past its deadline.
	ErrSessionExpired = errors.New("wizard session expired")
	// ErrSessionState means the request does not fit the session, e.g. a
	// missing session id, another vendor's session or an out of order step.
	ErrSessionState = errors.New("invalid wizard session state")
	// ErrWizardResult means a step returned a contradictory result.
	ErrWizardResult = errors.New("invalid wizard step result")
)
