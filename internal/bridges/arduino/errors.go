package arduino

import "errors"

// Domain errors for the Arduino bridge package.
var (
	// ErrInvalidIdentity is returned when a G/V/D triple or a G_V_D key
	// cannot be parsed.
	ErrInvalidIdentity = errors.New("arduino: invalid device identity")

	// ErrMalformedFrame is returned when an inbound line is not a
	// recognised protocol frame.
	ErrMalformedFrame = errors.New("arduino: malformed frame")

	// ErrTransportNotOpen is returned when a write or flash request needs an
	// open transport and there is none.
	ErrTransportNotOpen = errors.New("arduino: transport not open")

	// ErrAlreadyBound is returned when a router is bound a second time.
	ErrAlreadyBound = errors.New("arduino: router already bound")

	// ErrFlashInProgress is returned for writes and flash requests made
	// while a firmware update is requested or running.
	ErrFlashInProgress = errors.New("arduino: firmware flash in progress")

	// ErrFlashNotRequested is returned when flashing begins without a
	// preceding flash request.
	ErrFlashNotRequested = errors.New("arduino: flash not requested")

	// ErrIllegalTransition is returned when a state machine is asked to
	// move along an edge it does not have.
	ErrIllegalTransition = errors.New("arduino: illegal state transition")

	// ErrRetryBudgetExhausted is returned when a connect attempt is made
	// after the retry budget is spent.
	ErrRetryBudgetExhausted = errors.New("arduino: retry budget exhausted")

	// ErrDriverStopped is returned by driver calls after Run has returned.
	ErrDriverStopped = errors.New("arduino: driver stopped")

	// ErrBridgeStopped is returned for bus requests that arrive after Stop.
	ErrBridgeStopped = errors.New("arduino: bridge stopped")

	// ErrUnknownSignal is returned for an unrecognised host lifecycle signal.
	ErrUnknownSignal = errors.New("arduino: unknown host signal")

	// ErrUnknownMethod is returned for an unrecognised config menu method.
	ErrUnknownMethod = errors.New("arduino: unknown config method")

	// ErrInvalidParams is returned when config menu parameters are missing.
	ErrInvalidParams = errors.New("arduino: invalid config parameters")
)
