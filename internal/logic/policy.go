package logic

import "errors"

// Policy names accepted in configuration.
const (
	PolicyLadder   = "ladder"
	PolicyDebounce = "debounce"
)

// ErrInvalidThresholds is returned when a threshold table cannot be used.
var ErrInvalidThresholds = errors.New("invalid thresholds")

// Policy decides, one reading at a time, which level the load bank should be in.
// Implementations are not safe for concurrent use; the control cycle owns them.
type Policy interface {
	// Step consumes one reading taken at now and returns the level in force
	// afterwards and whether it changed during this call.
	Step(volts float64, now Millis) (Level, bool)

	// Level returns the current level without stepping.
	Level() Level

	// Levels returns N, the number of loads the policy controls.
	Levels() int

	// Name returns the policy name (PolicyLadder or PolicyDebounce).
	Name() string

	// StateName returns the human-readable name of l for logs and telemetry.
	StateName(l Level) string
}
