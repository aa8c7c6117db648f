package logic

import "fmt"

// Thresholds is the voltage table of a multi-level ladder.
//
// TurnOn[k-1] raises LEVEL_(k-1) to LEVEL_k. TurnOff[k-2] drops LEVEL_k to
// LEVEL_(k-1) for k >= 2. Any level drops straight to OFF below TurnOffAll.
type Thresholds struct {
	TurnOn     []float64
	TurnOffAll float64
	TurnOff    []float64
}

// Validate checks that every boundary has a hysteresis band and the table is ordered.
func (t Thresholds) Validate() error {
	n := len(t.TurnOn)
	if n == 0 {
		return fmt.Errorf("%w: no turn-on thresholds", ErrInvalidThresholds)
	}
	if len(t.TurnOff) != n-1 {
		return fmt.Errorf("%w: need %d turn-off thresholds for %d levels, got %d",
			ErrInvalidThresholds, n-1, n, len(t.TurnOff))
	}
	for i := 1; i < n; i++ {
		if t.TurnOn[i] <= t.TurnOn[i-1] {
			return fmt.Errorf("%w: turn-on thresholds must ascend (%.2f after %.2f)",
				ErrInvalidThresholds, t.TurnOn[i], t.TurnOn[i-1])
		}
	}
	if t.TurnOffAll >= t.TurnOn[0] {
		return fmt.Errorf("%w: turn-off-all %.2f must be below first turn-on %.2f",
			ErrInvalidThresholds, t.TurnOffAll, t.TurnOn[0])
	}
	for i, off := range t.TurnOff {
		if i > 0 && off <= t.TurnOff[i-1] {
			return fmt.Errorf("%w: turn-off thresholds must ascend (%.2f after %.2f)",
				ErrInvalidThresholds, off, t.TurnOff[i-1])
		}
		if off <= t.TurnOffAll {
			return fmt.Errorf("%w: turn-off %.2f for LEVEL_%d must be above turn-off-all %.2f",
				ErrInvalidThresholds, off, i+2, t.TurnOffAll)
		}
		if off >= t.TurnOn[i+1] {
			return fmt.Errorf("%w: LEVEL_%d has no hysteresis band (off %.2f, on %.2f)",
				ErrInvalidThresholds, i+2, off, t.TurnOn[i+1])
		}
	}
	return nil
}

// Ladder is the multi-level hysteresis policy. Transitions are evaluated
// relative to the current level only, so a reading can move the bank by at
// most one level per step. The one exception is leaving OFF, which jumps to
// the highest level whose turn-on threshold is exceeded.
type Ladder struct {
	th    Thresholds
	level Level
}

// NewLadder creates a ladder policy starting at OFF.
func NewLadder(th Thresholds) (*Ladder, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}
	return &Ladder{th: th}, nil
}

// Step implements Policy.
func (l *Ladder) Step(volts float64, _ Millis) (Level, bool) {
	n := l.Levels()
	old := l.level
	if !old.Valid(n) {
		// Corrupt level: start again from OFF and re-derive from this reading.
		l.level = Off
	}

	switch {
	case l.level == Off:
		for k := n; k >= 1; k-- {
			if volts > l.th.TurnOn[k-1] {
				l.level = Level(k)
				break
			}
		}
	case volts < l.th.TurnOffAll:
		l.level = Off
	case l.level >= 2 && volts < l.th.TurnOff[l.level-2]:
		l.level--
	case int(l.level) < n && volts > l.th.TurnOn[l.level]:
		l.level++
	}

	return l.level, l.level != old
}

// Level implements Policy.
func (l *Ladder) Level() Level { return l.level }

// Levels implements Policy.
func (l *Ladder) Levels() int { return len(l.th.TurnOn) }

// Name implements Policy.
func (l *Ladder) Name() string { return PolicyLadder }

// StateName implements Policy.
func (l *Ladder) StateName(lv Level) string { return lv.String() }

// Thresholds returns a copy of the table the ladder was built with.
func (l *Ladder) Thresholds() Thresholds {
	return Thresholds{
		TurnOn:     append([]float64(nil), l.th.TurnOn...),
		TurnOffAll: l.th.TurnOffAll,
		TurnOff:    append([]float64(nil), l.th.TurnOff...),
	}
}
