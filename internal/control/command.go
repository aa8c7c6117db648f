package control

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ehtick/voltage-controlled-relay/internal/logic"
)

// ParseLevel reads a FORCE payload for a bank of n loads. It accepts AUTO,
// OFF, ON_ALL, LEVEL_k or a bare k (case-insensitive). auto is true for AUTO.
func ParseLevel(payload string, n int) (level logic.Level, auto bool, err error) {
	s := strings.ToUpper(strings.TrimSpace(payload))
	switch s {
	case "AUTO":
		return logic.Off, true, nil
	case "OFF", "0":
		return logic.Off, false, nil
	case "ON_ALL":
		return logic.Level(n), false, nil
	}

	k, convErr := strconv.Atoi(strings.TrimPrefix(s, "LEVEL_"))
	if convErr != nil {
		return logic.Off, false, fmt.Errorf("unrecognized level %q", payload)
	}
	level = logic.Level(k)
	if !level.Valid(n) {
		return logic.Off, false, fmt.Errorf("level %d out of range 0-%d", k, n)
	}
	return level, false, nil
}
