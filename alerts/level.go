package alerts

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Level int

const (
	Info Level = iota + 1
	Warning
	Critical
	Success
)

func (l Level) String() string {
	switch l {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	case Success:
		return "success"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

func (l Level) Valid() bool { return l >= Info && l <= Success }

// ParseLevel accepts the queue's own names plus the monitor's wire names
// ("error" and "liquidation_event" for critical, "healthy" for success).
// Case is ignored.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return Info, nil
	case "warning", "warn":
		return Warning, nil
	case "critical", "error", "liquidation_event":
		return Critical, nil
	case "success", "healthy":
		return Success, nil
	default:
		return 0, fmt.Errorf("unknown alert level %q", s)
	}
}

// LevelOrInfo is ParseLevel for display: a level it does not know is Info.
// known reports whether s was recognised.
func LevelOrInfo(s string) (l Level, known bool) {
	l, err := ParseLevel(s)
	if err != nil {
		return Info, false
	}
	return l, true
}

func (l Level) MarshalJSON() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid alert level %d", int(l))
	}
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("alert level: %w", err)
	}
	v, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = v
	return nil
}
