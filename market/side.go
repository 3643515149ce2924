package market

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Side is the direction of a margin position. There are exactly two.
type Side int

const (
	Long Side = iota + 1
	Short
)

func (s Side) String() string {
	switch s {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "unknown"
	}
}

// OrderSide is the value the backend expects when opening a position.
func (s Side) OrderSide() string {
	if s == Short {
		return "sell"
	}
	return "buy"
}

// ParseSide accepts "long"/"short" and the order form "buy"/"sell".
// Position listings label sides like "Long ETH"; only the first word counts.
func ParseSide(s string) (Side, error) {
	word := ""
	if f := strings.Fields(strings.ToLower(s)); len(f) > 0 {
		word = f[0]
	}
	switch word {
	case "long", "buy":
		return Long, nil
	case "short", "sell":
		return Short, nil
	default:
		return 0, fmt.Errorf("unknown side %q (want long|short)", s)
	}
}

func (s Side) MarshalJSON() ([]byte, error) {
	if s != Long && s != Short {
		return nil, fmt.Errorf("marshal side: invalid value %d", int(s))
	}
	return json.Marshal(s.String())
}

func (s *Side) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("side: %w", err)
	}
	v, err := ParseSide(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
