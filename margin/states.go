package margin

import (
	"fmt"
	"strings"
)

// Kind is the mutating action a workflow performs.
type Kind int

const (
	OpenPosition Kind = iota + 1
	ClosePosition
	Deposit
	Withdraw
	Borrow
	Repay
)

func (k Kind) String() string {
	switch k {
	case OpenPosition:
		return "open_position"
	case ClosePosition:
		return "close_position"
	case Deposit:
		return "deposit"
	case Withdraw:
		return "withdraw"
	case Borrow:
		return "borrow"
	case Repay:
		return "repay"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "open", "open_position":
		return OpenPosition, nil
	case "close", "close_position":
		return ClosePosition, nil
	case "deposit":
		return Deposit, nil
	case "withdraw":
		return Withdraw, nil
	case "borrow":
		return Borrow, nil
	case "repay":
		return Repay, nil
	default:
		return 0, fmt.Errorf("unknown workflow kind %q", s)
	}
}

type Status int

const (
	Idle Status = iota
	Requesting
	AwaitingUnsignedTx
	AwaitingSignature
	Broadcasting
	Completed
	Failed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requesting:
		return "requesting"
	case AwaitingUnsignedTx:
		return "awaiting_unsigned_tx"
	case AwaitingSignature:
		return "awaiting_signature"
	case Broadcasting:
		return "broadcasting"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Terminal states behave like Idle for Start.
func (s Status) Terminal() bool { return s == Completed || s == Failed }

// Active is true while a workflow holds the engine.
func (s Status) Active() bool { return s != Idle && !s.Terminal() }

// ValidTransitions lists the states reachable from each state. Idle,
// Completed and Failed only move to Requesting, through Start.
var ValidTransitions = map[Status][]Status{
	Idle:               {Requesting},
	Requesting:         {AwaitingUnsignedTx, Failed},
	AwaitingUnsignedTx: {AwaitingSignature, Completed, Failed},
	AwaitingSignature:  {Broadcasting, Failed},
	Broadcasting:       {Completed, Failed},
	Completed:          {Requesting, Idle},
	Failed:             {Requesting, Idle},
}

func CanTransition(from, to Status) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
