package risk

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rustyeddy/margin/market"
)

type valueKind uint8

const (
	undefined valueKind = iota
	finite
	infinite
)

// Value is the result of a risk computation. It is one of Finite (carrying a
// decimal), Infinite, or Undefined. The zero Value is Undefined so a caller
// that forgets to set it renders "N/A" instead of a wrong number.
type Value struct {
	kind valueKind
	d    market.Amount
}

func Finite(d market.Amount) Value { return Value{kind: finite, d: d} }
func Infinite() Value               { return Value{kind: infinite} }
func Undefined() Value              { return Value{} }

func (v Value) IsFinite() bool    { return v.kind == finite }
func (v Value) IsInfinite() bool  { return v.kind == infinite }
func (v Value) IsUndefined() bool { return v.kind == undefined }

// Decimal returns the finite value. ok is false for Infinite and Undefined.
func (v Value) Decimal() (d market.Amount, ok bool) {
	if v.kind != finite {
		return market.Zero, false
	}
	return v.d, true
}

// LessThan reports whether v is a finite value strictly below x.
// Infinite is never less; Undefined compares false.
func (v Value) LessThan(x market.Amount) bool {
	return v.kind == finite && v.d.LessThan(x)
}

func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	return v.kind != finite || v.d.Equal(o.d)
}

func (v Value) String() string {
	switch v.kind {
	case finite:
		return v.d.String()
	case infinite:
		return "Infinity"
	default:
		return "N/A"
	}
}

// Format renders finite values with a fixed number of places.
func (v Value) Format(places int32) string {
	if v.kind == finite {
		return v.d.StringFixed(places)
	}
	return v.String()
}

// MarshalJSON writes finite values as decimal strings, Infinite as
// "Infinity" and Undefined as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case finite:
		return json.Marshal(v.d.String())
	case infinite:
		return json.Marshal("Infinity")
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts numbers, decimal strings, "Infinity", and the
// backend placeholders null, "" and "N/A" (Undefined).
func (v *Value) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*v = Undefined()
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	switch strings.ToLower(s) {
	case "", "n/a":
		*v = Undefined()
		return nil
	case "infinity", "inf":
		*v = Infinite()
		return nil
	}
	d, err := market.ParseAmount(s)
	if err != nil {
		return err
	}
	*v = Finite(d)
	return nil
}
