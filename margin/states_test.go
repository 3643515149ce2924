package margin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{Idle, Requesting, true},
		{Requesting, AwaitingUnsignedTx, true},
		{AwaitingUnsignedTx, AwaitingSignature, true},
		{AwaitingUnsignedTx, Completed, true},
		{AwaitingSignature, Broadcasting, true},
		{Broadcasting, Completed, true},
		{Broadcasting, Failed, true},
		{Completed, Requesting, true},
		{Failed, Requesting, true},

		{Idle, Broadcasting, false},
		{AwaitingSignature, Completed, false},
		{Requesting, Requesting, false},
		{Completed, Failed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStatusClasses(t *testing.T) {
	for _, s := range []Status{Requesting, AwaitingUnsignedTx, AwaitingSignature, Broadcasting} {
		assert.True(t, s.Active(), s.String())
		assert.False(t, s.Terminal(), s.String())
	}
	assert.False(t, Idle.Active())
	assert.True(t, Completed.Terminal())
	assert.True(t, Failed.Terminal())
	assert.False(t, Failed.Active())
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{
		"open":           OpenPosition,
		"Close-Position": ClosePosition,
		" deposit ":      Deposit,
		"WITHDRAW":       Withdraw,
		"borrow":         Borrow,
		"repay":          Repay,
	} {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseKind("swap")
	assert.Error(t, err)
	assert.Equal(t, "open_position", OpenPosition.String())
}
