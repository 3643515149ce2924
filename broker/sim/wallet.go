package sim

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/rustyeddy/margin/broker"
)

// Wallet is an in-process signing agent for a Venue. Its signatures are
// only understood by the venue.
type Wallet struct {
	Addr string

	mu     sync.Mutex
	reject bool
	signed int
}

var _ broker.Signer = (*Wallet)(nil)

func NewWallet(addr string) *Wallet { return &Wallet{Addr: addr} }

// Reject makes the wallet refuse to sign, as if the user said no.
func (w *Wallet) Reject(on bool) {
	w.mu.Lock()
	w.reject = on
	w.mu.Unlock()
}

func (w *Wallet) Signed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.signed
}

func (w *Wallet) Address(ctx context.Context) (string, error) {
	if w.Addr == "" {
		return "", broker.ErrMissingIdentity
	}
	return w.Addr, nil
}

func (w *Wallet) SignTransaction(ctx context.Context, tx broker.UnsignedTx) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.reject {
		return "", broker.ErrSigningRejected
	}
	if tx.From != "" && !broker.SameAddress(tx.From, w.Addr) {
		return "", &broker.AddressMismatchError{Expected: w.Addr, Actual: tx.From}
	}
	w.signed++
	return "0x" + hex.EncodeToString([]byte(w.Addr+"|"+tx.Data)), nil
}
