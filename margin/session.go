// Package margin keeps a user's margin accounts in sync with the venue and
// drives the build, sign and broadcast workflow for mutating actions.
package margin

import "strings"

// Session is the per-user context passed to every operation in place of
// global lookups.
type Session struct {
	Address  string // the user's wallet address
	MarketID string // market the user is looking at; may be empty
}

func (s Session) HasIdentity() bool { return strings.TrimSpace(s.Address) != "" }
