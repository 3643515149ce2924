package margin

import (
	"sort"

	"github.com/rustyeddy/margin/broker"
)

// ApplyAuctionUpdate stores u as the current state of its auction,
// replacing any earlier update for the same market and auction id.
// Auctions of another borrower are ignored. It reports whether u was
// stored.
func (s *Store) ApplyAuctionUpdate(sess Session, u *broker.AuctionUpdate) bool {
	if u == nil || u.MarketID == "" || u.AuctionID == "" {
		return false
	}
	if u.Borrower != "" && !broker.SameAddress(u.Borrower, sess.Address) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	book, ok := s.auctions[u.MarketID]
	if !ok {
		book = make(map[string]broker.AuctionUpdate)
		s.auctions[u.MarketID] = book
	}
	book[u.AuctionID] = u.Clone()
	return true
}

// Auction is the last update seen for one auction, finished or not.
func (s *Store) Auction(marketID, auctionID string) (broker.AuctionUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[marketID][auctionID]
	if !ok {
		return broker.AuctionUpdate{}, false
	}
	return a.Clone(), true
}

// ActiveAuctions lists the unfinished auctions of marketID by auction id.
func (s *Store) ActiveAuctions(marketID string) []broker.AuctionUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return activeAuctions(nil, s.auctions[marketID])
}

// AllActiveAuctions lists unfinished auctions ordered by market then id.
func (s *Store) AllActiveAuctions() []broker.AuctionUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.auctions))
	for id := range s.auctions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []broker.AuctionUpdate
	for _, id := range ids {
		out = activeAuctions(out, s.auctions[id])
	}
	return out
}

func activeAuctions(out []broker.AuctionUpdate, book map[string]broker.AuctionUpdate) []broker.AuctionUpdate {
	start := len(out)
	for _, a := range book {
		if !a.Finished {
			out = append(out, a.Clone())
		}
	}
	page := out[start:]
	sort.Slice(page, func(i, j int) bool { return auctionLess(page[i].AuctionID, page[j].AuctionID) })
	return out
}

// auctionLess orders numeric ids numerically, anything else by string.
func auctionLess(a, b string) bool {
	if len(a) != len(b) && isDigits(a) && isDigits(b) {
		return len(a) < len(b)
	}
	return a < b
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
