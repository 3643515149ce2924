package broker

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/margin/alerts"
	"github.com/rustyeddy/margin/market"
)

// Push channel message types.
const (
	TypeAccountUpdate = "MARGIN_ACCOUNT_UPDATE"
	TypeAlert         = "MARGIN_ALERT"
	TypeAuctionUpdate = "AUCTION_UPDATE"
	TypeSubscribe     = "SUBSCRIBE_MARGIN_UPDATES"
)

// PushEvent is one decoded push message: *AccountUpdate, *AlertEvent,
// *AuctionUpdate or *UnknownEvent.
type PushEvent interface {
	EventType() string
}

// Envelope is the push channel frame.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribeMessage asks the channel for one address's margin events.
type SubscribeMessage struct {
	Type    string `json:"type"`
	Payload struct {
		Address string `json:"address"`
	} `json:"payload"`
}

func NewSubscribe(address string) SubscribeMessage {
	m := SubscribeMessage{Type: TypeSubscribe}
	m.Payload.Address = address
	return m
}

// AccountUpdate is a partial MarginAccount. Nil fields were absent from
// the payload and are left alone by Apply.
type AccountUpdate struct {
	MarketID    string
	UserAddress string

	AssetsTotalUSDValue *market.Amount
	DebtsTotalUSDValue  *market.Amount
	Status              *string
	Liquidatable        *bool
	BaseAssetDetails    *AssetDetails
	QuoteAssetDetails   *AssetDetails
}

func (*AccountUpdate) EventType() string { return TypeAccountUpdate }

// Apply merges the present fields into acct. Asset details are replaced
// as a unit.
func (u *AccountUpdate) Apply(acct MarginAccount) MarginAccount {
	acct.MarketID = u.MarketID
	if u.UserAddress != "" {
		acct.UserAddress = u.UserAddress
	}
	if u.AssetsTotalUSDValue != nil {
		acct.AssetsTotalUSDValue = *u.AssetsTotalUSDValue
	}
	if u.DebtsTotalUSDValue != nil {
		acct.DebtsTotalUSDValue = *u.DebtsTotalUSDValue
	}
	if u.Status != nil {
		acct.Status = *u.Status
	}
	if u.Liquidatable != nil {
		acct.Liquidatable = *u.Liquidatable
	}
	if u.BaseAssetDetails != nil {
		acct.BaseAssetDetails = *u.BaseAssetDetails
	}
	if u.QuoteAssetDetails != nil {
		acct.QuoteAssetDetails = *u.QuoteAssetDetails
	}
	return acct
}

// AlertEvent is a MARGIN_ALERT from the risk monitor. A level the client
// does not know decodes as Info; RawLevel keeps what was sent.
type AlertEvent struct {
	Level       alerts.Level
	RawLevel    string
	KnownLevel  bool
	Title       string
	Message     string
	TxHash      string
	AutoDismiss time.Duration
	MarketID    string
	UserAddress string
}

func (*AlertEvent) EventType() string { return TypeAlert }

func (e *AlertEvent) Alert() alerts.Alert {
	return alerts.Alert{
		Level:       e.Level,
		Title:       e.Title,
		Message:     e.Message,
		TxHash:      e.TxHash,
		AutoDismiss: e.AutoDismiss,
	}
}

// AuctionUpdate is the latest state of one liquidation auction. Each
// update replaces the previous one for the same (MarketID, AuctionID).
type AuctionUpdate struct {
	MarketID  string
	AuctionID string
	// Borrower is the account being liquidated, if the venue sent it.
	Borrower string
	Finished bool

	DebtUSDValue       *market.Amount
	CollateralUSDValue *market.Amount

	// Payload is the event as received.
	Payload json.RawMessage
}

func (*AuctionUpdate) EventType() string { return TypeAuctionUpdate }

// Clone returns a copy that shares no memory with u.
func (u AuctionUpdate) Clone() AuctionUpdate {
	if u.DebtUSDValue != nil {
		v := *u.DebtUSDValue
		u.DebtUSDValue = &v
	}
	if u.CollateralUSDValue != nil {
		v := *u.CollateralUSDValue
		u.CollateralUSDValue = &v
	}
	u.Payload = append(json.RawMessage(nil), u.Payload...)
	return u
}

// UnknownEvent is a well-formed frame of a type this client does not handle.
type UnknownEvent struct {
	Type string
}

func (e *UnknownEvent) EventType() string { return e.Type }

// flexID accepts an id sent either as a string or as a number.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type accountUpdateWire struct {
	MarketID            flexID         `json:"marketID"`
	UserAddress         string         `json:"userAddress"`
	AssetsTotalUSDValue *market.Amount `json:"assetsTotalUSDValue"`
	DebtsTotalUSDValue  *market.Amount `json:"debtsTotalUSDValue"`
	Status              *string        `json:"status"`
	Liquidatable        *bool          `json:"liquidatable"`
	BaseAssetDetails    *AssetDetails  `json:"baseAssetDetails"`
	QuoteAssetDetails   *AssetDetails  `json:"quoteAssetDetails"`
}

type alertWire struct {
	Level       string  `json:"level"`
	Title       string  `json:"title"`
	Message     string  `json:"message"`
	TxHash      string  `json:"txHash"`
	AutoDismiss *uint32 `json:"autoDismiss"`
	MarketID    flexID  `json:"marketID"`
	UserAddress string  `json:"userAddress"`
}

type auctionWire struct {
	MarketID           flexID         `json:"marketID"`
	AuctionID          flexID         `json:"auctionID"`
	UserAddress        string         `json:"userAddress"`
	Borrower           string         `json:"borrower"`
	IsFinished         *bool          `json:"isFinished"` // also matches "IsFinished"
	Finished           *bool          `json:"finished"`
	DebtUSDValue       *market.Amount `json:"debtUSDValue"`
	CollateralUSDValue *market.Amount `json:"collateralUSDValue"`
}

// DecodePush decodes one frame. Malformed frames and payloads return an
// error wrapping ErrMalformedPush.
func DecodePush(b []byte) (PushEvent, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPush, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedPush)
	}

	switch env.Type {
	case TypeAccountUpdate:
		return decodeAccountUpdate(env.Payload)
	case TypeAlert:
		return decodeAlert(env.Payload)
	case TypeAuctionUpdate:
		return decodeAuction(env.Payload)
	default:
		return &UnknownEvent{Type: env.Type}, nil
	}
}

func hasPayload(p json.RawMessage) bool {
	s := strings.TrimSpace(string(p))
	return s != "" && s != "null"
}

func decodeAccountUpdate(p json.RawMessage) (*AccountUpdate, error) {
	if !hasPayload(p) {
		return nil, fmt.Errorf("%w: %s without payload", ErrMalformedPush, TypeAccountUpdate)
	}
	var w accountUpdateWire
	if err := json.Unmarshal(p, &w); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPush, TypeAccountUpdate, err)
	}
	if w.MarketID == "" {
		return nil, fmt.Errorf("%w: %s: missing marketID", ErrMalformedPush, TypeAccountUpdate)
	}
	for _, d := range []*AssetDetails{w.BaseAssetDetails, w.QuoteAssetDetails} {
		if d == nil {
			continue
		}
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPush, TypeAccountUpdate, err)
		}
	}

	return &AccountUpdate{
		MarketID:            string(w.MarketID),
		UserAddress:         strings.TrimSpace(w.UserAddress),
		AssetsTotalUSDValue: w.AssetsTotalUSDValue,
		DebtsTotalUSDValue:  w.DebtsTotalUSDValue,
		Status:              w.Status,
		Liquidatable:        w.Liquidatable,
		BaseAssetDetails:    w.BaseAssetDetails,
		QuoteAssetDetails:   w.QuoteAssetDetails,
	}, nil
}

func decodeAlert(p json.RawMessage) (*AlertEvent, error) {
	if !hasPayload(p) {
		return nil, fmt.Errorf("%w: %s without payload", ErrMalformedPush, TypeAlert)
	}
	var w alertWire
	if err := json.Unmarshal(p, &w); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPush, TypeAlert, err)
	}
	if strings.TrimSpace(w.Message) == "" {
		return nil, fmt.Errorf("%w: %s: empty message", ErrMalformedPush, TypeAlert)
	}
	level, known := alerts.LevelOrInfo(w.Level)

	ev := &AlertEvent{
		Level:       level,
		RawLevel:    w.Level,
		KnownLevel:  known,
		Title:       strings.TrimSpace(w.Title),
		Message:     w.Message,
		TxHash:      w.TxHash,
		MarketID:    string(w.MarketID),
		UserAddress: strings.TrimSpace(w.UserAddress),
	}
	if w.AutoDismiss != nil {
		ev.AutoDismiss = time.Duration(*w.AutoDismiss) * time.Millisecond
	}
	return ev, nil
}

func decodeAuction(p json.RawMessage) (*AuctionUpdate, error) {
	if !hasPayload(p) {
		return nil, fmt.Errorf("%w: %s without payload", ErrMalformedPush, TypeAuctionUpdate)
	}
	var w auctionWire
	if err := json.Unmarshal(p, &w); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPush, TypeAuctionUpdate, err)
	}
	if w.MarketID == "" || w.AuctionID == "" {
		return nil, fmt.Errorf("%w: %s: missing marketID or auctionID", ErrMalformedPush, TypeAuctionUpdate)
	}

	u := &AuctionUpdate{
		MarketID:           string(w.MarketID),
		AuctionID:          string(w.AuctionID),
		Borrower:           strings.TrimSpace(w.UserAddress),
		DebtUSDValue:       w.DebtUSDValue,
		CollateralUSDValue: w.CollateralUSDValue,
		Payload:            append(json.RawMessage(nil), p...),
	}
	if u.Borrower == "" {
		u.Borrower = strings.TrimSpace(w.Borrower)
	}
	switch {
	case w.IsFinished != nil:
		u.Finished = *w.IsFinished
	case w.Finished != nil:
		u.Finished = *w.Finished
	}
	return u, nil
}
