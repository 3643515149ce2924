package margin

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/margin/alerts"
	"github.com/rustyeddy/margin/broker"
)

// ErrForeignEvent is returned for push events addressed to another user.
var ErrForeignEvent = errors.New("event for another address")

// Dispatcher routes decoded push events: account and auction updates to
// the Store, alerts to the Queue. It is safe to call from the stream goroutine while
// a workflow is running.
type Dispatcher struct {
	sess    Session
	store   *Store
	alerts  *alerts.Queue
	log     *logrus.Logger
	metrics *Metrics
}

func NewDispatcher(sess Session, store *Store, q *alerts.Queue, log *logrus.Logger, m *Metrics) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{sess: sess, store: store, alerts: q, log: log, metrics: m}
}

// HandleFrame decodes and dispatches one raw push frame. It has the
// signature relayer.Stream.Run expects.
func (d *Dispatcher) HandleFrame(frame []byte) error {
	ev, err := broker.DecodePush(frame)
	if err != nil {
		d.metrics.pushEvent("malformed", "rejected")
		return err
	}
	return d.Handle(ev)
}

func (d *Dispatcher) Handle(ev broker.PushEvent) error {
	switch e := ev.(type) {
	case *broker.AccountUpdate:
		if !d.store.ApplyPushUpdate(d.sess, e) {
			d.metrics.pushEvent(e.EventType(), "ignored")
			return fmt.Errorf("%s for %s: %w", e.EventType(), e.UserAddress, ErrForeignEvent)
		}
		d.metrics.pushEvent(e.EventType(), "applied")
		d.log.WithField("market", e.MarketID).Debug("account update merged")
		return nil

	case *broker.AlertEvent:
		if e.UserAddress != "" && !broker.SameAddress(e.UserAddress, d.sess.Address) {
			d.metrics.pushEvent(e.EventType(), "ignored")
			return fmt.Errorf("%s for %s: %w", e.EventType(), e.UserAddress, ErrForeignEvent)
		}
		if !e.KnownLevel {
			d.log.WithField("level", e.RawLevel).Debug("unknown alert level shown as info")
		}
		a := d.alerts.Push(e.Alert())
		d.metrics.pushEvent(e.EventType(), "applied")
		d.log.WithFields(logrus.Fields{"level": a.Level, "id": a.ID}).Info(a.Message)
		return nil

	case *broker.AuctionUpdate:
		if !d.store.ApplyAuctionUpdate(d.sess, e) {
			d.metrics.pushEvent(e.EventType(), "ignored")
			return fmt.Errorf("%s for %s: %w", e.EventType(), e.Borrower, ErrForeignEvent)
		}
		d.metrics.pushEvent(e.EventType(), "applied")
		d.log.WithFields(logrus.Fields{"market": e.MarketID, "auction": e.AuctionID, "finished": e.Finished}).
			Info("auction update")
		return nil

	case nil:
		return fmt.Errorf("%w: nil event", broker.ErrMalformedPush)

	default:
		d.metrics.pushEvent("other", "ignored")
		d.log.WithField("type", ev.EventType()).Debug("push event ignored")
		return nil
	}
}
