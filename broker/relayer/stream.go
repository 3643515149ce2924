package relayer

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/margin/broker"
)

// Stream reads the push channel for one address. It does not reconnect;
// Run returns when the connection drops or ctx is done.
type Stream struct {
	URL     string // ws:// or wss://
	Address string
	Token   string
	Log     *logrus.Logger

	HandshakeTimeout time.Duration
}

// Run dials, subscribes to Address, and hands every frame to handle.
// handle runs on the read goroutine; its errors are logged and the
// stream keeps reading.
func (s *Stream) Run(ctx context.Context, handle func(frame []byte) error) error {
	if s.URL == "" {
		return fmt.Errorf("stream: missing url")
	}
	if s.Address == "" {
		return fmt.Errorf("stream: %w", broker.ErrMissingIdentity)
	}
	log := s.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	hs := s.HandshakeTimeout
	if hs == 0 {
		hs = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: hs}
	header := make(http.Header)
	if s.Token != "" {
		header.Set(AuthHeader, s.Token)
	}

	conn, _, err := dialer.DialContext(ctx, s.URL, header)
	if err != nil {
		return fmt.Errorf("%w: dial push channel: %v", broker.ErrNetwork, err)
	}

	var once sync.Once
	closeConn := func() { once.Do(func() { conn.Close() }) }
	defer closeConn()

	if err := conn.WriteJSON(broker.NewSubscribe(s.Address)); err != nil {
		return fmt.Errorf("%w: subscribe: %v", broker.ErrNetwork, err)
	}
	log.WithFields(logrus.Fields{"url": s.URL, "address": s.Address}).Info("push channel subscribed")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			closeConn()
		case <-done:
		}
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info("push channel closed by server")
				return nil
			}
			return fmt.Errorf("%w: read push channel: %v", broker.ErrNetwork, err)
		}
		if err := handle(frame); err != nil {
			log.WithError(err).Warn("push frame dropped")
		}
	}
}
