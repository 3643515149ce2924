package sim

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/margin/broker"
	"github.com/rustyeddy/margin/market"
)

const (
	authHeader        = "Hydro-Authentication"
	statusAuthExpired = -11
	subscribeWait     = 10 * time.Second
	writeWait         = 5 * time.Second
	sendBuffer        = 64
)

// Server exposes a Venue over the venue's REST envelope and push channel.
type Server struct {
	Venue *Venue
	// Token, when set, must be sent on every identity scoped call.
	Token string
	Log   *logrus.Logger

	upgrader websocket.Upgrader
}

func NewServer(v *Venue, token string, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		Venue: v,
		Token: token,
		Log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router returns the REST routes plus /ws.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logging)

	r.HandleFunc("/margin/accounts/{market}", s.authed(s.account)).Methods(http.MethodGet)
	r.HandleFunc("/margin/collateral/deposit", s.authed(s.buildAsset((*Venue).DepositCollateral))).Methods(http.MethodPost)
	r.HandleFunc("/margin/collateral/withdraw", s.authed(s.buildAsset((*Venue).WithdrawCollateral))).Methods(http.MethodPost)
	r.HandleFunc("/margin/loans/borrow", s.authed(s.buildAsset((*Venue).BorrowLoan))).Methods(http.MethodPost)
	r.HandleFunc("/v1/margin/loans/repay-action", s.authed(s.buildAsset((*Venue).RepayLoan))).Methods(http.MethodPost)
	r.HandleFunc("/v1/margin/loans", s.authed(s.loans)).Methods(http.MethodGet)
	r.HandleFunc("/v1/margin/positions", s.authed(s.positions)).Methods(http.MethodGet)
	r.HandleFunc("/v1/margin/positions/open", s.authed(s.open)).Methods(http.MethodPost)
	r.HandleFunc("/v1/margin/positions/close", s.authed(s.close)).Methods(http.MethodPost)
	r.HandleFunc("/v1/transactions/broadcast", s.authed(s.broadcast)).Methods(http.MethodPost)
	r.HandleFunc("/v1/margin/accounts/{market}/transferable-balance", s.spendable).Methods(http.MethodGet)
	r.HandleFunc("/v1/markets/{market}/margin-parameters", s.params).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.push)
	return r
}

type envelope struct {
	Status int    `json:"status"`
	Desc   string `json:"desc"`
	Data   any    `json:"data,omitempty"`
}

func (s *Server) reply(w http.ResponseWriter, data any, err error) {
	env := envelope{Data: data}
	if err != nil {
		env = envelope{Status: 500, Desc: err.Error()}
		var de *broker.DomainError
		if errors.As(err, &de) {
			env = envelope{Status: de.Status, Desc: de.Desc}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(env); err != nil {
		s.Log.WithError(err).Warn("sim: write response")
	}
}

func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Token != "" && r.Header.Get(authHeader) != s.Token {
			s.reply(w, nil, broker.NewDomainError(statusAuthExpired, "authentication expired"))
			return
		}
		next(w, r)
	}
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.Log.WithFields(logrus.Fields{
			"method":  r.Method,
			"path":    r.URL.Path,
			"latency": time.Since(start).String(),
		}).Debug("sim: request")
	})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return broker.NewDomainError(400, "invalid request body: "+err.Error())
	}
	return nil
}

func buildData(res broker.BuildResult) any {
	if res.NeedsSignature() {
		return map[string]any{"unsignedTx": res.Unsigned}
	}
	return broker.BroadcastResult{TransactionHash: res.TxHash}
}

func (s *Server) account(w http.ResponseWriter, r *http.Request) {
	acct, err := s.Venue.GetAccountDetails(r.Context(), mux.Vars(r)["market"], r.URL.Query().Get("user"))
	if err != nil {
		s.reply(w, nil, err)
		return
	}
	s.reply(w, acct, nil)
}

type assetBuild func(*Venue, context.Context, broker.AssetRequest) (broker.BuildResult, error)

func (s *Server) buildAsset(fn assetBuild) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req broker.AssetRequest
		if err := decode(r, &req); err != nil {
			s.reply(w, nil, err)
			return
		}
		res, err := fn(s.Venue, r.Context(), req)
		if err != nil {
			s.reply(w, nil, err)
			return
		}
		s.reply(w, buildData(res), nil)
	}
}

func (s *Server) open(w http.ResponseWriter, r *http.Request) {
	var body struct {
		broker.OpenPositionRequest
		Side string `json:"side"`
	}
	if err := decode(r, &body); err != nil {
		s.reply(w, nil, err)
		return
	}
	side, err := market.ParseSide(body.Side)
	if err != nil {
		s.reply(w, nil, broker.NewDomainError(400, err.Error()))
		return
	}
	req := body.OpenPositionRequest
	req.Side = side
	res, err := s.Venue.OpenMarginPosition(r.Context(), req)
	if err != nil {
		s.reply(w, nil, err)
		return
	}
	s.reply(w, buildData(res), nil)
}

func (s *Server) close(w http.ResponseWriter, r *http.Request) {
	var req broker.ClosePositionRequest
	if err := decode(r, &req); err != nil {
		s.reply(w, nil, err)
		return
	}
	res, err := s.Venue.CloseMarginPosition(r.Context(), req.MarketID)
	if err != nil {
		s.reply(w, nil, err)
		return
	}
	s.reply(w, buildData(res), nil)
}

func (s *Server) broadcast(w http.ResponseWriter, r *http.Request) {
	var req broker.BroadcastRequest
	if err := decode(r, &req); err != nil {
		s.reply(w, nil, err)
		return
	}
	hash, err := s.Venue.BroadcastTransaction(r.Context(), req.SignedRawTx)
	if err != nil {
		s.reply(w, nil, err)
		return
	}
	s.reply(w, broker.BroadcastResult{TransactionHash: hash}, nil)
}

func (s *Server) loans(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("marketID")
	loans, err := s.Venue.GetLoans(r.Context(), id)
	if err != nil {
		s.reply(w, nil, err)
		return
	}
	if id == "" {
		s.reply(w, loans, nil)
		return
	}
	s.reply(w, map[string]any{"marketID": id, "loans": loans}, nil)
}

func (s *Server) positions(w http.ResponseWriter, r *http.Request) {
	out, err := s.Venue.GetOpenPositions(r.Context())
	if err != nil {
		s.reply(w, nil, err)
		return
	}
	s.reply(w, out, nil)
}

func (s *Server) spendable(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amt, err := s.Venue.GetSpendableBalance(r.Context(), mux.Vars(r)["market"], q.Get("assetSymbol"), q.Get("userAddress"))
	if err != nil {
		s.reply(w, nil, err)
		return
	}
	s.reply(w, broker.SpendableBalance{Amount: amt}, nil)
}

func (s *Server) params(w http.ResponseWriter, r *http.Request) {
	p, err := s.Venue.GetMarketMarginParameters(r.Context(), mux.Vars(r)["market"])
	if err != nil {
		s.reply(w, nil, err)
		return
	}
	s.reply(w, p, nil)
}

// push upgrades to the push channel. The first frame must subscribe the
// venue's user; every later account update and alert is forwarded until
// the client goes away.
func (s *Server) push(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.WithError(err).Warn("sim: upgrade push channel")
		return
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(subscribeWait))
	var sub broker.SubscribeMessage
	if err := conn.ReadJSON(&sub); err != nil {
		s.Log.WithError(err).Debug("sim: no subscribe frame")
		return
	}
	if sub.Type != broker.TypeSubscribe || !broker.SameAddress(sub.Payload.Address, s.Venue.User()) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown address"),
			time.Now().Add(writeWait))
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	send := make(chan []byte, sendBuffer)
	unsubscribe := s.Venue.Subscribe(func(frame []byte) {
		select {
		case send <- frame:
		default:
			s.Log.Warn("sim: push subscriber is slow, frame dropped")
		}
	})
	defer unsubscribe()
	s.Log.WithField("address", sub.Payload.Address).Info("sim: push subscriber attached")

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case frame := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}
}
