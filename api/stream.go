package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ticktalk/balance-engine/ledger"
	"github.com/ticktalk/balance-engine/observability"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

// StreamMessage is pushed to websocket clients.
type StreamMessage struct {
	Type     string       `json:"type"`
	Balances []BalanceDTO `json:"balances,omitempty"`
	Error    string       `json:"error,omitempty"`
}

func (h *Handler) upgrader() *websocket.Upgrader {
	allowed := make(map[string]struct{}, len(h.StreamOrigins))
	for _, o := range h.StreamOrigins {
		allowed[o] = struct{}{}
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// Non-browser client; identity still comes from the proxy.
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

// StreamBalances pushes the actor's full balance listing whenever it
// changes. Only the latest listing is kept for a slow client.
// GET /api/balances/stream
func (h *Handler) StreamBalances(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r.Context())
	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.Log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	observability.StreamClients.Inc()
	defer observability.StreamClients.Dec()

	updates := make(chan []ledger.Balance, 1)
	view := h.Ledger.NewView(actor)
	view.OnChange(func(list []ledger.Balance) {
		for {
			select {
			case updates <- list:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	if err := view.Open(r.Context()); err != nil {
		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		conn.WriteJSON(StreamMessage{Type: "error", Error: err.Error()})
		return
	}
	defer view.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case list := <-updates:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(StreamMessage{Type: "balances", Balances: toBalanceDTOs(list)}); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
