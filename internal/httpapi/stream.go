package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/R3E-Network/bridge_client/internal/gateway"
	"github.com/R3E-Network/bridge_client/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	subscriberSize = 32
)

// hub fans each runner's update stream out to websocket subscribers. A
// runner's stream is drained by one goroutine from the first subscription
// until the runner exits.
type hub struct {
	log *logger.Logger

	mu    sync.Mutex
	feeds map[*gateway.Runner]*feed
}

type feed struct {
	subs map[chan gateway.Update]struct{}
}

func newHub(log *logger.Logger) *hub {
	return &hub{log: log, feeds: make(map[*gateway.Runner]*feed)}
}

func (h *hub) subscribe(r *gateway.Runner) (<-chan gateway.Update, func()) {
	ch := make(chan gateway.Update, subscriberSize)

	h.mu.Lock()
	f, ok := h.feeds[r]
	if !ok {
		f = &feed{subs: make(map[chan gateway.Update]struct{})}
		h.feeds[r] = f
		go h.pump(r, f)
	}
	f.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

func (h *hub) pump(r *gateway.Runner, f *feed) {
	for u := range r.Updates() {
		h.mu.Lock()
		for ch := range f.subs {
			select {
			case ch <- u:
			default:
				h.log.WithField("session", r.ID()).Warn("slow subscriber, dropping update")
			}
		}
		h.mu.Unlock()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range f.subs {
		close(ch)
	}
	f.subs = nil
	delete(h.feeds, r)
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for r, f := range h.feeds {
		for ch := range f.subs {
			close(ch)
		}
		f.subs = map[chan gateway.Update]struct{}{}
		delete(h.feeds, r)
	}
}

func checkOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// streamHandler upgrades to a websocket, sends the current session, then
// every update until the runner exits. Sessions that are not running get
// the stored snapshot and a normal close.
func (h *Handler) streamHandler(allowed []string) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     checkOrigin(allowed),
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		runner, running := h.sessions.Runner(id)
		var snapshot gateway.Session
		if running {
			snapshot = runner.Status()
		} else {
			s, err := h.sessions.Status(r.Context(), id)
			if err != nil {
				h.writeError(w, err)
				return
			}
			snapshot = s
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.WithError(err).WithField("session", id).Debug("websocket upgrade failed")
			return
		}
		defer conn.Close()

		log := h.log.WithField("session", id)
		if err := writeUpdate(conn, gateway.Update{Kind: gateway.UpdateSession, Session: snapshot}); err != nil {
			return
		}
		if !running {
			closeNormal(conn)
			return
		}

		updates, cancel := h.feeds.subscribe(runner)
		defer cancel()

		// Reading is required to process control frames and notice the peer leaving.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-gone:
				return
			case u, ok := <-updates:
				if !ok {
					closeNormal(conn)
					return
				}
				if err := writeUpdate(conn, u); err != nil {
					log.WithError(err).Debug("websocket write failed")
					return
				}
			}
		}
	})
}

func writeUpdate(conn *websocket.Conn, u gateway.Update) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(u)
}

func closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
