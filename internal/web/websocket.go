package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"coinredeem.mini/ccr/internal/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 5 * time.Second

// streamMessage is one frame of /ws/events.
type streamMessage struct {
	Type  string          `json:"type"` // "event" or "state"
	Event *logger.Message `json:"event,omitempty"`
}

// handleEventsWS streams the event feed, starting after ?since= (or with
// the whole buffer), and a "state" frame whenever contract state commits.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	var last uint64
	if v := r.URL.Query().Get("since"); v != "" {
		seq, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		last = seq
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	state := s.broker.register()
	defer s.broker.unregister(state)

	// The reader only notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(m streamMessage) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(m) == nil
	}

	for {
		// Take the wait channel before reading so no message slips between.
		wait := s.events.Wait()
		for _, m := range s.events.Since(last) {
			m := m
			if !send(streamMessage{Type: "event", Event: &m}) {
				return
			}
			last = m.Seq
		}

		select {
		case <-wait:
		case <-state:
			if !send(streamMessage{Type: "state"}) {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
