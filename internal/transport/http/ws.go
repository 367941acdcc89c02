package http

import (
	"log"
	"net/http"

	"ctf-flag-service/internal/app"
	"ctf-flag-service/internal/domain"
	"github.com/gorilla/websocket"
)

// ScoreboardFeed streams live ranking updates to dashboard clients.
type ScoreboardFeed struct {
	service  *app.FlagService
	upgrader websocket.Upgrader
}

func NewScoreboardFeed(service *app.FlagService) *ScoreboardFeed {
	return &ScoreboardFeed{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type outboundMessage struct {
	Type    string            `json:"type"`
	Payload domain.Scoreboard `json:"payload"`
}

// ServeWS upgrades the request and pushes scoreboard snapshots: the current
// one immediately, then one per successful solve.
func (f *ScoreboardFeed) ServeWS(w http.ResponseWriter, r *http.Request) {
	updates, cancel, err := f.service.WatchScoreboard(r.Context())
	if err != nil {
		http.Error(w, "scoreboard unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	defer cancel()

	// Reader goroutine only detects the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(outboundMessage{Type: "scoreboard", Payload: update}); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		case <-closed:
			return
		}
	}
}
