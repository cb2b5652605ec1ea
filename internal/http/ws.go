package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ChangeEvent is pushed to WebSocket clients whenever the case list changes.
// CaseID is empty when the whole list was reloaded.
type ChangeEvent struct {
	Type     string `json:"type"`
	CaseID   string `json:"caseId,omitempty"`
	Selected string `json:"selected"`
}

// handleWebSocket pushes change notifications until the client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	changes, unsubscribe := s.Store.Subscribe()
	defer unsubscribe()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(54 * time.Second)
	defer pingTicker.Stop()

	// Read goroutine (for close detection)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case id, ok := <-changes:
			if !ok {
				return
			}
			ev := ChangeEvent{Type: "case_updated", CaseID: id, Selected: s.Store.SelectedID()}
			if id == "" {
				ev.Type = "cases_reloaded"
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
