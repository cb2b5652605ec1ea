package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"mammo-assist/internal/core"
	"mammo-assist/pkg"
)

// handleSendMessage streams the model's reply as server-sent events.  Each
// unnamed event carries the growing model message; the stream ends with a
// "done" event holding the updated case or an "error" event.  A client
// disconnect cancels the upstream stream.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	text, err := readChatText(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	// Reject before switching to an event stream so the status code is
	// still meaningful.
	c, err := s.Store.Get(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if c.AnalysisResult == nil {
		writeErr(w, fmt.Errorf("%w: %s", core.ErrNotAnalyzed, id))
		return
	}
	if strings.TrimSpace(text) == "" {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "message text is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, CodeInternal, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	updated, err := s.Store.SendMessage(r.Context(), id, text, func(msg pkg.ChatMessage) {
		if err := writeEvent(w, "", msg); err != nil {
			log.Printf("chat event id=%s err=%v", id, err)
			return
		}
		flusher.Flush()
	})
	if r.Context().Err() != nil {
		return
	}
	if err != nil {
		_, code := errorStatus(err)
		payload := map[string]interface{}{"code": code, "message": err.Error()}
		if updated != nil {
			payload["case"] = updated
		}
		writeEvent(w, "error", payload)
		flusher.Flush()
		return
	}
	writeEvent(w, "done", updated)
	flusher.Flush()
}

// readChatText accepts either a JSON ChatRequest or a form field "text".
func readChatText(r *http.Request) (string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req pkg.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", errors.New("invalid JSON body")
		}
		return req.Text, nil
	}
	if err := r.ParseForm(); err != nil {
		return "", errors.New("invalid form")
	}
	return r.FormValue("text"), nil
}

// writeEvent writes one SSE event.  An empty name writes a default message
// event.
func writeEvent(w io.Writer, name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var b strings.Builder
	if name != "" {
		b.WriteString("event: " + name + "\n")
	}
	b.WriteString("data: " + string(data) + "\n\n")
	_, err = io.WriteString(w, b.String())
	return err
}
