package session

import (
	"log"
	"net/http"
	"time"

	"github.com/zhouzirui/scene-guide/backend/internal/service/companion"
	"github.com/zhouzirui/scene-guide/backend/pkg/utils"
)

const keepAliveInterval = 15 * time.Second

// handleEvents streams session events as Server-Sent Events. The current
// state is sent first so late subscribers start from a full picture.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, unsubscribe := s.Hub.Subscribe(64)
	defer unsubscribe()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	log.Printf("[sse] opening event stream for session=%s", s.ID)

	if err := utils.SendSSEEvent(w, flusher, companion.EventState, s.Controller.Snapshot()); err != nil {
		return
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[sse] closing event stream for session=%s", s.ID)
			return
		case ev, ok := <-events:
			if !ok {
				utils.SendSSEEvent(w, flusher, "closed", map[string]string{"sessionId": s.ID})
				return
			}
			if err := utils.SendSSEEvent(w, flusher, ev.Type, ev.Data); err != nil {
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "keep-alive"); err != nil {
				return
			}
		}
	}
}
