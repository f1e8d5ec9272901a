package session

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	sessionmodel "github.com/zhouzirui/scene-guide/backend/internal/model/session"
	"github.com/zhouzirui/scene-guide/backend/internal/service/companion"
	"github.com/zhouzirui/scene-guide/backend/internal/service/conversation"
	sessionService "github.com/zhouzirui/scene-guide/backend/internal/service/session"
	"github.com/zhouzirui/scene-guide/backend/pkg/utils"
)

const maxBodyBytes = 1 << 20

// Handler 会话服务的HTTP处理器
type Handler struct {
	sessions *sessionService.Manager
	upgrader websocket.Upgrader
}

// New 创建会话处理器
func New(sessions *sessionService.Manager) *Handler {
	return &Handler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Delete("/", h.handleRemove)
			r.Patch("/settings", h.handleSettings)
			r.Get("/conversation", h.handleConversation)
			r.Delete("/conversation", h.handleClearConversation)
			r.Post("/questions", h.handleQuestion)
			r.Post("/stop", h.handleStop)
			r.Get("/ws", h.handleWebSocket)
			r.Get("/events", h.handleEvents)
		})
	})
}

type settingsView struct {
	CaptureIntervalMs int64   `json:"captureIntervalMs"`
	ChangeThreshold   float64 `json:"changeThreshold"`
	AudioEnabled      bool    `json:"audioEnabled"`
}

func viewSettings(s sessionmodel.Settings) settingsView {
	return settingsView{
		CaptureIntervalMs: s.CaptureInterval.Milliseconds(),
		ChangeThreshold:   s.ChangeThreshold,
		AudioEnabled:      s.AudioEnabled,
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	live := h.sessions.List()
	infos := make([]sessionService.Info, 0, len(live))
	for _, s := range live {
		infos = append(infos, s.Info())
	}
	utils.RespondJSON(w, http.StatusOK, infos)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ID      string `json:"id"`
		GuideID string `json:"guideId"`
	}
	if r.ContentLength != 0 {
		if err := utils.DecodeJSON(w, r, maxBodyBytes, &payload); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	s, created, err := h.sessions.Create(r.Context(), payload.ID, payload.GuideID)
	if err != nil {
		respondErr(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	utils.RespondJSON(w, status, s.Info())
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, s.Info())
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Remove(r.Context(), chi.URLParam(r, "sessionID")); err != nil && !errors.Is(err, companion.ErrClosed) {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var patch sessionmodel.SettingsPatch
	if err := utils.DecodeJSON(w, r, maxBodyBytes, &patch); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := s.Controller.UpdateSettings(patch)
	if err != nil {
		respondErr(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, viewSettings(updated))
}

func (h *Handler) handleConversation(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"sessionId": s.ID,
		"turns":     s.Controller.Turns(),
	})
}

func (h *Handler) handleClearConversation(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := s.Controller.ClearConversation(r.Context()); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleQuestion(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(w, r, maxBodyBytes, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.Controller.Ask(payload.Text) {
		utils.RespondError(w, http.StatusBadRequest, "question is empty")
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, s.Controller.Snapshot())
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := s.Controller.Stop(r.Context()); err != nil {
		respondErr(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, s.Controller.Snapshot())
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*sessionService.Session, bool) {
	s, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondErr(w, err)
		return nil, false
	}
	return s, true
}

func respondErr(w http.ResponseWriter, err error) {
	utils.RespondError(w, statusFor(err), errorMessage(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, sessionService.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, sessionService.ErrGuideNotFound),
		errors.Is(err, sessionService.ErrInvalidID),
		errors.Is(err, sessionmodel.ErrInvalidSettings),
		errors.Is(err, conversation.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, companion.ErrClosed):
		return http.StatusGone
	case errors.Is(err, companion.ErrStarting):
		return http.StatusConflict
	case errors.Is(err, companion.ErrDescriberUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, companion.ErrMediaUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage 只保留错误的第一行返回给客户端
func errorMessage(err error) string {
	msg, _, _ := strings.Cut(err.Error(), "\n")
	return msg
}
