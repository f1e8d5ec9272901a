package guide

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/scene-guide/backend/internal/model/guide"
	"github.com/zhouzirui/scene-guide/backend/pkg/utils"
)

// Handler guide服务的HTTP处理器
type Handler struct {
	guides guide.Store
}

// New 创建guide处理器
func New(guides guide.Store) *Handler {
	return &Handler{guides: guides}
}

// RegisterRoutes 注册guide相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/guides", h.handleListGuides)
	r.Get("/guides/{guideID}", h.handleGetGuide)
}

func (h *Handler) handleListGuides(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.guides.List())
}

func (h *Handler) handleGetGuide(w http.ResponseWriter, r *http.Request) {
	g, ok := h.guides.FindByID(chi.URLParam(r, "guideID"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "guide not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, g)
}
