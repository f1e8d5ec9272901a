package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/scene-guide/backend/internal/handler/guide"
	"github.com/zhouzirui/scene-guide/backend/internal/handler/session"
	"github.com/zhouzirui/scene-guide/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/scene-guide/backend/internal/middleware"
	guideModel "github.com/zhouzirui/scene-guide/backend/internal/model/guide"
	sessionService "github.com/zhouzirui/scene-guide/backend/internal/service/session"
	"github.com/zhouzirui/scene-guide/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services. m may be nil to disable /metrics.
func NewRouter(guides guideModel.Store, sessions *sessionService.Manager, m *metrics.Metrics, origins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(origins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": len(sessions.List()),
		})
	})

	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		guide.New(guides).RegisterRoutes(api)
		session.New(sessions).RegisterRoutes(api)
	})

	return r
}
