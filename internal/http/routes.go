package httpx

import (
	"log/slog"
	"net/http"

	"github.com/autoapply/autoapply/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Control *service.ControlService
	Tasks   *service.TaskService
	Logger  *slog.Logger // Logger for HTTP errors (optional)
}

// NewRouter creates and configures a new HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	runHandlers := &RunHandlers{Svc: services.Control}
	appHandlers := &ApplicationHandlers{Svc: services.Control}
	taskHandlers := &TaskHandlers{Svc: services.Tasks}

	registerRunRoutes(mux, runHandlers)
	registerApplicationRoutes(mux, appHandlers)
	registerTaskRoutes(mux, taskHandlers)
	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	return mux
}

func registerRunRoutes(mux *http.ServeMux, h *RunHandlers) {
	mux.HandleFunc("POST /api/runs", h.StartRun)
	mux.HandleFunc("GET /api/runs/latest", h.GetLatestRun)
	mux.HandleFunc("GET /api/runs/{id}", h.GetRun)
	mux.HandleFunc("POST /api/runs/{id}/stop", h.StopRun)
	mux.HandleFunc("POST /api/policies/{user_id}/kill_switch", h.SetKillSwitch)
}

func registerApplicationRoutes(mux *http.ServeMux, h *ApplicationHandlers) {
	mux.HandleFunc("GET /api/applications", h.ListApplications)
	mux.HandleFunc("GET /api/queue/skips", h.ListSkipped)
	mux.HandleFunc("GET /api/logs", h.GetLogs)
}

func registerTaskRoutes(mux *http.ServeMux, h *TaskHandlers) {
	mux.HandleFunc("POST /api/tasks", h.CreateTask)
	mux.HandleFunc("GET /api/tasks/{type}/reserve_next", h.ReserveNext)
	mux.HandleFunc("GET /api/tasks/{type}/stats", h.Stats)
	mux.HandleFunc("GET /api/tasks/{id}/status", h.GetStatus)
	mux.HandleFunc("POST /api/tasks/{id}/heartbeat", h.Heartbeat)
	mux.HandleFunc("POST /api/tasks/{id}/complete", h.Complete)
	mux.HandleFunc("POST /api/tasks/{id}/fail", h.Fail)
}
