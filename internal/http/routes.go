package httpx

import (
	"log/slog"
	"net/http"

	"github.com/soundloom/soundloom/internal/monitor"
	"github.com/soundloom/soundloom/internal/service"
)

// RouterServices holds the services needed by the HTTP router.
type RouterServices struct {
	Materializer *service.Materializer
	Monitor      *monitor.Monitor
	Logger       *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	requireOwner := RequireOwner()

	if services.Materializer != nil {
		h := &MaterializeHandlers{Svc: services.Materializer}
		mux.Handle("POST /api/generations/materialize",
			requireOwner(http.HandlerFunc(h.Materialize)))
	}

	if services.Monitor != nil {
		h := &GenerationHandlers{Monitor: services.Monitor}
		mux.Handle("POST /api/generations",
			requireOwner(http.HandlerFunc(h.CreateGeneration)))
		mux.Handle("GET /api/generations/active",
			requireOwner(http.HandlerFunc(h.ListActiveGenerations)))
		mux.Handle("GET /api/generations/{id}",
			requireOwner(http.HandlerFunc(h.GetGeneration)))
	}

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	var handler http.Handler = mux
	if services.Logger != nil {
		handler = Logging(services.Logger)(handler)
		handler = Recover(services.Logger)(handler)
	}
	return handler
}
