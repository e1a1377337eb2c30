// Package api serves the HTTP status surface: stream and registry
// state, recent logs, build info and the metrics endpoint.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"camgate/internal/logging"
	"camgate/internal/mount"
	"camgate/internal/registry"
	"camgate/internal/version"
)

// Options configures the API server.
type Options struct {
	Controller        *mount.Controller
	Store             *registry.Store
	Poller            *registry.Poller
	PrometheusHandler http.Handler
}

// Server is the Huma v2 API server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	options    *Options
	logger     *slog.Logger
}

// NewServer creates the API server using Go 1.22+ native routing.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	config := huma.DefaultConfig("Camgate API", version.String())
	config.Info.Description = "RTSP camera gateway status API"
	// Empty servers list makes OpenAPI use relative paths, working with any host
	config.Servers = []*huma.Server{}

	api := humago.New(mux, config)

	server := &Server{
		api:     api,
		mux:     mux,
		options: opts,
		logger:  logging.GetLogger("api"),
	}

	api.UseMiddleware(HTTPLoggingMiddleware)

	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerRoutes()

	return server
}

// GetMux returns the underlying HTTP ServeMux for additional setup.
func (s *Server) GetMux() *http.ServeMux {
	return s.mux
}

// Start starts the HTTP server on the specified address.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	return s.httpServer.ListenAndServe()
}

// Stop shuts down the server immediately.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
	}, func(_ context.Context, _ *struct{}) (*HealthResponse, error) {
		return &HealthResponse{
			Body: HealthData{
				Status:  "ok",
				Message: "API is healthy",
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
	}, func(_ context.Context, _ *struct{}) (*VersionResponse, error) {
		return &VersionResponse{Body: version.Get()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-streams",
		Method:      http.MethodGet,
		Path:        "/api/streams",
		Summary:     "List streams",
		Description: "List all mounted streams with session state and client counts",
		Tags:        []string{"streams"},
	}, func(_ context.Context, _ *struct{}) (*StreamsResponse, error) {
		statuses := s.options.Controller.Status()
		return &StreamsResponse{
			Body: StreamsData{Streams: statuses, Count: len(statuses)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-stream",
		Method:      http.MethodGet,
		Path:        "/api/streams/{id}",
		Summary:     "Get stream",
		Description: "Get one stream's mount and session status",
		Tags:        []string{"streams"},
		Errors:      []int{404},
	}, func(_ context.Context, input *struct {
		ID string `path:"id" example:"cam-entrance-01" doc:"Stream identifier"`
	}) (*StreamResponse, error) {
		status, ok := s.options.Controller.StreamStatus(input.ID)
		if !ok {
			return nil, huma.Error404NotFound("stream not mounted: " + input.ID)
		}
		return &StreamResponse{Body: status}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-registry",
		Method:      http.MethodGet,
		Path:        "/api/registry",
		Summary:     "Registry status",
		Description: "Describe the current desired-state snapshot and poll health",
		Tags:        []string{"registry"},
		Errors:      []int{404},
	}, func(_ context.Context, _ *struct{}) (*RegistryResponse, error) {
		snapshot := s.options.Store.Current()
		if snapshot == nil {
			return nil, huma.Error404NotFound("no registry snapshot installed yet")
		}
		return &RegistryResponse{
			Body: RegistryData{
				Origin:              string(snapshot.Origin),
				StreamCount:         snapshot.Len(),
				FetchedAt:           snapshot.FetchedAt.Format(time.RFC3339),
				ConsecutiveFailures: s.options.Poller.ConsecutiveFailures(),
				RemoteSucceeded:     s.options.Poller.RemoteSucceeded(),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Recent logs",
		Description: "Return recent log entries from the in-memory ring buffer",
		Tags:        []string{"logs"},
	}, func(_ context.Context, input *struct {
		Limit int `query:"limit" default:"100" minimum:"1" maximum:"1000" doc:"Maximum entries to return"`
	}) (*LogsResponse, error) {
		var entries []logging.LogEntry
		if buffer := logging.GetBuffer(); buffer != nil {
			entries = buffer.ReadRecent(input.Limit)
		}
		return &LogsResponse{
			Body: LogsData{Entries: entries, Count: len(entries)},
		}, nil
	})
}
