// Package web implements the Web Surface (spec §4.10/§6): the JSON
// API, live/clipped HLS playlist and segment serving, MP4 export,
// single-frame/image serving, and the SSE movement stream. Routing
// follows the teacher's chi + cors + middleware.Logger/Recoverer shape.
package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"nvr/internal/camera"
	"nvr/internal/detect"
	"nvr/internal/events"
	"nvr/internal/janitor"
	"nvr/internal/model"
	"nvr/internal/store"
	"nvr/internal/stream"
	"nvr/internal/supervisor"
)

// Server holds every collaborator the Web Surface's handlers need.
type Server struct {
	repo    *store.Repo
	bus     *events.Broadcaster
	streams *stream.Controller
	janitor *janitor.Janitor
	worker  *detect.Worker
	cache   *camera.Cache
	sup     *supervisor.Supervisor
	log     *slog.Logger

	ffmpegPath string
	ready      func() bool
}

// Config bundles Server's constructor arguments.
type Config struct {
	Repo       *store.Repo
	Bus        *events.Broadcaster
	Streams    *stream.Controller
	Janitor    *janitor.Janitor
	Worker     *detect.Worker
	Cache      *camera.Cache
	Supervisor *supervisor.Supervisor
	Log        *slog.Logger
	FFmpegPath string
	Ready      func() bool
}

func NewServer(cfg Config) *Server {
	return &Server{
		repo:       cfg.Repo,
		bus:        cfg.Bus,
		streams:    cfg.Streams,
		janitor:    cfg.Janitor,
		worker:     cfg.Worker,
		cache:      cfg.Cache,
		sup:        cfg.Supervisor,
		log:        cfg.Log,
		ffmpegPath: cfg.FFmpegPath,
		ready:      cfg.Ready,
	}
}

// Router builds the full chi mux.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}))

	r.Get("/api/healthz", s.handleHealthz)

	r.Route("/api", func(r chi.Router) {
		r.Get("/movements", s.handleListMovements)
		r.Get("/movements/stream", s.handleMovementsStream)
		r.Post("/settings", s.handlePostSettings)
		r.Post("/camera/new", s.handleCameraNew)
		r.Post("/camera/{key}", s.handleCameraUpdate)
		r.Get("/stats", s.handleStats)
		r.Get("/diskstatus", s.handleDiskStatus)
		r.Post("/diskcleanup", s.handleDiskCleanup)
	})

	r.Get("/video/live/{cameraKey}/{file}", s.handleLiveMedia)
	r.Get("/video/{startSegment}/{seconds}/{cameraKey}/{file}", s.handleClipMedia)
	r.Get("/mp4/{startSegment}/{seconds}/{cameraKey}", s.handleMP4)
	r.Get("/image/{movementKey}", s.handleImage)
	r.Get("/frame/{movementKey}/{filename}", s.handleFrame)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil && !s.ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Publish implements movement.Publisher and detect.Publisher by
// forwarding to the SSE broadcaster.
func (s *Server) Publish(t model.SSEEventType, m *model.Movement) {
	s.bus.Publish(t, m)
}
