package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"expensesync/internal/assets"
	"expensesync/internal/core"
	"expensesync/internal/feed"
	"expensesync/internal/history"
	"expensesync/internal/log"
	"expensesync/internal/middleware/ratelimit"
	"expensesync/internal/middleware/security"
	"expensesync/internal/middleware/trace"
	"expensesync/internal/services"
	"expensesync/internal/webhook"

	"github.com/gorilla/websocket"
)

type (
	// Identifier resolves the identity triple to a user.
	Identifier interface {
		Identify(ctx context.Context, firstName, lastName, userID string) (core.User, error)
	}

	// Submitter runs the two-phase expense submission.
	Submitter interface {
		Submit(ctx context.Context, userID string, in core.NewExpense, file *assets.File) (services.SubmitResult, error)
	}

	// AttachmentUploader stores comment images apart from receipts.
	AttachmentUploader interface {
		UploadAttachment(ctx context.Context, userID string, f assets.File) (assets.Asset, error)
	}

	// CommentSender forwards comments to the automation webhook.
	CommentSender interface {
		Enabled() bool
		Send(ctx context.Context, s webhook.Submission) (map[string]any, error)
	}
)

// Dependencies are the collaborators the handlers call. Attachments,
// Comments, Feed, Assets and Ready are optional.
type Dependencies struct {
	Identifier  Identifier
	History     history.Fetcher
	Submitter   Submitter
	Attachments AttachmentUploader
	Comments    CommentSender
	Feed        feed.Subscriber
	Assets      http.Handler
	Ready       func(context.Context) error
}

// Options tunes request limits.
type Options struct {
	MaxUploadBytes     int64
	RateLimitPerMinute int // 0 disables
}

type Server struct {
	http.Server
	deps     Dependencies
	opts     Options
	logger   *log.Logger
	limiter  *ratelimit.Limiter
	tracer   *trace.Middleware
	upgrader websocket.Upgrader

	liveMu   sync.Mutex
	live     map[*history.Controller]struct{}
	draining bool

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, deps Dependencies, opts Options, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = assets.DefaultMaxBytes
	}

	mux := http.NewServeMux()
	resolver := security.NewIPResolver()

	s := &Server{
		deps:   deps,
		opts:   opts,
		logger: logger.WithComponent(log.ComponentHTTP),
		tracer: trace.NewMiddleware(logger, resolver.ClientIP),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		live: make(map[*history.Controller]struct{}),
	}

	writeLimit := func(h http.Handler) http.Handler { return h }
	if opts.RateLimitPerMinute > 0 {
		s.limiter = ratelimit.NewLimiter(ratelimit.Config{Requests: opts.RateLimitPerMinute, Window: time.Minute})
		key := func(r *http.Request) string {
			if id := r.PathValue("userID"); id != "" {
				return "user:" + id
			}
			return "ip:" + resolver.ClientIP(r)
		}
		writeLimit = s.limiter.Middleware(key, func(w http.ResponseWriter, r *http.Request) {
			ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded").Write(w)
		})
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("POST /api/identify", writeLimit(http.HandlerFunc(s.handleIdentify)))
	mux.HandleFunc("GET /api/users/{userID}/history", s.handleHistory)
	mux.Handle("POST /api/users/{userID}/expenses", writeLimit(http.HandlerFunc(s.handleCreateExpense)))
	mux.Handle("POST /api/users/{userID}/comments", writeLimit(http.HandlerFunc(s.handleComment)))
	mux.HandleFunc("GET /api/users/{userID}/live", s.handleLive)
	if deps.Assets != nil {
		mux.Handle("GET /assets/", security.StaticAssetMiddleware(3600)(deps.Assets))
	}

	var handler http.Handler = mux
	handler = log.Middleware(s.logger, trace.GetRequestID)(handler)
	handler = s.tracer.Middleware(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Shutdown closes live views, stops the limiter and shuts the HTTP server
// down. Hijacked websocket connections are not covered by
// http.Server.Shutdown, so they are closed here through their controllers.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.liveMu.Lock()
		s.draining = true
		controllers := make([]*history.Controller, 0, len(s.live))
		for c := range s.live {
			controllers = append(controllers, c)
		}
		s.liveMu.Unlock()

		for _, c := range controllers {
			_ = c.Close()
		}
		if s.limiter != nil {
			s.limiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// LiveViews returns the number of open live connections.
func (s *Server) LiveViews() int {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	return len(s.live)
}

func (s *Server) track(c *history.Controller) bool {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	if s.draining {
		return false
	}
	s.live[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *history.Controller) {
	s.liveMu.Lock()
	delete(s.live, c)
	s.liveMu.Unlock()
}
