package httpapi

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/service"
	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/types"
	"github.com/BrandonDHaskell/Bulletin/internal/obs"
)

// SessionGate mints, checks and revokes session tokens.  *service.Gate
// implements it.
type SessionGate interface {
	Open(ctx context.Context, sessionID string) (service.Grant, error)
	Check(ctx context.Context, token string) (service.Claims, error)
	Close(ctx context.Context, token string) error
}

type Dependencies struct {
	Logger *log.Logger
	Addr   string

	AccessService       *service.AccessService
	AnnouncementService *service.AnnouncementService
	Gate                SessionGate

	// Metrics is optional; when set, requests are instrumented and
	// /metrics is served.
	Metrics *obs.Metrics

	// Ready backs /readyz.  Nil means always ready.
	Ready func(ctx context.Context) error

	// HasWebhook is reported by /api/test.
	HasWebhook bool

	// AllowedOrigins for CORS.  Empty or "*" allows any origin.
	AllowedOrigins []string

	Now func() time.Time
}

type Server struct {
	httpServer    *http.Server
	logger        *log.Logger
	mux           *http.ServeMux
	access        *service.AccessService
	announcements *service.AnnouncementService
	gate          SessionGate
	ready         func(ctx context.Context) error
	hasWebhook    bool
	now           func() time.Time
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	logger := d.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	s := &Server{
		logger:        logger,
		mux:           mux,
		access:        d.AccessService,
		announcements: d.AnnouncementService,
		gate:          d.Gate,
		ready:         d.Ready,
		hasWebhook:    d.HasWebhook,
		now:           d.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}

	mux.HandleFunc("POST /api/generate-code", s.handleGenerateCode)
	mux.HandleFunc("POST /api/verify-code", s.handleVerifyCode)
	mux.Handle("POST /api/logout", s.requireSession(http.HandlerFunc(s.handleLogout)))
	mux.Handle("GET /api/announcements", s.requireSession(http.HandlerFunc(s.handleListAnnouncements)))
	mux.Handle("POST /api/send-announcement", s.requireSession(http.HandlerFunc(s.handleSendAnnouncement)))
	mux.HandleFunc("GET /api/test", s.handleProbe)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics.Handler())
	}

	var handler http.Handler = mux
	handler = corsMiddleware(d.AllowedOrigins, handler)
	handler = loggingMiddleware(logger, handler)
	if d.Metrics != nil {
		handler = d.Metrics.Instrument(handler)
	}

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Serve(l net.Listener) error {
	return s.httpServer.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ── Access ───────────────────────────────────────────────────────────────────

func (s *Server) handleGenerateCode(w http.ResponseWriter, r *http.Request) {
	issued, err := s.access.Issue(r.Context())
	if err != nil {
		s.logger.Printf("generate-code error: %v", err)
		if errors.Is(err, service.ErrNotify) {
			writeError(w, r, http.StatusBadGateway, "notify_failed", "Failed to deliver access code")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "Failed to generate access code")
		return
	}

	writeBody(w, r, http.StatusOK, types.IssueResponse{
		Success:    true,
		SessionID:  issued.SessionID,
		Expiration: issued.ExpiresAt.UnixMilli(),
	})
}

func (s *Server) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req types.VerifyRequest
	if err := readBody(r, &req); err != nil {
		writeBody(w, r, http.StatusBadRequest, types.VerifyResponse{Message: "Missing required parameters"})
		return
	}

	d, err := s.access.Verify(r.Context(), service.VerifyRequest{
		SessionID:  req.SessionID,
		Code:       req.Code,
		RemoteAddr: remoteHost(r),
	})
	if err != nil {
		if service.IsValidation(err) {
			writeBody(w, r, http.StatusBadRequest, types.VerifyResponse{Message: "Missing required parameters"})
			return
		}
		s.logger.Printf("verify-code error: %v", err)
		writeBody(w, r, http.StatusInternalServerError, types.VerifyResponse{Message: "Verification failed"})
		return
	}

	if !d.Granted {
		writeBody(w, r, http.StatusUnauthorized, denialResponse(d))
		return
	}

	// The code is already consumed here; a retry after this failure is
	// denied as already_used.
	grant, err := s.gate.Open(r.Context(), strings.TrimSpace(req.SessionID))
	if err != nil {
		s.logger.Printf("verify-code open session error (code for session %s consumed): %v", strings.TrimSpace(req.SessionID), err)
		writeBody(w, r, http.StatusInternalServerError, types.VerifyResponse{Message: "Verification failed"})
		return
	}
	writeBody(w, r, http.StatusOK, grantResponse(d, grant))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := tokenFromContext(r.Context())
	if err := s.gate.Close(r.Context(), token); err != nil {
		s.writeGateError(w, r, err)
		return
	}
	writeBody(w, r, http.StatusOK, types.LogoutResponse{Success: true})
}

// ── Announcements ────────────────────────────────────────────────────────────

func (s *Server) handleListAnnouncements(w http.ResponseWriter, r *http.Request) {
	list, err := s.announcements.List(r.Context())
	if err != nil {
		s.logger.Printf("announcements error: %v", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load announcements")
		return
	}
	writeBody(w, r, http.StatusOK, listResponse(list))
}

func (s *Server) handleSendAnnouncement(w http.ResponseWriter, r *http.Request) {
	var req types.PublishRequest
	if err := readBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_body", "invalid request body")
		return
	}

	sid, _ := sessionFromContext(r.Context())
	a, err := s.announcements.Publish(r.Context(), req.Title, req.Content, req.Priority)
	if err != nil {
		switch {
		case service.IsValidation(err):
			writeError(w, r, http.StatusBadRequest, "invalid_announcement", "Title and content are required")
		case errors.Is(err, service.ErrNotify):
			s.logger.Printf("send-announcement notify error: %v", err)
			writeError(w, r, http.StatusBadGateway, "notify_failed", "Failed to send announcement")
		default:
			s.logger.Printf("send-announcement error: %v", err)
			writeError(w, r, http.StatusInternalServerError, "internal_error", "Failed to send announcement")
		}
		return
	}

	s.logger.Printf("announcement %s published by session %s", a.ID, sid)
	writeBody(w, r, http.StatusOK, types.PublishResponse{Success: true, Announcement: announcementView(a)})
}

// ── Probes ───────────────────────────────────────────────────────────────────

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	writeBody(w, r, http.StatusOK, types.ProbeResponse{
		Status:     "ok",
		HasWebhook: s.hasWebhook,
		Timestamp:  s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok\n")
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Printf("readyz: %v", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, "not ready\n")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ready\n")
}

func (s *Server) writeGateError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, service.ErrInvalidToken) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="bulletin"`)
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}
	s.logger.Printf("session check error: %v", err)
	writeError(w, r, http.StatusServiceUnavailable, "unavailable", "Session check unavailable")
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
