// Package httpapi exposes the meeting lifecycle, response submission, inbox
// and slot search as a JSON API.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"meetsync/internal/inbox"
	"meetsync/internal/lifecycle"
	"meetsync/internal/slots"
	logx "meetsync/pkg/logx"
)

type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Debug           bool
	// CORSOrigins enables CORS for the listed origins; "*" allows any.
	CORSOrigins []string
}

type Deps struct {
	Meetings *lifecycle.Service
	Inbox    *inbox.Hub
	// Busy may be nil; slot search then treats everyone as free.
	Busy slots.BusySource
	Log  logx.Logger
	Now  func() time.Time
}

type Server struct {
	cfg    Config
	svc    *lifecycle.Service
	inbox  *inbox.Hub
	busy   slots.BusySource
	log    logx.Logger
	now    func() time.Time
	engine *gin.Engine
}

func New(cfg Config, d Deps) (*Server, error) {
	if d.Meetings == nil {
		return nil, errors.New("httpapi: lifecycle service is required")
	}
	if d.Inbox == nil {
		return nil, errors.New("httpapi: inbox hub is required")
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		cfg:   cfg,
		svc:   d.Meetings,
		inbox: d.Inbox,
		busy:  d.Busy,
		log:   d.Log.With(logx.Component("http")),
		now:   d.Now,
	}
	s.engine = s.routes()
	return s, nil
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(recovery(s.log), accessLog(s.log))
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(corsMiddleware(s.cfg.CORSOrigins))
	}

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	m := r.Group("/meetings")
	m.POST("", s.createMeeting)
	m.GET("", s.listMeetings)
	m.GET("/:id", s.getMeeting)
	m.POST("/:id/send", s.sendMeeting)
	m.POST("/:id/confirm", s.confirmMeeting)
	m.POST("/:id/cancel", s.cancelMeeting)
	m.POST("/:id/remind", s.remindMeeting)
	m.POST("/:id/participants", s.addParticipants)
	m.POST("/:id/responses", s.submitResponse)
	m.POST("/:id/decline", s.submitDecline)

	ib := r.Group("/inbox/:email")
	ib.GET("", s.getInbox)
	ib.POST("/read/:nid", s.markRead)
	ib.POST("/read-all", s.markAllRead)

	r.POST("/slots", s.findSlots)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("http api listening", logx.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		s.log.Warn("http api shutdown", logx.Err(err))
		return err
	}
	<-errCh
	s.log.Info("http api stopped")
	return nil
}
