package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quickfixgo/quickfix"
	"go.uber.org/zap"

	"github.com/Aidin1998/dropcopy/internal/fixmsg"
	"github.com/Aidin1998/dropcopy/internal/session"
	apperrors "github.com/Aidin1998/dropcopy/pkg/errors"
)

// SessionController is the part of the supervisor the control surface drives.
type SessionController interface {
	Sessions() []session.Status
	Status(name string) (session.Status, error)
	Stop(name string) error
	StopAll()
	Lookup(name string, seqNum uint64) (*quickfix.Message, bool, error)
}

// MessageView is a stored message as returned by the API.
type MessageView struct {
	Session string `json:"session"`
	SeqNum  uint64 `json:"seq_num"`
	MsgType string `json:"msg_type"`
	PossDup bool   `json:"poss_dup"`
	Raw     string `json:"raw"`
	Human   string `json:"human"`
}

// Server is the operator control surface: health, metrics, session status
// and per-session stop.
type Server struct {
	logger *zap.Logger
	ctrl   SessionController
	http   *http.Server
}

// NewServer creates the control surface for ctrl.
func NewServer(logger *zap.Logger, ctrl SessionController) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{logger: logger, ctrl: ctrl}
}

// Router creates the HTTP router
func (s *Server) Router() *gin.Engine {
	router := gin.New()

	router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		sessions := v1.Group("/sessions")
		{
			sessions.GET("", s.handleListSessions)
			sessions.GET("/:name", s.handleGetSession)
			sessions.POST("/:name/stop", s.handleStopSession)
			sessions.GET("/:name/messages/:seq", s.handleGetMessage)
		}
		v1.POST("/shutdown", s.handleShutdown)
	}

	return router
}

// Start listens on addr and serves in the background. Bind errors are
// returned directly.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.http = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("Control surface listening", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Control surface stopped", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.ctrl.Sessions()})
}

func (s *Server) handleGetSession(c *gin.Context) {
	st, err := s.ctrl.Status(c.Param("name"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleStopSession(c *gin.Context) {
	name := c.Param("name")
	if err := s.ctrl.Stop(name); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session": name, "status": "stopping"})
}

func (s *Server) handleShutdown(c *gin.Context) {
	s.ctrl.StopAll()
	c.JSON(http.StatusAccepted, gin.H{"status": "stopping"})
}

func (s *Server) handleGetMessage(c *gin.Context) {
	name := c.Param("name")
	seq, err := strconv.ParseUint(c.Param("seq"), 10, 64)
	if err != nil {
		s.writeProblem(c, apperrors.NewValidationError(
			fmt.Sprintf("sequence number %q is not an unsigned integer", c.Param("seq")), c.Request.URL.Path))
		return
	}

	msg, ok, err := s.ctrl.Lookup(name, seq)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !ok {
		s.writeProblem(c, apperrors.NewMessageNotFoundError(
			fmt.Sprintf("session %s has no message %d", name, seq), c.Request.URL.Path).
			WithExtra("session", name).
			WithExtra("seq_num", seq))
		return
	}

	raw := string(fixmsg.Encode(msg))
	c.JSON(http.StatusOK, MessageView{
		Session: name,
		SeqNum:  seq,
		MsgType: fixmsg.MsgType(msg),
		PossDup: fixmsg.IsPossDup(msg),
		Raw:     raw,
		Human:   fixmsg.Human(raw),
	})
}

// writeError maps session errors to problem documents
func (s *Server) writeError(c *gin.Context, err error) {
	instance := c.Request.URL.Path
	switch {
	case errors.Is(err, session.ErrUnknownSession):
		s.writeProblem(c, apperrors.NewSessionNotFoundError(err.Error(), instance))
	case errors.Is(err, session.ErrNotRunning):
		s.writeProblem(c, apperrors.NewSessionNotRunningError(err.Error(), instance))
	default:
		s.logger.Error("Control request failed", zap.String("path", instance), zap.Error(err))
		s.writeProblem(c, apperrors.NewInternalError(err.Error(), instance))
	}
}

func (s *Server) writeProblem(c *gin.Context, p *apperrors.ProblemDetails) {
	body, err := json.Marshal(p)
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(p.Status, "application/problem+json", body)
}
