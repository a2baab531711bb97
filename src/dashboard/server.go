// Package dashboard serves session state over HTTP and pushes snapshots to browsers
// over a websocket.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"papertrader/src/logger"
	"papertrader/src/portfolio"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Controls is what the dashboard may do to the session.
type Controls interface {
	Snapshot() portfolio.Snapshot
	Start() error
	Stop() error
	Reset() error
}

type Server struct {
	addr     string
	controls Controls
	hub      *Hub
	engine   *gin.Engine
	log      *logger.Logger
	upgrader websocket.Upgrader
}

func NewServer(addr string, controls Controls, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		addr:     addr,
		controls: controls,
		hub:      NewHub(controls, log),
		engine:   gin.New(),
		log:      log.Component("dashboard"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.engine.Use(requestID(), s.requestLog(), s.recovery())
	s.routes()
	return s
}

// Hub is the snapshot publisher to attach to the session.
func (s *Server) Hub() *Hub { return s.hub }

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/health", s.health)
	s.engine.GET("/ws", s.serveWS)
	api := s.engine.Group("/api")
	api.GET("/status", s.status)
	api.POST("/start", s.command("start"))
	api.POST("/stop", s.command("stop"))
	api.POST("/reset", s.command("reset"))
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	hubCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.hub.Run(hubCtx)

	srv := &http.Server{Addr: s.addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("dashboard listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("dashboard: %w", err)
	case <-ctx.Done():
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"time":    time.Now().UTC(),
		"clients": s.hub.Clients(),
	})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.controls.Snapshot())
}

func (s *Server) command(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		msg := s.hub.handle(Command{Type: name})
		if msg.Error != "" {
			c.JSON(http.StatusConflict, msg)
			return
		}
		c.JSON(http.StatusOK, msg)
	}
}

func (s *Server) serveWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnf("websocket upgrade: %v", err)
		return
	}
	cl := &client{hub: s.hub, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case s.hub.register <- cl:
	case <-s.hub.done:
		conn.Close()
		return
	}
	go cl.writePump()
	go cl.readPump()
}

// handle runs a browser command and returns the reply.
func (h *Hub) handle(cmd Command) Message {
	var err error
	switch cmd.Type {
	case "ping":
		return Message{Type: "pong", Data: h.controls.Snapshot()}
	case "start":
		err = h.controls.Start()
	case "stop":
		err = h.controls.Stop()
	case "reset":
		err = h.controls.Reset()
	default:
		return Message{Type: "error", Error: fmt.Sprintf("unknown command %q", cmd.Type)}
	}
	if err != nil {
		h.log.Warnf("command %s rejected: %v", cmd.Type, err)
		return Message{Type: "error", Data: cmd.Type, Error: err.Error()}
	}
	h.log.Infof("command %s accepted", cmd.Type)
	return Message{Type: "ack", Data: cmd.Type}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		}
		if id, ok := c.Get("request_id"); ok {
			fields["request_id"] = id
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.log.WithFields(fields).Errorf("request failed")
			return
		}
		s.log.WithFields(fields).Debugf("request completed")
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.log.WithField("stack", string(debug.Stack())).Errorf("panic in handler: %v", r)
				c.AbortWithStatusJSON(http.StatusInternalServerError, Message{Type: "error", Error: "internal error"})
			}
		}()
		c.Next()
	}
}
