// Package api exposes the tutor over HTTP and WebSocket.
package api

import (
	"errors"
	"net/http"

	"ciro-tutor/internal/orchestrator"
	"ciro-tutor/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server wires the orchestrator into HTTP routes.
type Server struct {
	orch     *orchestrator.Orchestrator
	store    session.Store
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewServer(orch *orchestrator.Orchestrator, store session.Store, logger *zap.Logger) *Server {
	return &Server{
		orch:   orch,
		store:  store,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.corsMiddleware())

	r.GET("/healthz", s.handleHealth)

	api := r.Group("/api")
	{
		api.POST("/threads", s.handleCreateThread)
		api.GET("/threads/:id", s.handleGetThread)
		api.POST("/threads/:id/messages", s.handlePostMessage)
		api.GET("/threads/:id/chat", s.handleChat)
	}
	return r
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createThreadRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleCreateThread(c *gin.Context) {
	var req createThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	state, err := s.orch.CreateThread(c.Request.Context(), req.Email)
	if err != nil {
		s.logger.Error("create thread failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporary failure, please retry"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"thread_id": state.ThreadID})
}

func (s *Server) handleGetThread(c *gin.Context) {
	threadID := c.Param("id")
	state, err := s.store.Get(c.Request.Context(), threadID)
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
		return
	}
	if err != nil {
		s.logger.Error("get thread failed", zap.String("thread_id", threadID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporary failure, please retry"})
		return
	}
	c.JSON(http.StatusOK, state)
}

type postMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

type messageResponse struct {
	ThreadID   string   `json:"thread_id"`
	Reply      string   `json:"reply"`
	Escalation bool     `json:"escalation"`
	Handlers   []string `json:"handlers"`
}

func (s *Server) handlePostMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	result, err := s.orch.ProcessMessage(c.Request.Context(), c.Param("id"), req.Text)
	if err != nil {
		s.logger.Error("process message failed",
			zap.String("thread_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporary failure, please retry"})
		return
	}
	c.JSON(http.StatusOK, toMessageResponse(result))
}

// handleChat is the WebSocket variant of the message endpoint: one JSON
// request per client frame, one JSON response per server frame.
func (s *Server) handleChat(c *gin.Context) {
	threadID := c.Param("id")
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			zap.String("thread_id", threadID), zap.Error(err))
		return
	}
	defer conn.Close()

	for {
		var req postMessageRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed",
					zap.String("thread_id", threadID), zap.Error(err))
			}
			return
		}
		if req.Text == "" {
			if err := conn.WriteJSON(gin.H{"error": "text is required"}); err != nil {
				return
			}
			continue
		}

		result, err := s.orch.ProcessMessage(c.Request.Context(), threadID, req.Text)
		if err != nil {
			s.logger.Error("process message failed",
				zap.String("thread_id", threadID), zap.Error(err))
			if err := conn.WriteJSON(gin.H{"error": "temporary failure, please retry"}); err != nil {
				return
			}
			continue
		}
		if err := conn.WriteJSON(toMessageResponse(result)); err != nil {
			return
		}
	}
}

func toMessageResponse(result orchestrator.Result) messageResponse {
	handlers := make([]string, 0, len(result.Handlers))
	for _, id := range result.Handlers {
		handlers = append(handlers, string(id))
	}
	return messageResponse{
		ThreadID:   result.ThreadID,
		Reply:      result.Reply,
		Escalation: result.Escalation,
		Handlers:   handlers,
	}
}
