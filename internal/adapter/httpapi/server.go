package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"stockripper/internal/domain"
	"stockripper/internal/infra/config"
	"stockripper/internal/usecase"
)

// StatusReporter exposes the provider pool's per-provider snapshot.
type StatusReporter interface {
	Status() map[string]domain.ProviderStatus
}

// taskRequest is the body accepted by the task-submission endpoints.
type taskRequest struct {
	Skill   string          `json:"skill,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Accepted for compatibility with peers that post {message: ...}.
	Message json.RawMessage `json:"message,omitempty"`
}

// taskResponse is the envelope returned for every submitted task.
type taskResponse struct {
	Success bool   `json:"success"`
	TaskID  string `json:"task_id"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Server is the agent's HTTP surface: discovery, health, provider status, and
// task submission. Task submitters always receive a well-formed JSON envelope,
// never a raw transport error.
type Server struct {
	card      domain.AgentCard
	processor *usecase.Processor
	status    StatusReporter
	limiter   *rate.Limiter
	logger    *slog.Logger
	engine    *gin.Engine
	httpSrv   *http.Server
	addr      string
}

// New builds the server. skillRoutes maps extra POST paths to fixed skill
// names (e.g. "/trade-notification" -> trade-notification) alongside the
// generic /tasks endpoint.
func New(card domain.AgentCard, proc *usecase.Processor, status StatusReporter,
	rl config.RateLimitConfig, addr string, skillRoutes map[string]string, logger *slog.Logger) *Server {

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		card:      card,
		processor: proc,
		status:    status,
		logger:    logger,
		addr:      addr,
	}
	if rl.Enabled {
		s.limiter = rate.NewLimiter(rate.Limit(rl.RPS), rl.Burst)
	}

	g := gin.New()
	g.Use(gin.Recovery(), s.correlationID())

	g.GET("/.well-known/agent.json", s.handleDiscovery)
	g.GET("/health", s.handleHealth)
	g.GET("/mcp-status", s.handleProviderStatus)

	tasks := g.Group("/", s.rateLimit())
	tasks.POST("/tasks", s.handleTask(""))
	for route, skill := range skillRoutes {
		tasks.POST(route, s.handleTask(skill))
	}

	s.engine = g
	return s
}

// correlationID reads the inbound correlation id header or mints one, and
// makes it available to handlers and the response.
func (s *Server) correlationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(domain.CorrelationIDHeader)
		if cid == "" {
			cid = domain.NewID()
		}
		c.Set("correlation_id", cid)
		c.Header(domain.CorrelationIDHeader, cid)
		c.Next()
	}
}

// rateLimit applies the configured token bucket to task submission.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter != nil && !s.limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, taskResponse{
				Success: false,
				Error:   "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) handleDiscovery(c *gin.Context) {
	c.JSON(http.StatusOK, s.card)
}

// handleHealth reports process liveness only; provider connection state is
// intentionally not reflected here.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "agent": s.card.Name})
}

func (s *Server) handleProviderStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"mcp_servers": s.status.Status()})
}

// handleTask accepts a task, runs it through the processor, and maps the
// terminal state onto the response envelope. fixedSkill pins the skill for
// role-specific routes; the generic /tasks route takes it from the body.
func (s *Server) handleTask(fixedSkill string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req taskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, taskResponse{
				Success: false,
				Error:   "invalid request body: " + err.Error(),
			})
			return
		}

		skill := fixedSkill
		if skill == "" {
			skill = req.Skill
		}
		payload := req.Payload
		if len(payload) == 0 {
			payload = req.Message
		}

		task := domain.NewTask(skill, payload, c.GetString("correlation_id"))
		task = s.processor.Process(c.Request.Context(), task)

		resp := taskResponse{TaskID: task.ID}
		switch task.Status {
		case domain.TaskCompleted:
			resp.Success = true
			resp.Result = task.Result
			c.JSON(http.StatusOK, resp)
		default:
			resp.Error = task.Error
			c.JSON(http.StatusOK, resp)
		}
	}
}

// Start begins serving and blocks until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http server started", "addr", s.addr, "agent", s.card.Name)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Handler exposes the underlying engine for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}
