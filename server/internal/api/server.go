package api

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"el-professor/server/internal/config"
	"el-professor/server/internal/embodiment"
	"el-professor/server/internal/gateway"
	"el-professor/server/internal/llm"
	"el-professor/server/internal/model"
	"el-professor/server/internal/orchestrator"
	"el-professor/server/internal/persona"
	"el-professor/server/internal/session"
	"el-professor/server/internal/timeline"
	"el-professor/server/internal/tool"
	"el-professor/server/internal/turngate"
	"el-professor/server/internal/vision"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// liveSession 是一个会话在进程内的运行时：回合闸门与（可选的）语音网关。
type liveSession struct {
	gate *turngate.Gate

	mu sync.Mutex
	gw *gateway.Gateway
}

func (l *liveSession) stream() *gateway.Gateway {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gw
}

// attach 绑定语音网关；同一会话同时只允许一个语音连接。
func (l *liveSession) attach(gw *gateway.Gateway) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gw != nil {
		return false
	}
	l.gw = gw
	return true
}

func (l *liveSession) detach(gw *gateway.Gateway) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gw == gw {
		l.gw = nil
	}
}

type Server struct {
	config       *config.Config
	orchestrator *orchestrator.Orchestrator
	personas     *persona.Registry
	body         embodiment.Body
	camera       vision.Camera
	describer    llm.Client
	commands     *tool.ToolRegistry
	logger       *log.Logger

	// sessions 管理所有活跃会话 (sessionID -> liveSession)
	sessions   map[string]*liveSession
	sessionsMu sync.RWMutex

	// WebSocket upgrader
	upgrader websocket.Upgrader
}

// NewServer 组装 HTTP 层。body 为空时不驱动机器人；camera 或 describer 为空时视觉问题一律如实说明看不到。
func NewServer(cfg *config.Config, orch *orchestrator.Orchestrator, personas *persona.Registry, body embodiment.Body, camera vision.Camera, describer llm.Client, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	if body == nil {
		body = embodiment.Noop{}
	}
	return &Server{
		config:       cfg,
		orchestrator: orch,
		personas:     personas,
		body:         body,
		camera:       camera,
		describer:    describer,
		commands:     tool.NewToolRegistry(tool.NewHeadTrackingTool(body), tool.NewMoveHeadTool(body)),
		logger:       logger,
		sessions:     make(map[string]*liveSession),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 开发期允许本地跨域，生产环境应改为白名单
				origin := r.Header.Get("Origin")
				return origin == "" || origin == "http://localhost:5173" || origin == "http://127.0.0.1:5173"
			},
		},
	}
}

func (s *Server) Routes() http.Handler {
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery(), s.corsMiddleware())
	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/api/personas", s.handlePersonas)
	engine.POST("/api/sessions", s.handleCreateSession)
	engine.GET("/api/sessions/:id", s.handleGetSession)
	engine.DELETE("/api/sessions/:id", s.handleEndSession)
	engine.POST("/api/sessions/:id/turns", s.handleTurn)
	engine.GET("/api/sessions/:id/timeline", s.handleTimeline)
	engine.GET("/api/sessions/:id/stats", s.handleStats)
	engine.GET("/api/sessions/:id/stream", s.handleSessionStream)
	engine.GET("/api/robot/commands", s.handleRobotCommands)
	engine.POST("/api/robot/commands/:name", s.handleRobotCommand)
	return engine
}

// Shutdown 关闭所有会话（进程退出时调用）。
func (s *Server) Shutdown(ctx context.Context) {
	s.sessionsMu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.sessionsMu.RUnlock()

	for _, id := range ids {
		if err := s.endSession(ctx, id); err != nil {
			s.logger.Printf("[API] end session %s on shutdown: %v", id, err)
		}
	}
}

// handleHealthz 返回服务健康状态。
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handlePersonas 返回所有可用的人设。
func (s *Server) handlePersonas(c *gin.Context) {
	c.JSON(http.StatusOK, s.personas.List())
}

// handleCreateSession 创建会话，并为其打开回合闸门。
func (s *Server) handleCreateSession(c *gin.Context) {
	var req model.CreateSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}

	state, p, err := s.orchestrator.StartSession(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, persona.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	live := &liveSession{}
	live.gate = turngate.NewGate(state.SessionID, s.turnHandler(state.SessionID, live), turngate.Options{
		QueueSize:   s.config.Tutor.QueueSize,
		TurnTimeout: s.config.Tutor.TurnTimeout,
	}, s.logger)
	live.gate.Open()

	s.sessionsMu.Lock()
	s.sessions[state.SessionID] = live
	s.sessionsMu.Unlock()

	c.JSON(http.StatusOK, model.CreateSessionResponse{
		SessionID: state.SessionID,
		State:     *state,
		Persona:   p,
	})
}

// turnHandler 是回合闸门的处理函数：语音网关在线时用它说话，否则只走文本。
func (s *Server) turnHandler(sessionID string, live *liveSession) turngate.Handler {
	return func(ctx context.Context, turn turngate.Turn) (*model.ResponsePayload, error) {
		ch := orchestrator.Channel{
			Body:   s.body,
			Vision: vision.NewGrounder(s.camera, s.orchestrator.CannotVerify(sessionID), s.logger).WithDescriber(s.describer),
			OnEmit: turn.BeginEmit,
		}
		gw := live.stream()
		if gw != nil {
			ch.Speech = gw
		}

		payload, err := s.orchestrator.HandleTurn(ctx, sessionID, turn.Utterance, ch)
		if gw != nil {
			switch {
			case err == nil:
				if sendErr := gw.SendTurnPayload(payload); sendErr != nil {
					s.logger.Printf("[API] send turn payload failed: session=%s error=%v", sessionID, sendErr)
				}
			case errors.Is(err, model.ErrSpeechTransport):
				gw.SendError(s.orchestrator.Hiccup(sessionID))
			}
		}
		return payload, err
	}
}

func (s *Server) live(sessionID string) (*liveSession, bool) {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	live, ok := s.sessions[sessionID]
	return live, ok
}

// handleGetSession 返回会话快照。
func (s *Server) handleGetSession(c *gin.Context) {
	state, err := s.orchestrator.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, c.Param("id"), err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// handleTurn 文本通道：一次请求就是一句完整发言。
func (s *Server) handleTurn(c *gin.Context) {
	sessionID := c.Param("id")
	live, ok := s.live(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	var req model.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ts := req.ClientTS
	if ts.IsZero() {
		ts = time.Now()
	}

	payload, err := live.gate.Submit(c.Request.Context(), model.Utterance{
		ID:        uuid.NewString(),
		RawText:   req.Text,
		Timestamp: ts,
	})
	if err != nil {
		s.writeError(c, sessionID, err)
		return
	}
	if payload == nil {
		// 静默不产生回复
		c.Status(http.StatusNoContent)
		return
	}

	state, err := s.orchestrator.Session(c.Request.Context(), sessionID)
	if err != nil {
		s.writeError(c, sessionID, err)
		return
	}
	c.JSON(http.StatusOK, model.TurnResponse{Payload: *payload, State: *state})
}

// handleTimeline 返回会话审计事件，可按 turn_id、type（可重复或逗号分隔）与 after_seq 过滤。
func (s *Server) handleTimeline(c *gin.Context) {
	filter := timeline.Filter{TurnID: c.Query("turn_id")}
	for _, raw := range c.QueryArray("type") {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.Types = append(filter.Types, model.EventType(t))
			}
		}
	}
	if raw := c.Query("after_seq"); raw != "" {
		seq, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || seq < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "after_seq must be a non-negative integer"})
			return
		}
		filter.AfterSeq = seq
	}

	events, err := s.orchestrator.Timeline(c.Request.Context(), c.Param("id"), filter)
	if err != nil {
		s.writeError(c, c.Param("id"), err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// handleStats 返回回合闸门的计数。
func (s *Server) handleStats(c *gin.Context) {
	live, ok := s.live(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, live.gate.Stats())
}

// handleRobotCommands 列出学习者界面可下发的机器人指令。
func (s *Server) handleRobotCommands(c *gin.Context) {
	c.JSON(http.StatusOK, s.commands.GetAllDefinitions())
}

// handleRobotCommand 执行一条机器人指令，请求体是指令参数（JSON 对象，可为空）。
func (s *Server) handleRobotCommand(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<16))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body"})
		return
	}

	name := c.Param("name")
	res, err := s.commands.Execute(c.Request.Context(), name, string(body))
	var notFound *tool.ToolNotFoundError
	var invalid *tool.InvalidArgsError
	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		s.logger.Printf("[API] robot command %s failed: %v", name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(res.Output))
}

// handleEndSession 结束会话：关闭闸门与语音连接，丢弃状态。
func (s *Server) handleEndSession(c *gin.Context) {
	if err := s.endSession(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, c.Param("id"), err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) endSession(ctx context.Context, sessionID string) error {
	s.sessionsMu.Lock()
	live, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.sessionsMu.Unlock()
	if !ok {
		return session.ErrNotFound
	}

	// 先关闸门：在途轮次被丢弃，排队的发言不再处理
	live.gate.Close()
	if gw := live.stream(); gw != nil {
		_ = gw.Close()
	}
	return s.orchestrator.EndSession(ctx, sessionID)
}

// handleSessionStream 处理 WebSocket 连接，创建 Gateway 并启动双向语音流
func (s *Server) handleSessionStream(c *gin.Context) {
	sessionID := c.Param("id")
	s.logger.Printf("[API] WebSocket connection request for session: %s", sessionID)

	live, ok := s.live(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	state, err := s.orchestrator.Session(c.Request.Context(), sessionID)
	if err != nil {
		s.writeError(c, sessionID, err)
		return
	}
	p, err := s.orchestrator.Persona(sessionID)
	if err != nil {
		s.writeError(c, sessionID, err)
		return
	}
	if live.stream() != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "session already has a voice stream"})
		return
	}

	instructions := persona.BuildInstructions(p)
	if err := persona.ValidateInstructions(instructions); err != nil {
		s.logger.Printf("[API] instructions for persona %s: %v", p.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid persona instructions"})
		return
	}

	clientConn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Printf("[API] Failed to upgrade websocket: %v", err)
		return
	}

	gwConfig := gateway.GatewayConfig{
		OpenAIAPIKey:            s.config.OpenAI.APIKey,
		OpenAIRealtimeURL:       s.config.OpenAI.RealtimeURL,
		Model:                   s.config.OpenAI.Model,
		Voice:                   s.config.OpenAI.Voice,
		Persona:                 p,
		Instructions:            instructions,
		PingInterval:            s.config.Gateway.PingInterval,
		SpeakTimeout:            s.config.Tutor.TurnTimeout,
		ConnectAttempts:         s.config.Gateway.ConnectAttempts,
		ConnectBackoff:          s.config.Gateway.ConnectBackoff,
		InputAudioFormat:        s.config.Gateway.InputAudioFormat,
		OutputAudioFormat:       s.config.Gateway.OutputAudioFormat,
		TranscriptionModel:      s.config.Gateway.InputAudioTranscriptionModel,
		TranscriptionLanguage:   s.config.Gateway.TranscriptionLanguage,
		MaxResponseOutputTokens: s.config.OpenAI.MaxResponseOutputTokens,
	}

	gw := gateway.NewGateway(sessionID, clientConn, gwConfig, s.logger)
	gw.SetUtteranceHandler(live.gate.OnUtteranceComplete)
	if !live.attach(gw) {
		_ = gw.Close()
		return
	}
	defer func() {
		live.detach(gw)
		_ = gw.Close()
		s.logger.Printf("[API] Gateway closed for session %s", sessionID)
	}()

	if err := gw.Start(c.Request.Context()); err != nil {
		s.logger.Printf("[API] Failed to start gateway: %v", err)
		gw.SendError(s.orchestrator.Hiccup(sessionID))
		return
	}

	s.logger.Printf("[API] Gateway started for session %s persona=%s level=%s", sessionID, p.ID, state.CurrentLevel)

	// 阻塞直到连接关闭
	<-gw.Done()
}

// writeError 把控制器错误映射为 HTTP 状态；语音失败时带上统一的故障话术。
func (s *Server) writeError(c *gin.Context, sessionID string, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, model.ErrSessionEnded):
		c.JSON(http.StatusGone, gin.H{"error": "session ended"})
	case errors.Is(err, turngate.ErrQueueFull):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many pending turns"})
	case errors.Is(err, model.ErrSpeechTransport):
		c.JSON(http.StatusBadGateway, gin.H{"error": "speech transport failed", "message": s.orchestrator.Hiccup(sessionID)})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "turn timed out", "message": s.orchestrator.Hiccup(sessionID)})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusConflict, gin.H{"error": "turn discarded"})
	default:
		s.logger.Printf("[API] session=%s error=%v", sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		// 开发期：允许本地 Vite；线上应改为白名单或同源。
		if origin == "http://localhost:5173" || origin == "http://127.0.0.1:5173" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
