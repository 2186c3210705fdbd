package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"el-professor/server/internal/model"
	"el-professor/server/internal/persona"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// UtteranceHandler 接收一次完整的学习者发言（通常是 Gate.OnUtteranceComplete）。
// 返回error表示没有接收，网关会告知客户端但继续运行
type UtteranceHandler func(u model.Utterance) error

// Gateway 是Realtime语音网关的核心
// 职责：
// 1. 维护客户端↔后端的WebSocket连接（会话通道）
// 2. 维护后端↔OpenAI Realtime的WebSocket连接（语音能力）
// 3. 把最终转写交给回合闸门；模型从不自己开口
// 4. 按控制器的要求逐字念出回复（Speak），模型不能调用任何工具
// 5. 处理插话中断（barge-in），转发音频流
type Gateway struct {
	sessionID string

	// 客户端连接
	clientConn     *websocket.Conn
	clientConnLock sync.Mutex

	// OpenAI Realtime连接
	realtimeConn     *websocket.Conn
	realtimeConnLock sync.Mutex

	onUtterance UtteranceHandler

	// 状态管理
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeChan chan struct{}

	// 当前活跃的响应ID（用于barge-in取消）
	activeResponseID     string
	activeResponseIDLock sync.RWMutex

	// 同一时刻只允许一个进行中的回复
	responseSlot chan struct{}
	responses    *ResponseMetadataRegistry

	// 等待 response.done 的 Speak 调用，key 为 speakID
	pending     map[string]chan error
	inflight    map[string]string // response.create event_id -> speakID
	pendingLock sync.Mutex

	// 序列号生成器（用于ServerMessage）
	seqCounter int64
	seqLock    sync.Mutex

	config GatewayConfig
	logger *log.Logger
}

// GatewayConfig 网关配置
type GatewayConfig struct {
	// OpenAI Realtime配置
	OpenAIAPIKey      string
	OpenAIRealtimeURL string // wss://api.openai.com/v1/realtime
	Model             string
	// Voice 为空时用人设的声音
	Voice string

	// Persona 决定朗读口吻
	Persona model.Persona
	// Instructions 是 session.update 的系统指令（persona.BuildInstructions）
	Instructions string

	// 超时配置
	PingInterval    time.Duration
	SpeakTimeout    time.Duration
	ConnectAttempts int
	ConnectBackoff  time.Duration

	// 音频配置
	InputAudioFormat      string // pcm16
	OutputAudioFormat     string // pcm16
	TranscriptionModel    string
	TranscriptionLanguage string

	MaxResponseOutputTokens int
}

// NewGateway 创建一个新的Gateway实例
func NewGateway(sessionID string, clientConn *websocket.Conn, config GatewayConfig, logger *log.Logger) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = log.Default()
	}

	return &Gateway{
		sessionID:    sessionID,
		clientConn:   clientConn,
		ctx:          ctx,
		cancel:       cancel,
		closeChan:    make(chan struct{}),
		responseSlot: make(chan struct{}, 1),
		responses:    NewResponseMetadataRegistry(logger),
		pending:      make(map[string]chan error),
		inflight:     make(map[string]string),
		config:       config,
		logger:       logger,
	}
}

// SetUtteranceHandler 设置发言处理器（回合闸门注入）
func (g *Gateway) SetUtteranceHandler(handler UtteranceHandler) {
	g.onUtterance = handler
}

// Done 在网关关闭后关闭。
func (g *Gateway) Done() <-chan struct{} {
	return g.closeChan
}

// Start 启动网关（核心生命周期）
// 步骤：
// 1. 连接OpenAI Realtime（失败按指数退避重试）
// 2. 初始化会话配置
// 3. 启动双向转发协程
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.connectRealtime(ctx); err != nil {
		return fmt.Errorf("connect realtime: %w", err)
	}

	if err := g.initRealtimeSession(); err != nil {
		g.closeRealtimeConn()
		return fmt.Errorf("init realtime session: %w", err)
	}

	go g.clientReadLoop()
	go g.realtimeReadLoop()
	go g.pingLoop()

	g.logger.Printf("[Gateway] started for session %s", g.sessionID)
	return nil
}

// connectRealtime 连接到OpenAI Realtime API，失败时指数退避加抖动重试
func (g *Gateway) connectRealtime(ctx context.Context) error {
	attempts := g.config.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := g.config.ConnectBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = g.dialRealtime(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		delay := backoff << (attempt - 1)
		delay += rand.N(delay/2 + 1)
		g.logger.Printf("[Gateway] connect attempt %d/%d failed: %v, retrying in %s", attempt, attempts, err, delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}

func (g *Gateway) dialRealtime(ctx context.Context) error {
	url := g.config.OpenAIRealtimeURL
	if url == "" {
		url = "wss://api.openai.com/v1/realtime"
	}
	if g.config.Model != "" && !strings.Contains(url, "model=") {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + "model=" + g.config.Model
	}

	headers := make(map[string][]string)
	headers["Authorization"] = []string{"Bearer " + g.config.OpenAIAPIKey}
	headers["OpenAI-Beta"] = []string{"realtime=v1"}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial realtime: status=%d err=%w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial realtime: %w", err)
	}

	g.realtimeConnLock.Lock()
	g.realtimeConn = conn
	g.realtimeConnLock.Unlock()
	g.logger.Printf("[Gateway] connected to OpenAI Realtime: %s", url)
	return nil
}

func (g *Gateway) voice() string {
	if g.config.Voice != "" {
		return g.config.Voice
	}
	if g.config.Persona.Voice != "" {
		return g.config.Persona.Voice
	}
	return "alloy"
}

// initRealtimeSession 初始化Realtime会话配置
func (g *Gateway) initRealtimeSession() error {
	update := RealtimeSessionUpdate{
		Type: "session.update",
		Session: RealtimeSessionConfig{
			Modalities:        []string{"text", "audio"},
			Instructions:      g.config.Instructions,
			Voice:             g.voice(),
			InputAudioFormat:  g.config.InputAudioFormat,
			OutputAudioFormat: g.config.OutputAudioFormat,
			TurnDetection: &TurnDetectionConfig{
				Type:              "server_vad",
				Threshold:         0.5,
				PrefixPaddingMS:   300,
				SilenceDurationMS: 500, // 500ms静音认为说完
				CreateResponse:    false,
				InterruptResponse: true,
			},
			Temperature:             0.8,
			MaxResponseOutputTokens: g.config.MaxResponseOutputTokens,
		},
	}

	if g.config.InputAudioFormat == "" {
		update.Session.InputAudioFormat = "pcm16"
	}
	if g.config.OutputAudioFormat == "" {
		update.Session.OutputAudioFormat = "pcm16"
	}
	if g.config.TranscriptionModel != "" {
		update.Session.InputAudioTranscription = &InputAudioTranscription{
			Model:    g.config.TranscriptionModel,
			Language: g.config.TranscriptionLanguage,
		}
	}
	// 会话不注册任何工具：看图等能力由控制器在组装回复前完成
	update.Session.ToolChoice = "none"

	return g.sendToRealtime(update)
}

// clientReadLoop 从客户端读取消息（事件+音频）
func (g *Gateway) clientReadLoop() {
	defer g.Close()

	g.clientConnLock.Lock()
	conn := g.clientConn
	g.clientConnLock.Unlock()
	if conn == nil {
		return
	}

	for {
		select {
		case <-g.closeChan:
			return
		default:
		}

		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Printf("[Gateway] client read error: %v", err)
			}
			return
		}

		if messageType == websocket.TextMessage {
			if err := g.handleClientEvent(data); err != nil {
				g.logger.Printf("[Gateway] handle client event error: %v", err)
				g.sendErrorToClient(err.Error())
			}
		} else if messageType == websocket.BinaryMessage {
			if err := g.handleClientAudio(data); err != nil {
				g.logger.Printf("[Gateway] handle client audio error: %v", err)
			}
		}
	}
}

// handleClientEvent 处理客户端JSON事件
func (g *Gateway) handleClientEvent(data []byte) error {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("unmarshal client message: %w", err)
	}

	if msg.ClientTS.IsZero() {
		msg.ClientTS = time.Now()
	}

	g.logger.Printf("[Gateway] client event: type=%s event_id=%s", msg.Type, msg.EventID)

	switch msg.Type {
	case EventTypeBargeIn:
		return g.handleBargeIn()
	case EventTypeExitRequested:
		return g.Close()
	case EventTypeTextInput:
		// 键盘输入与语音转写走同一条路径
		id := msg.EventID
		if id == "" {
			id = uuid.NewString()
		}
		return g.deliverUtterance(model.Utterance{ID: id, RawText: msg.Text, Timestamp: msg.ClientTS})
	default:
		return fmt.Errorf("unsupported client event: %s", msg.Type)
	}
}

// handleClientAudio 处理客户端音频数据
func (g *Gateway) handleClientAudio(audioData []byte) error {
	// OpenAI期望Base64编码的音频
	encoded := base64.StdEncoding.EncodeToString(audioData)

	append := RealtimeInputAudioBufferAppend{
		Type:  "input_audio_buffer.append",
		Audio: encoded,
	}

	return g.sendToRealtime(append)
}

// handleBargeIn 处理插话中断：取消当前回复并让客户端清空播放缓冲。
// 被取消的回复在 response.done 中以 cancelled 结束，对应的 Speak 视为已说出。
func (g *Gateway) handleBargeIn() error {
	g.logger.Printf("[Gateway] barge-in detected, canceling active response")

	g.activeResponseIDLock.RLock()
	responseID := g.activeResponseID
	g.activeResponseIDLock.RUnlock()

	if responseID != "" {
		cancel := RealtimeResponseCancel{
			Type:       "response.cancel",
			ResponseID: responseID,
		}
		if err := g.sendToRealtime(cancel); err != nil {
			g.logger.Printf("[Gateway] failed to cancel response: %v", err)
		}
	}

	return g.sendToClient(&ServerMessage{
		Type:     EventTypeTTSInterrupted,
		ServerTS: time.Now(),
	})
}

// deliverUtterance 把一句完整发言交给回合闸门
func (g *Gateway) deliverUtterance(u model.Utterance) error {
	if g.onUtterance == nil {
		g.logger.Printf("[Gateway] no utterance handler set, dropping utterance %s", u.ID)
		return nil
	}
	if err := g.onUtterance(u); err != nil {
		return fmt.Errorf("utterance %s not accepted: %w", u.ID, err)
	}
	return nil
}

// realtimeReadLoop 从OpenAI Realtime读取消息
func (g *Gateway) realtimeReadLoop() {
	defer g.Close()

	g.realtimeConnLock.Lock()
	conn := g.realtimeConn
	g.realtimeConnLock.Unlock()
	if conn == nil {
		return
	}

	for {
		select {
		case <-g.closeChan:
			return
		default:
		}

		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Printf("[Gateway] realtime read error: %v", err)
			}
			return
		}

		if messageType == websocket.TextMessage {
			if err := g.handleRealtimeEvent(data); err != nil {
				g.logger.Printf("[Gateway] handle realtime event error: %v", err)
			}
		}
		// OpenAI Realtime不使用Binary帧，音频在JSON事件的delta字段中
	}
}

// handleRealtimeEvent 处理OpenAI Realtime事件
func (g *Gateway) handleRealtimeEvent(data []byte) error {
	var base struct {
		Type    string `json:"type"`
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return fmt.Errorf("unmarshal realtime event: %w", err)
	}

	switch base.Type {
	case "session.created", "session.updated":
		g.logger.Printf("[Gateway] realtime %s", base.Type)
		return nil

	case "input_audio_buffer.speech_started":
		return g.sendToClient(&ServerMessage{Type: EventTypeSpeechStarted})

	case "input_audio_buffer.speech_stopped":
		return g.sendToClient(&ServerMessage{Type: EventTypeSpeechStopped})

	case "conversation.item.input_audio_transcription.completed":
		return g.handleTranscriptionCompleted(data)

	case "conversation.item.input_audio_transcription.failed":
		g.logger.Printf("[Gateway] transcription failed: %s", string(data))
		return nil

	case "response.created":
		return g.handleResponseCreated(data)

	case "response.output_item.added":
		return g.sendToClient(&ServerMessage{Type: EventTypeTTSStarted})

	case "response.audio.delta":
		return g.handleAudioDelta(data)

	case "response.audio.done":
		return g.sendToClient(&ServerMessage{Type: EventTypeTTSCompleted})

	case "response.audio_transcript.done", "response.text.done":
		return g.handleTextDone(data)

	case "response.done":
		return g.handleResponseDone(data)

	case "error":
		return g.handleRealtimeError(data)

	default:
		return nil
	}
}

// handleTranscriptionCompleted 把最终转写变成一次发言
func (g *Gateway) handleTranscriptionCompleted(data []byte) error {
	var event struct {
		ItemID     string `json:"item_id"`
		Transcript string `json:"transcript"`
	}
	if err := json.Unmarshal(data, &event); err != nil {
		return err
	}

	g.sendToClient(&ServerMessage{
		Type:   EventTypeASRFinal,
		Text:   event.Transcript,
		TurnID: event.ItemID,
	})

	u := model.Utterance{
		ID:        event.ItemID,
		RawText:   event.Transcript,
		Timestamp: time.Now(),
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if err := g.deliverUtterance(u); err != nil {
		return g.sendErrorToClient(err.Error())
	}
	return nil
}

// handleResponseCreated 登记响应元数据，用于关联 Speak 和 barge-in 取消
func (g *Gateway) handleResponseCreated(data []byte) error {
	var event struct {
		Response realtimeResponse `json:"response"`
	}
	if err := json.Unmarshal(data, &event); err != nil {
		return err
	}

	g.pendingLock.Lock()
	delete(g.inflight, event.Response.Metadata["event_id"])
	g.pendingLock.Unlock()

	g.responses.Register(event.Response.ID, event.Response.Metadata)

	g.activeResponseIDLock.Lock()
	g.activeResponseID = event.Response.ID
	g.activeResponseIDLock.Unlock()
	return nil
}

// handleAudioDelta 处理TTS音频流
func (g *Gateway) handleAudioDelta(data []byte) error {
	var event struct {
		ResponseID string `json:"response_id"`
		Delta      string `json:"delta"` // Base64编码的音频
	}
	if err := json.Unmarshal(data, &event); err != nil {
		return err
	}

	g.responses.MarkSpoken(event.ResponseID)

	audioData, err := base64.StdEncoding.DecodeString(event.Delta)
	if err != nil {
		return fmt.Errorf("decode audio delta: %w", err)
	}

	g.clientConnLock.Lock()
	defer g.clientConnLock.Unlock()

	if g.clientConn == nil {
		return errors.New("client connection is closed")
	}
	if err := g.clientConn.WriteMessage(websocket.BinaryMessage, audioData); err != nil {
		return fmt.Errorf("send audio to client: %w", err)
	}
	return nil
}

// handleTextDone 把实际念出的文本发给客户端（字幕）
func (g *Gateway) handleTextDone(data []byte) error {
	var event struct {
		ResponseID string `json:"response_id"`
		ItemID     string `json:"item_id"`
		Text       string `json:"text"`
		Transcript string `json:"transcript"`
	}
	if err := json.Unmarshal(data, &event); err != nil {
		return err
	}

	text := event.Text
	if text == "" {
		text = event.Transcript
	}
	if text != "" {
		g.responses.MarkSpoken(event.ResponseID)
	}
	return g.sendToClient(&ServerMessage{
		Type:   EventTypeAssistantText,
		Text:   text,
		TurnID: event.ItemID,
	})
}

// handleResponseDone 结束一次回复：释放回复槽位，唤醒对应的 Speak。
// 正常结束却没有任何音频或文本输出的回复视为没有说出。
func (g *Gateway) handleResponseDone(data []byte) error {
	var event struct {
		Response realtimeResponse `json:"response"`
	}
	if err := json.Unmarshal(data, &event); err != nil {
		return err
	}
	resp := event.Response

	g.activeResponseIDLock.Lock()
	if g.activeResponseID == resp.ID {
		g.activeResponseID = ""
	}
	g.activeResponseIDLock.Unlock()

	meta, ok := g.responses.Get(resp.ID)
	if !ok {
		meta = &ResponseMetadata{ResponseID: resp.ID, Kind: ResponseKind(resp.Metadata["kind"]), SpeakID: resp.Metadata["speak_id"]}
	}
	spoken := g.responses.Spoken(resp.ID) || resp.hasSpeech()
	g.responses.Unregister(resp.ID)
	g.releaseSlot()

	g.logger.Printf("[Gateway] response done: id=%s kind=%s status=%s spoken=%v", resp.ID, meta.Kind, resp.Status, spoken)

	if meta.Kind != ResponseKindSpeak {
		return nil
	}
	var err error
	switch {
	case resp.Status == "failed":
		reason := "response failed"
		if resp.StatusDetails != nil && resp.StatusDetails.Error != nil {
			reason = resp.StatusDetails.Error.Message
		}
		err = fmt.Errorf("%w: %s", model.ErrSpeechTransport, reason)
	case resp.Status == "cancelled":
		// 插话打断，视为已经说出
	case !spoken:
		err = fmt.Errorf("%w: response produced no speech", model.ErrSpeechTransport)
	}
	g.resolveSpeak(meta.SpeakID, err)
	return nil
}

// handleRealtimeError 处理Realtime错误事件
func (g *Gateway) handleRealtimeError(data []byte) error {
	var event struct {
		Error struct {
			Type    string `json:"type"`
			Code    string `json:"code"`
			Message string `json:"message"`
			EventID string `json:"event_id"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &event); err != nil {
		return err
	}

	g.logger.Printf("[Gateway] realtime error: type=%s code=%s message=%s event_id=%s",
		event.Error.Type, event.Error.Code, event.Error.Message, event.Error.EventID)

	// 被拒绝的 response.create 不会再有 response.done
	g.pendingLock.Lock()
	speakID, rejected := g.inflight[event.Error.EventID]
	delete(g.inflight, event.Error.EventID)
	g.pendingLock.Unlock()
	if rejected {
		g.releaseSlot()
		if speakID != "" {
			g.resolveSpeak(speakID, fmt.Errorf("%w: %s", model.ErrSpeechTransport, event.Error.Message))
		}
	}

	return g.sendErrorToClient(fmt.Sprintf("Realtime error: %s", event.Error.Message))
}

// Speak 让模型用人设的声音逐字念出 text，直到这次回复结束才返回。
// 插话打断（cancelled）视为已经说出。
func (g *Gateway) Speak(ctx context.Context, text string) error {
	if g.config.SpeakTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.SpeakTimeout)
		defer cancel()
	}

	speakID := uuid.NewString()
	done := make(chan error, 1)
	g.pendingLock.Lock()
	g.pending[speakID] = done
	g.pendingLock.Unlock()
	defer func() {
		g.pendingLock.Lock()
		delete(g.pending, speakID)
		g.pendingLock.Unlock()
	}()

	create := RealtimeResponseCreateConfig{
		Modalities:   []string{"text", "audio"},
		Instructions: persona.SpeakInstructions(g.config.Persona, text),
		Voice:        g.voice(),
		Temperature:  0.6,
		ToolChoice:   "none",
	}
	if _, err := g.createResponse(ctx, ResponseKindSpeak, speakID, create); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		g.cancelResponseFor(speakID)
		return ctx.Err()
	case <-g.closeChan:
		return fmt.Errorf("%w: gateway closed", model.ErrSpeechTransport)
	}
}

// createResponse 占用回复槽位后发送 response.create，返回其 event_id
func (g *Gateway) createResponse(ctx context.Context, kind ResponseKind, speakID string, cfg RealtimeResponseCreateConfig) (string, error) {
	select {
	case g.responseSlot <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-g.closeChan:
		return "", fmt.Errorf("%w: gateway closed", model.ErrSpeechTransport)
	}

	eventID := "evt_" + uuid.NewString()
	cfg.Metadata = map[string]string{"kind": string(kind), "event_id": eventID}
	if speakID != "" {
		cfg.Metadata["speak_id"] = speakID
	}

	g.pendingLock.Lock()
	g.inflight[eventID] = speakID
	g.pendingLock.Unlock()

	if err := g.sendToRealtime(RealtimeResponseCreate{Type: "response.create", EventID: eventID, Response: cfg}); err != nil {
		g.pendingLock.Lock()
		delete(g.inflight, eventID)
		g.pendingLock.Unlock()
		g.releaseSlot()
		return "", fmt.Errorf("%w: %v", model.ErrSpeechTransport, err)
	}
	return eventID, nil
}

func (g *Gateway) releaseSlot() {
	select {
	case <-g.responseSlot:
	default:
	}
}

func (g *Gateway) resolveSpeak(speakID string, err error) {
	g.pendingLock.Lock()
	done, ok := g.pending[speakID]
	g.pendingLock.Unlock()
	if !ok {
		return
	}
	select {
	case done <- err:
	default:
	}
}

// cancelResponseFor 取消某次 Speak 对应的进行中回复（尽力而为）
func (g *Gateway) cancelResponseFor(speakID string) {
	rm, ok := g.responses.GetBySpeakID(speakID)
	if !ok {
		return
	}
	if err := g.sendToRealtime(RealtimeResponseCancel{Type: "response.cancel", ResponseID: rm.ResponseID}); err != nil {
		g.logger.Printf("[Gateway] cancel response %s failed: %v", rm.ResponseID, err)
	}
}

// SendTurnPayload 把一轮的完整回复（含情绪）发给客户端
func (g *Gateway) SendTurnPayload(payload *model.ResponsePayload) error {
	return g.sendToClient(&ServerMessage{
		Type:    EventTypeTurnPayload,
		TurnID:  payload.TurnID,
		Text:    payload.SpokenText,
		Payload: payload,
	})
}

// SendError 告知客户端一个可读的错误（例如故障提示语）
func (g *Gateway) SendError(text string) error {
	return g.sendErrorToClient(text)
}

// sendToRealtime 发送消息到OpenAI Realtime
func (g *Gateway) sendToRealtime(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal realtime message: %w", err)
	}

	g.realtimeConnLock.Lock()
	defer g.realtimeConnLock.Unlock()

	if g.realtimeConn == nil {
		return errors.New("realtime connection is closed")
	}

	if err := g.realtimeConn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write to realtime: %w", err)
	}

	return nil
}

// sendToClient 发送消息给客户端
func (g *Gateway) sendToClient(msg *ServerMessage) error {
	g.seqLock.Lock()
	g.seqCounter++
	msg.Seq = g.seqCounter
	g.seqLock.Unlock()

	if msg.ServerTS.IsZero() {
		msg.ServerTS = time.Now()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal server message: %w", err)
	}

	g.clientConnLock.Lock()
	defer g.clientConnLock.Unlock()

	if g.clientConn == nil {
		return errors.New("client connection is closed")
	}

	if err := g.clientConn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write to client: %w", err)
	}

	return nil
}

// sendErrorToClient 发送错误消息给客户端
func (g *Gateway) sendErrorToClient(errMsg string) error {
	return g.sendToClient(&ServerMessage{
		Type:  EventTypeError,
		Error: errMsg,
	})
}

// pingLoop 定期发送ping保持连接
func (g *Gateway) pingLoop() {
	interval := g.config.PingInterval
	if interval == 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.closeChan:
			return
		case <-ticker.C:
			g.clientConnLock.Lock()
			if g.clientConn != nil {
				g.clientConn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(5*time.Second))
			}
			g.clientConnLock.Unlock()

			g.realtimeConnLock.Lock()
			if g.realtimeConn != nil {
				g.realtimeConn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(5*time.Second))
			}
			g.realtimeConnLock.Unlock()
		}
	}
}

// Close 关闭网关；等待中的 Speak 以 ErrSpeechTransport 返回
func (g *Gateway) Close() error {
	var closeErr error

	g.closeOnce.Do(func() {
		g.logger.Printf("[Gateway] closing session %s", g.sessionID)

		g.cancel()
		close(g.closeChan)

		if err := g.closeClientConn(); err != nil {
			closeErr = err
		}
		if err := g.closeRealtimeConn(); err != nil {
			if closeErr == nil {
				closeErr = err
			}
		}
		g.responses.Clear()
	})

	return closeErr
}

// closeClientConn 关闭客户端连接
func (g *Gateway) closeClientConn() error {
	g.clientConnLock.Lock()
	defer g.clientConnLock.Unlock()

	if g.clientConn == nil {
		return nil
	}

	g.clientConn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)

	err := g.clientConn.Close()
	g.clientConn = nil
	return err
}

// closeRealtimeConn 关闭Realtime连接
func (g *Gateway) closeRealtimeConn() error {
	g.realtimeConnLock.Lock()
	defer g.realtimeConnLock.Unlock()

	if g.realtimeConn == nil {
		return nil
	}

	g.realtimeConn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)

	err := g.realtimeConn.Close()
	g.realtimeConn = nil
	return err
}
