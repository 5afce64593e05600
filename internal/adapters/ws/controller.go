package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/vitalink/telecare/internal/config"
	"github.com/vitalink/telecare/internal/core"
	"github.com/vitalink/telecare/internal/domain"
	"github.com/vitalink/telecare/internal/identity"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Controller upgrades consultation websocket connections and shuttles
// decoded events into the hub.
type Controller struct {
	hub      *core.Hub
	verifier *identity.Verifier
	cfg      *config.Config
	limiter  *ChatRateLimiter
}

func NewController(hub *core.Hub, verifier *identity.Verifier, cfg *config.Config) *Controller {
	return &Controller{
		hub:      hub,
		verifier: verifier,
		cfg:      cfg,
		limiter:  NewChatRateLimiter(cfg.ChatLimit, cfg.ChatWindow),
	}
}

// HandleConsult runs the full connection lifecycle: identity resolve,
// upgrade, register, pumps. The read pump's exit triggers membership
// cleanup for every room the connection joined.
func (ctl *Controller) HandleConsult(ctx context.Context, c *gin.Context) {
	ident := ctl.resolveIdentity(c)

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.cfg.ReadLimit)

	id := core.ConnID(uuid.NewString())
	conn := newWSConn(ws, ctl.cfg.SendBuffer)
	ctl.hub.Register(core.NewConn(id, ident, conn))

	log.Info().Str("module", "adapters.ws").Str("conn", string(id)).
		Bool("authenticated", ident != nil).Msg("new consultation connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, id, conn)
}

// resolveIdentity verifies the session token when one is supplied.
// Verification failure is fail-open: the connection proceeds
// unauthenticated and only a log line records it.
func (ctl *Controller) resolveIdentity(c *gin.Context) *domain.Identity {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	if token == "" {
		return nil
	}
	ident, err := ctl.verifier.Verify(token)
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.ws").
			Msg("token verification failed, proceeding unauthenticated")
		return nil
	}
	return ident
}

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(ctl.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "adapters.ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "adapters.ws").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, id core.ConnID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "adapters.ws").Str("conn", string(id)).Msg("readPump closing")
		ctl.hub.Disconnect(id)
		ctl.limiter.Forget(id)
		c.Close()
		cancel()
	}()

	pongWait := ctl.cfg.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				return
			}
			ctl.handleEvent(id, data)
		}
	}
}

func (ctl *Controller) handleEvent(id core.ConnID, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "adapters.ws").Msg("bad json")
		return
	}

	switch env.Type {
	case "join-room":
		ctl.handleJoin(id, data)
	case "leave-room":
		ctl.handleLeave(id, data)
	case core.SignalOffer, core.SignalAnswer, core.SignalICECandidate:
		ctl.handleSignal(id, env.Type, data)
	case "chat-message":
		ctl.handleChat(id, data)
	case "transcription-update":
		ctl.handleTranscription(id, data)
	default:
		log.Warn().Str("module", "adapters.ws").Str("type", env.Type).Msg("unknown event")
	}
}

func (ctl *Controller) handleJoin(id core.ConnID, data []byte) {
	var p struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		log.Warn().Str("module", "adapters.ws").Str("conn", string(id)).Msg("bad join-room payload")
		return
	}
	ctl.hub.Join(id, domain.RoomID(p.RoomID))
}

func (ctl *Controller) handleLeave(id core.ConnID, data []byte) {
	var p struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		log.Warn().Str("module", "adapters.ws").Str("conn", string(id)).Msg("bad leave-room payload")
		return
	}
	ctl.hub.Leave(id, domain.RoomID(p.RoomID))
}

func (ctl *Controller) handleSignal(id core.ConnID, kind string, data []byte) {
	var p struct {
		RoomID  string          `json:"roomId"`
		To      string          `json:"to"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "adapters.ws").Str("kind", kind).Msg("bad signal payload")
		return
	}
	ctl.hub.Relay(id, kind, domain.RoomID(p.RoomID), core.ConnID(p.To), p.Payload)
}

func (ctl *Controller) handleChat(id core.ConnID, data []byte) {
	if !ctl.limiter.Allow(id) {
		log.Warn().Str("module", "adapters.ws").Str("conn", string(id)).Msg("chat rate limit hit, discarded")
		return
	}
	var p struct {
		RoomID     string             `json:"roomId"`
		SenderID   string             `json:"senderId"`
		SenderRole string             `json:"senderRole"`
		Message    string             `json:"message"`
		Attachment *domain.Attachment `json:"attachment,omitempty"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		log.Warn().Str("module", "adapters.ws").Str("conn", string(id)).Msg("bad chat payload")
		return
	}
	ctl.hub.Chat(id, domain.RoomID(p.RoomID), p.SenderID, p.SenderRole, p.Message, p.Attachment)
}

func (ctl *Controller) handleTranscription(id core.ConnID, data []byte) {
	var p struct {
		RoomID     string `json:"roomId"`
		Text       string `json:"text"`
		SenderRole string `json:"senderRole"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Str("module", "adapters.ws").Str("conn", string(id)).Msg("bad transcription payload")
		return
	}
	ctl.hub.Transcription(id, domain.RoomID(p.RoomID), p.Text, p.SenderRole)
}
