package channels

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ferrovax/ironclaw/pkg/bus"
	"github.com/ferrovax/ironclaw/pkg/delivery"
)

const whatsappLimit = 4096

// WhatsAppConfig configures the WhatsApp bridge adapter. ironclaw does
// not speak the WhatsApp wire protocol itself; it talks JSON frames to a
// local bridge process over a websocket.
type WhatsAppConfig struct {
	BridgeURL string   `yaml:"bridge_url" env:"IRONCLAW_WHATSAPP_BRIDGE_URL"`
	AllowFrom []string `yaml:"allow_from"`
	// DefaultChatID receives proactive posts; optional.
	DefaultChatID string `yaml:"default_chat_id"`
}

// bridgeFrame is the wire format shared with the bridge process.
type bridgeFrame struct {
	Type     string `json:"type"` // "message" inbound, "send" outbound
	SenderID string `json:"sender_id,omitempty"`
	ChatID   string `json:"chat_id"`
	Content  string `json:"content"`
}

// WhatsApp is the websocket bridge adapter.
type WhatsApp struct {
	url       string
	allowList AllowList
	defChatID string

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWhatsApp builds the adapter; the connection belongs to Start.
func NewWhatsApp(cfg WhatsAppConfig) (*WhatsApp, error) {
	if cfg.BridgeURL == "" {
		return nil, fmt.Errorf("whatsapp bridge url missing")
	}
	return &WhatsApp{
		url:       cfg.BridgeURL,
		allowList: AllowList(cfg.AllowFrom),
		defChatID: cfg.DefaultChatID,
	}, nil
}

func (w *WhatsApp) Name() string { return "whatsapp" }

func (w *WhatsApp) Allows(userID string) bool { return w.allowList.Allows(userID) }

func (w *WhatsApp) Limit() int { return whatsappLimit }

// Start dials the bridge and reads frames until ctx is cancelled. A read
// failure is the bridge dying: fail fast and let the supervisor restart.
func (w *WhatsApp) Start(ctx context.Context, onMessage OnMessage) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("whatsapp bridge dial: %w", err)
	}
	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var frame bridgeFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("whatsapp bridge read: %w", err)
		}
		if frame.Type != "message" || frame.Content == "" {
			continue
		}
		onMessage(ctx, frame.Content, bus.DeliveryContext{
			Channel: w.Name(),
			ChatID:  frame.ChatID,
			UserID:  frame.SenderID,
		})
	}
}

func (w *WhatsApp) Reply(ctx context.Context, content string, dctx bus.DeliveryContext) error {
	if dctx.ChatID == "" {
		return fmt.Errorf("whatsapp reply without chat id: %w", delivery.ErrInvalidDestination)
	}
	return w.write(bridgeFrame{Type: "send", ChatID: dctx.ChatID, Content: content})
}

func (w *WhatsApp) Post(ctx context.Context, content string) error {
	if w.defChatID == "" {
		return fmt.Errorf("whatsapp has no default chat configured: %w", delivery.ErrInvalidDestination)
	}
	return w.write(bridgeFrame{Type: "send", ChatID: w.defChatID, Content: content})
}

func (w *WhatsApp) write(frame bridgeFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return fmt.Errorf("whatsapp bridge not connected")
	}
	if err := w.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("whatsapp bridge write: %w", err)
	}
	return nil
}

func (w *WhatsApp) Stop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	return nil
}
