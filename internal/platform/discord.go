package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"chatbroker/internal/credential"
	"chatbroker/internal/logging"
	"chatbroker/internal/models"
	"chatbroker/internal/platform/txwire"
)

const discordGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

// Discord gateway opcodes relevant to the runtime.
const (
	gatewayOpDispatch           = 0
	gatewayOpHeartbeat          = 1
	gatewayOpIdentify           = 2
	gatewayOpHello              = 10
	gatewayOpHeartbeatACK       = 11
	discordIntentGuildMessages  = 1 << 9
	discordIntentMessageContent = 1 << 15
)

type gatewayPayload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int            `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type gatewayHello struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

type gatewayIdentify struct {
	Token      string         `json:"token"`
	Intents    int            `json:"intents"`
	Properties map[string]any `json:"properties"`
}

type discordMessageCreate struct {
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	Author    struct {
		ID  string `json:"id"`
		Bot bool   `json:"bot"`
	} `json:"author"`
}

// DiscordRuntime implements Runtime over the Discord gateway via
// internal/platform/txwire.
type DiscordRuntime struct {
	account string
	logger  logging.Logger

	mu    sync.Mutex
	conn  *txwire.Conn
	token string
}

// NewDiscordRuntime returns a Factory for Discord gateway runtimes.
func NewDiscordRuntime(logger logging.Logger) Factory {
	return func(platform models.Platform, account string) Runtime {
		return &DiscordRuntime{account: account, logger: logger}
	}
}

func (d *DiscordRuntime) Platform() models.Platform { return models.PlatformDiscord }

func (d *DiscordRuntime) Connect(ctx context.Context, cred credential.PlainCredential) (<-chan InboundMessage, error) {
	conn, err := txwire.Dial(ctx, discordGatewayURL, http.Header{}, d.logger)
	if err != nil {
		return nil, fmt.Errorf("discord: %w", err)
	}

	d.mu.Lock()
	d.conn = conn
	d.token = cred.Primary
	d.mu.Unlock()

	inbound := make(chan InboundMessage, 64)
	go d.run(conn, cred.Primary, inbound)
	return inbound, nil
}

// run drives the gateway session: awaits Hello, identifies, starts a
// heartbeat loop at the server-specified interval, and translates
// MESSAGE_CREATE dispatches into InboundMessage values.
func (d *DiscordRuntime) run(conn *txwire.Conn, token string, inbound chan<- InboundMessage) {
	defer close(inbound)

	first, ok := <-conn.Lines()
	if !ok {
		return
	}
	var hello gatewayPayload
	if err := json.Unmarshal([]byte(first), &hello); err != nil || hello.Op != gatewayOpHello {
		if d.logger != nil {
			d.logger.Warn("discord: expected Hello as first gateway frame")
		}
		return
	}
	var helloData gatewayHello
	json.Unmarshal(hello.D, &helloData)
	interval := time.Duration(helloData.HeartbeatInterval) * time.Millisecond
	if interval <= 0 {
		interval = 41250 * time.Millisecond
	}

	identify := gatewayIdentify{
		Token:      token,
		Intents:    discordIntentGuildMessages | discordIntentMessageContent,
		Properties: map[string]any{"os": "linux", "browser": "chatbroker", "device": "chatbroker"},
	}
	identifyData, _ := json.Marshal(identify)
	payload, _ := json.Marshal(gatewayPayload{Op: gatewayOpIdentify, D: identifyData})
	if err := conn.Write(string(payload)); err != nil {
		return
	}

	stop := make(chan struct{})
	go d.heartbeatLoop(conn, interval, stop)
	defer close(stop)

	for line := range conn.Lines() {
		var p gatewayPayload
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			continue
		}
		switch p.Op {
		case gatewayOpDispatch:
			if p.T == "MESSAGE_CREATE" {
				var msg discordMessageCreate
				if err := json.Unmarshal(p.D, &msg); err == nil && !msg.Author.Bot {
					inbound <- InboundMessage{
						Channel:   msg.ChannelID,
						User:      msg.Author.ID,
						Text:      msg.Content,
						Timestamp: time.Now(),
					}
				}
			}
		case gatewayOpHeartbeatACK:
			// liveness acknowledged; nothing to do.
		}
	}
}

func (d *DiscordRuntime) heartbeatLoop(conn *txwire.Conn, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			payload, _ := json.Marshal(gatewayPayload{Op: gatewayOpHeartbeat})
			if err := conn.Write(string(payload)); err != nil {
				return
			}
		}
	}
}

func (d *DiscordRuntime) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	conn := d.conn
	d.conn = nil
	d.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Send posts a message via the Discord REST API. Unlike inbound delivery,
// sending is a plain HTTP call, not a gateway frame.
func (d *DiscordRuntime) Send(ctx context.Context, channel, text string) error {
	d.mu.Lock()
	token := d.token
	d.mu.Unlock()
	if token == "" {
		return fmt.Errorf("discord: not connected")
	}

	body, _ := json.Marshal(map[string]string{"content": text})
	url := fmt.Sprintf("https://discord.com/api/v10/channels/%s/messages", channel)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("discord: send message: status %d", resp.StatusCode)
	}
	return nil
}

func (d *DiscordRuntime) JoinChannel(ctx context.Context, channel string) error {
	// Discord has no channel-join concept analogous to IRC; guild channel
	// membership is managed out-of-band. No-op per the Runtime contract.
	return nil
}
