package platform

import (
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

// obs-websocket v5 opcodes relevant here.
const (
	obsOpHello          = 0
	obsOpIdentify       = 1
	obsOpIdentified     = 2
	obsOpRequest        = 6
	obsOpEventSubscribe = 1 << 2 // obs-websocket general event subscription bit
)

type obsMessage struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type obsHelloData struct {
	AuthenticationRequired bool `json:"authentication"`
}

type obsIdentifyData struct {
	RPCVersion         int `json:"rpcVersion"`
	EventSubscriptions int `json:"eventSubscriptions"`
}

// OBSRuntime implements Runtime over obs-websocket's own RPC protocol
// (distinct from both the Twitch IRC and Discord gateway wire formats).
// OBS has no chat concept; this runtime's inbound channel never carries a
// message and is closed only when the connection drops, and Send is
// repurposed to issue an
// obs-websocket request (e.g. triggering a scene change). OBS and VRChat
// are thin Runtime stubs sharing the same interface as the chat
// platforms rather than full automation targets.
type OBSRuntime struct {
	account string
	logger  logging.Logger

	mu   sync.Mutex
	conn *txwire.Conn
}

// NewOBSRuntime returns a Factory for OBS websocket-RPC runtimes.
func NewOBSRuntime(logger logging.Logger) Factory {
	return func(platform models.Platform, account string) Runtime {
		return &OBSRuntime{account: account, logger: logger}
	}
}

func (o *OBSRuntime) Platform() models.Platform { return models.PlatformOBS }

func (o *OBSRuntime) Connect(ctx context.Context, cred credential.PlainCredential) (<-chan InboundMessage, error) {
	url := "ws://127.0.0.1:4455"
	conn, err := txwire.Dial(ctx, url, http.Header{}, o.logger)
	if err != nil {
		return nil, fmt.Errorf("obs: %w", err)
	}

	first, ok := <-conn.Lines()
	if !ok {
		return nil, fmt.Errorf("obs: connection closed before Hello")
	}
	var hello obsMessage
	if err := json.Unmarshal([]byte(first), &hello); err != nil || hello.Op != obsOpHello {
		conn.Close()
		return nil, fmt.Errorf("obs: expected Hello as first frame")
	}

	identifyData, _ := json.Marshal(obsIdentifyData{RPCVersion: 1, EventSubscriptions: 0})
	identify, _ := json.Marshal(obsMessage{Op: obsOpIdentify, D: identifyData})
	if err := conn.Write(string(identify)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("obs: identify: %w", err)
	}

	o.mu.Lock()
	o.conn = conn
	o.mu.Unlock()

	inbound := make(chan InboundMessage)
	go func() {
		defer close(inbound)
		for range conn.Lines() {
			// obs-websocket events/request-responses carry no chat payload;
			// drain to keep the read pump flowing.
		}
	}()
	return inbound, nil
}

func (o *OBSRuntime) Disconnect(ctx context.Context) error {
	o.mu.Lock()
	conn := o.conn
	o.conn = nil
	o.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Send is repurposed for OBS: channel names an obs-websocket request type
// (e.g. "SetCurrentProgramScene") and text carries its JSON request data.
func (o *OBSRuntime) Send(ctx context.Context, channel, text string) error {
	o.mu.Lock()
	conn := o.conn
	o.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("obs: not connected")
	}

	req := map[string]any{
		"requestType": channel,
		"requestId":   fmt.Sprintf("chatbroker-%d", time.Now().UnixNano()),
		"requestData": json.RawMessage(text),
	}
	d, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("obs: encode request: %w", err)
	}
	payload, _ := json.Marshal(obsMessage{Op: obsOpRequest, D: d})
	return conn.Write(string(payload))
}

func (o *OBSRuntime) JoinChannel(ctx context.Context, channel string) error {
	// No channel concept in obs-websocket.
	return nil
}
