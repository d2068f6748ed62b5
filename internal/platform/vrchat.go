package platform

import (
	"context"
	"fmt"
	"net"
	"sync"

	"chatbroker/internal/credential"
	"chatbroker/internal/logging"
	"chatbroker/internal/models"
)

const vrchatOSCAddr = "127.0.0.1:9000"

// VRChatRuntime implements Runtime over VRChat's local OSC/UDP interface.
// VRChat has no inbound chat concept analogous to Twitch/Discord — OSC is
// one-directional, avatar-parameter and chatbox control only — so this
// runtime's inbound channel is closed immediately after connect and Send
// writes an OSC /chatbox/input message. It satisfies the same Runtime
// interface as the websocket-backed platforms, so Manager can supervise
// all of them identically.
type VRChatRuntime struct {
	account string
	logger  logging.Logger

	mu   sync.Mutex
	conn net.Conn
}

// NewVRChatRuntime returns a Factory for VRChat OSC runtimes.
func NewVRChatRuntime(logger logging.Logger) Factory {
	return func(platform models.Platform, account string) Runtime {
		return &VRChatRuntime{account: account, logger: logger}
	}
}

func (v *VRChatRuntime) Platform() models.Platform { return models.PlatformVRChat }

func (v *VRChatRuntime) Connect(ctx context.Context, cred credential.PlainCredential) (<-chan InboundMessage, error) {
	conn, err := net.Dial("udp", vrchatOSCAddr)
	if err != nil {
		return nil, fmt.Errorf("vrchat: dial osc endpoint: %w", err)
	}
	v.mu.Lock()
	v.conn = conn
	v.mu.Unlock()

	inbound := make(chan InboundMessage)
	close(inbound)
	return inbound, nil
}

func (v *VRChatRuntime) Disconnect(ctx context.Context) error {
	v.mu.Lock()
	conn := v.conn
	v.conn = nil
	v.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Send writes text to VRChat's /chatbox/input OSC address. channel is
// unused; VRChat has no per-channel routing.
func (v *VRChatRuntime) Send(ctx context.Context, channel, text string) error {
	v.mu.Lock()
	conn := v.conn
	v.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("vrchat: not connected")
	}
	packet := encodeOSCChatbox(text)
	_, err := conn.Write(packet)
	if err != nil {
		return fmt.Errorf("vrchat: write osc packet: %w", err)
	}
	return nil
}

func (v *VRChatRuntime) JoinChannel(ctx context.Context, channel string) error {
	// No channel concept in VRChat OSC.
	return nil
}

// encodeOSCChatbox builds a minimal OSC 1.0 message for
// "/chatbox/input" ,sTT with arguments (text, true, true): send
// immediately and play the notification sound.
func encodeOSCChatbox(text string) []byte {
	var buf []byte
	buf = append(buf, oscPadString("/chatbox/input")...)
	buf = append(buf, oscPadString(",sTT")...)
	buf = append(buf, oscPadString(text)...)
	return buf
}

// oscPadString null-terminates s and pads it to a 4-byte boundary, per the
// OSC 1.0 string encoding rule.
func oscPadString(s string) []byte {
	b := append([]byte(s), 0)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}
