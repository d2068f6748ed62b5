package platform

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"chatbroker/internal/credential"
	"chatbroker/internal/logging"
	"chatbroker/internal/models"
	"chatbroker/internal/platform/txwire"
)

const twitchIRCWebsocketURL = "wss://irc-ws.chat.twitch.tv:443"

// TwitchChatRuntime implements Runtime over Twitch's IRC-over-websocket
// chat interface via internal/platform/txwire.
type TwitchChatRuntime struct {
	account string
	logger  logging.Logger

	mu   sync.Mutex
	conn *txwire.Conn
	nick string
}

// NewTwitchChatRuntime returns a Factory for Twitch chat runtimes.
func NewTwitchChatRuntime(logger logging.Logger) Factory {
	return func(platform models.Platform, account string) Runtime {
		return &TwitchChatRuntime{account: account, logger: logger}
	}
}

func (t *TwitchChatRuntime) Platform() models.Platform { return models.PlatformTwitchChat }

func (t *TwitchChatRuntime) Connect(ctx context.Context, cred credential.PlainCredential) (<-chan InboundMessage, error) {
	conn, err := txwire.Dial(ctx, twitchIRCWebsocketURL, http.Header{}, t.logger)
	if err != nil {
		return nil, fmt.Errorf("twitch: %w", err)
	}

	nick := strings.ToLower(t.account)
	if err := conn.Write("PASS oauth:" + cred.Primary); err != nil {
		conn.Close()
		return nil, fmt.Errorf("twitch: auth: %w", err)
	}
	if err := conn.Write("NICK " + nick); err != nil {
		conn.Close()
		return nil, fmt.Errorf("twitch: nick: %w", err)
	}
	// Request the tags/commands capabilities needed to parse PRIVMSG lines
	// with a display name.
	if err := conn.Write("CAP REQ :twitch.tv/tags twitch.tv/commands"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("twitch: cap req: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.nick = nick
	t.mu.Unlock()

	inbound := make(chan InboundMessage, 64)
	go t.translate(conn, inbound)
	return inbound, nil
}

// translate reads raw IRC lines and turns PRIVMSG lines into
// InboundMessage values, closing inbound when the connection dies.
func (t *TwitchChatRuntime) translate(conn *txwire.Conn, inbound chan<- InboundMessage) {
	defer close(inbound)
	for line := range conn.Lines() {
		if strings.HasPrefix(line, "PING") {
			conn.Write(strings.Replace(line, "PING", "PONG", 1))
			continue
		}
		msg, ok := parsePrivmsg(line)
		if ok {
			inbound <- msg
		}
	}
}

// parsePrivmsg extracts (channel, user, text) from a Twitch IRC PRIVMSG
// line of the form ":nick!nick@nick.tmi.twitch.tv PRIVMSG #channel :text".
func parsePrivmsg(line string) (InboundMessage, bool) {
	if !strings.Contains(line, "PRIVMSG") {
		return InboundMessage{}, false
	}
	// Strip an optional leading @tags segment.
	if strings.HasPrefix(line, "@") {
		if idx := strings.Index(line, " "); idx != -1 {
			line = line[idx+1:]
		}
	}
	if !strings.HasPrefix(line, ":") {
		return InboundMessage{}, false
	}
	prefixEnd := strings.Index(line, " ")
	if prefixEnd == -1 {
		return InboundMessage{}, false
	}
	prefix := line[1:prefixEnd]
	user := prefix
	if bang := strings.Index(prefix, "!"); bang != -1 {
		user = prefix[:bang]
	}

	rest := line[prefixEnd+1:]
	const marker = "PRIVMSG "
	if !strings.HasPrefix(rest, marker) {
		return InboundMessage{}, false
	}
	rest = rest[len(marker):]
	sep := strings.Index(rest, " :")
	if sep == -1 {
		return InboundMessage{}, false
	}
	channel := rest[:sep]
	text := rest[sep+2:]

	return InboundMessage{
		Channel:   channel,
		User:      strings.ToLower(user),
		Text:      text,
		Timestamp: time.Now(),
	}, true
}

func (t *TwitchChatRuntime) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (t *TwitchChatRuntime) Send(ctx context.Context, channel, text string) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("twitch: not connected")
	}
	return conn.Write(fmt.Sprintf("PRIVMSG %s :%s", channel, text))
}

func (t *TwitchChatRuntime) JoinChannel(ctx context.Context, channel string) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("twitch: not connected")
	}
	return conn.Write("JOIN " + channel)
}
