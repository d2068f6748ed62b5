package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// httpRemotePlugin implements RemotePlugin over a small JSON-over-HTTP
// protocol: GET {addr}/capabilities advertises type names, POST
// {addr}/invoke/{method} runs a filter or action, GET {addr}/healthz
// backs the pool sweep's health check (idle eviction goes by last use).
type httpRemotePlugin struct {
	addr   string
	client *http.Client
}

// DialHTTP is the default Dialer, connecting to a plugin process over
// plain HTTP+JSON.
func DialHTTP(addr string, timeout time.Duration) (RemotePlugin, error) {
	return &httpRemotePlugin{addr: addr, client: &http.Client{Timeout: timeout}}, nil
}

func (p *httpRemotePlugin) Capabilities(ctx context.Context) (Capabilities, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.addr+"/capabilities", nil)
	if err != nil {
		return Capabilities{}, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return Capabilities{}, fmt.Errorf("plugin: capabilities request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Capabilities{}, fmt.Errorf("plugin: capabilities request returned %s", resp.Status)
	}
	var caps Capabilities
	if err := json.NewDecoder(resp.Body).Decode(&caps); err != nil {
		return Capabilities{}, fmt.Errorf("plugin: decode capabilities: %w", err)
	}
	return caps, nil
}

func (p *httpRemotePlugin) Invoke(ctx context.Context, method string, payload map[string]any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("plugin: marshal invoke payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.addr+"/invoke/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("plugin: invoke %s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("plugin: invoke %s returned %s: %s", method, resp.Status, string(b))
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("plugin: decode invoke response: %w", err)
	}
	return out, nil
}

func (p *httpRemotePlugin) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.addr+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("plugin: healthz returned %s", resp.Status)
	}
	return nil
}

func (p *httpRemotePlugin) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
