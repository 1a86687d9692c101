package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"meetbot/pkg/bus"
	"meetbot/pkg/fault"
)

// WebsocketDialer connects to a broker server at BaseURL (http or ws scheme).
type WebsocketDialer struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (d WebsocketDialer) Dial(ctx context.Context, name string) (Link, error) {
	target, err := endpoint(d.BaseURL, "/connect")
	if err != nil {
		return nil, err
	}
	switch target.Scheme {
	case "http":
		target.Scheme = "ws"
	case "https":
		target.Scheme = "wss"
	}
	target.RawQuery = url.Values{"name": []string{name}}.Encode()

	conn, resp, err := websocket.Dial(ctx, target.String(), &websocket.DialOptions{HTTPClient: d.HTTPClient})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fault.Wrap(fault.Transport, err, "broker rejected channel "+name)
		}
		return nil, fault.Wrap(fault.Transport, err, "dial broker")
	}

	return &websocketLink{conn: conn}, nil
}

type websocketLink struct {
	conn *websocket.Conn
}

func (l *websocketLink) Send(ctx context.Context, msg bus.Message) error {
	return wsjson.Write(ctx, l.conn, msg)
}

func (l *websocketLink) Receive(ctx context.Context) (bus.Message, error) {
	var msg bus.Message
	if err := wsjson.Read(ctx, l.conn, &msg); err != nil {
		if websocket.CloseStatus(err) != -1 {
			return bus.Message{}, ErrLinkClosed
		}
		return bus.Message{}, err
	}
	return msg, nil
}

func (l *websocketLink) Close() error {
	return l.conn.Close(websocket.StatusNormalClosure, "")
}

// HTTPMessenger posts one-shot messages to a broker server.
type HTTPMessenger struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (m HTTPMessenger) Send(ctx context.Context, msg bus.Message) (bus.Response, error) {
	target, err := endpoint(m.BaseURL, "/message")
	if err != nil {
		return bus.Response{}, err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return bus.Response{}, fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return bus.Response{}, fmt.Errorf("build message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := m.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return bus.Response{}, fault.Wrap(fault.Transport, err, "send message to broker")
	}
	defer resp.Body.Close()

	var out bus.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return bus.Response{}, fault.Wrap(fault.Transport, err, "decode broker response")
	}
	if resp.StatusCode >= http.StatusBadRequest && out.Error == "" {
		out.Error = resp.Status
	}

	return out, nil
}

func endpoint(base, path string) (*url.URL, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return nil, fault.New(fault.Environment, "broker address is required")
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	u, err := url.Parse(strings.TrimRight(base, "/") + path)
	if err != nil {
		return nil, fault.Wrap(fault.Environment, err, "parse broker address")
	}
	return u, nil
}
