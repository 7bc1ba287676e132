package proxy

import (
	"context"
	"log"
	"strings"
	"time"
)

// SendRequest asks the proxy to move a client to another server.
type SendRequest struct {
	Client string `json:"client"`
	Server string `json:"server"`
}

// Heartbeat is the periodic status report for one server.
type Heartbeat struct {
	ServerID string    `json:"serverId"`
	Payload  string    `json:"payload"`
	SentAt   time.Time `json:"sentAt"`
}

// Info describes the proxy, as served by its /info endpoint.
type Info struct {
	Name    string   `json:"name"`
	Version string   `json:"version,omitempty"`
	Servers []string `json:"servers,omitempty"`
}

// Client talks to the proxy's control endpoints.
type Client struct {
	base string
}

// NewClient creates a client for the proxy at addr. A bare host:port is
// treated as plain HTTP.
func NewClient(addr string) *Client {
	base := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		base = "http://" + addr
	}
	return &Client{base: strings.TrimRight(base, "/")}
}

// Addr returns the proxy's base URL.
func (c *Client) Addr() string {
	return c.base
}

// Info fetches the proxy's description. It doubles as a reachability check.
func (c *Client) Info(ctx context.Context) (Info, error) {
	var info Info
	if err := GetJSON(ctx, c.base+"/info", &info); err != nil {
		return Info{}, err
	}
	return info, nil
}

// Send asks the proxy to move clientID to server.
func (c *Client) Send(ctx context.Context, clientID, server string) error {
	return PostJSON(ctx, c.base+"/send", SendRequest{Client: clientID, Server: server}, nil)
}

// Beat publishes one heartbeat.
func (c *Client) Beat(ctx context.Context, hb Heartbeat) error {
	return PostJSON(ctx, c.base+"/heartbeat", hb, nil)
}

// LogOnly is used when no proxy is configured. Transfers are logged and
// reported as successful.
type LogOnly struct{}

func (LogOnly) Send(ctx context.Context, clientID, server string) error {
	log.Printf("[proxy] no proxy configured; would send %s to %s", clientID, server)
	return nil
}
