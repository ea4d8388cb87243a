package connectivity

import (
	"context"
	"fmt"

	"nhooyr.io/websocket"
)

// WSProbe checks reachability by dialing the application's realtime websocket
// endpoint and exchanging a ping. Dial success alone is not enough: captive
// portals accept TCP connections but fail the websocket upgrade or the ping.
type WSProbe struct {
	// URL is the websocket endpoint, e.g. "wss://realtime.example.com/ws".
	URL string

	// DialOptions are passed through to the websocket dialer.
	DialOptions *websocket.DialOptions
}

// NewWSProbe creates a probe against url.
func NewWSProbe(url string) *WSProbe {
	return &WSProbe{URL: url}
}

// Ping implements Probe.
func (p *WSProbe) Ping(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, p.URL, p.DialOptions)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "probe complete")

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("websocket ping failed: %w", err)
	}
	return nil
}
