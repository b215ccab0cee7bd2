package client

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/polaris-sync/polaris/internal/object"
)

// Hint mirrors the server's push notification payload.
type Hint struct {
	Root     object.SID `json:"root"`
	ChangeID uint64     `json:"change_id"`
}

// Listen connects to the notification channel for root and forwards hints
// until ctx is done or the connection drops. Loss of the channel is safe:
// the caller's poll timer remains the ground truth, so errors here only end
// the stream, they never fail the sync.
func (c *Client) Listen(ctx context.Context, root object.SID, hints chan<- Hint) error {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1)
	u, err := url.JoinPath(wsURL, "notifications")
	if err != nil {
		return err
	}
	u += "?root=" + url.QueryEscape(string(root))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		var h Hint
		if err := json.Unmarshal(msg, &h); err != nil {
			continue
		}
		select {
		case hints <- h:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
