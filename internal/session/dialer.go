package session

import (
	"context"

	"github.com/gorilla/websocket"
)

// GorillaDialer is the production Dialer, backed by gorilla/websocket.
func GorillaDialer(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
