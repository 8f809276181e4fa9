package messaging

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rentchat/internal/domain/chat"
)

// WSSubscriber attaches to the server's websocket stream for one
// conversation at a time per call.
type WSSubscriber struct {
	BaseURL     string
	Token       string
	Dialer      *websocket.Dialer
	DialTimeout time.Duration
	Logger      *slog.Logger
}

// Subscribe dials the stream. The channel closes when cancel is called, ctx
// ends, or the server goes away.
func (s WSSubscriber) Subscribe(ctx context.Context, conversationID string) (<-chan chat.Event, func(), error) {
	id, err := chat.NormalizeID("conversation", conversationID)
	if err != nil {
		return nil, nil, err
	}
	endpoint, err := streamURL(s.BaseURL, id)
	if err != nil {
		return nil, nil, &chat.StoreError{Op: "subscribe", Err: err}
	}
	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	timeout := s.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialCtx, cancelDial := context.WithTimeout(ctx, timeout)
	defer cancelDial()

	header := http.Header{}
	if s.Token != "" {
		header.Set("Authorization", "Bearer "+s.Token)
	}
	conn, resp, err := dialer.DialContext(dialCtx, endpoint, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, nil, chat.ErrNotFound
		}
		return nil, nil, &chat.StoreError{Op: "subscribe", Err: err}
	}

	events := make(chan chat.Event, 16)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		})
	}

	go func() {
		defer close(events)
		for {
			var event chat.Event
			if err := conn.ReadJSON(&event); err != nil {
				if s.Logger != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					select {
					case <-done:
					default:
						s.Logger.Debug("realtime stream ended", "conversation_id", id, "error", err)
					}
				}
				return
			}
			select {
			case events <- event:
			case <-done:
				return
			}
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return events, cancel, nil
}

func streamURL(base, conversationID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(base), "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/ws/conversations/" + conversationID
	return u.String(), nil
}

var _ chat.Subscriber = WSSubscriber{}
