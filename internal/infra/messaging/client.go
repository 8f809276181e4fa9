package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rentchat/internal/app/dto"
	"rentchat/internal/domain/chat"
)

// Config defines HTTP client settings.
type Config struct {
	BaseURL     string
	Token       string
	CallTimeout time.Duration
	HTTPClient  *http.Client
}

// Client talks to the chat server's REST API as one participant and
// satisfies chat.Store.
type Client struct {
	base        *url.URL
	token       string
	http        *http.Client
	callTimeout time.Duration
	logger      *slog.Logger
}

// NewClient validates cfg and returns a typed client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("messaging: base url required")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("messaging: invalid base url %q", raw)
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 5 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		base:        base,
		token:       strings.TrimSpace(cfg.Token),
		http:        httpClient,
		callTimeout: callTimeout,
		logger:      logger,
	}, nil
}

// WithToken returns a copy of c authenticated with token.
func (c *Client) WithToken(token string) *Client {
	out := *c
	out.token = strings.TrimSpace(token)
	return &out
}

func (c *Client) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	var resp dto.ConversationList
	if err := c.do(ctx, "list conversations", http.MethodGet, "/api/v1/conversations", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Items == nil {
		resp.Items = []chat.Conversation{}
	}
	return resp.Items, nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	id, err := chat.NormalizeID("conversation", conversationID)
	if err != nil {
		return nil, err
	}
	var resp dto.MessageList
	if err := c.do(ctx, "list messages", http.MethodGet, conversationPath(id, "messages"), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Items == nil {
		resp.Items = []chat.Message{}
	}
	return resp.Items, nil
}

func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (chat.Message, error) {
	id, err := chat.NormalizeID("conversation", conversationID)
	if err != nil {
		return chat.Message{}, err
	}
	text, err := chat.NormalizeContent(content)
	if err != nil {
		return chat.Message{}, err
	}
	var msg chat.Message
	if err := c.do(ctx, "send message", http.MethodPost, conversationPath(id, "messages"), dto.SendMessageRequest{Content: text}, &msg); err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

func (c *Client) MarkRead(ctx context.Context, conversationID string) (time.Time, error) {
	id, err := chat.NormalizeID("conversation", conversationID)
	if err != nil {
		return time.Time{}, err
	}
	var receipt dto.ReadReceipt
	if err := c.do(ctx, "mark read", http.MethodPost, conversationPath(id, "read"), nil, &receipt); err != nil {
		return time.Time{}, err
	}
	if receipt.ReadAt == nil {
		return time.Time{}, nil
	}
	return *receipt.ReadAt, nil
}

func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	id, err := chat.NormalizeID("conversation", conversationID)
	if err != nil {
		return err
	}
	return c.do(ctx, "delete conversation", http.MethodDelete, conversationPath(id, ""), nil, nil)
}

func (c *Client) CreateConversation(ctx context.Context, participantID, initialMessage, serviceID string) (chat.Conversation, error) {
	peer, err := chat.NormalizeID("participant", participantID)
	if err != nil {
		return chat.Conversation{}, err
	}
	text, err := chat.NormalizeContent(initialMessage)
	if err != nil {
		return chat.Conversation{}, err
	}
	req := dto.CreateConversationRequest{ParticipantID: peer, InitialMessage: text, ServiceID: strings.TrimSpace(serviceID)}
	var conv chat.Conversation
	if err := c.do(ctx, "create conversation", http.MethodPost, "/api/v1/conversations", req, &conv); err != nil {
		return chat.Conversation{}, err
	}
	return conv, nil
}

// IssueToken asks a development server for a bearer token.
func (c *Client) IssueToken(ctx context.Context, participantID, displayName string) (dto.TokenResponse, error) {
	var resp dto.TokenResponse
	req := dto.TokenRequest{ParticipantID: participantID, DisplayName: displayName}
	if err := c.do(ctx, "issue token", http.MethodPost, "/api/v1/auth/token", req, &resp); err != nil {
		return dto.TokenResponse{}, err
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	callCtx, cancel := c.wrapCall(ctx)
	defer cancel()

	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &chat.StoreError{Op: op, Err: err}
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(callCtx, method, c.base.String()+path, payload)
	if err != nil {
		return &chat.StoreError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if c.logger != nil {
			c.logger.Debug("messaging request failed", "op", op, "error", err)
		}
		return &chat.StoreError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(op, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &chat.StoreError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) wrapCall(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := c.callTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func statusError(op string, resp *http.Response) error {
	var body dto.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	msg := strings.TrimSpace(body.Error)
	if msg == "" {
		msg = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", chat.ErrValidation, msg)
	case http.StatusNotFound:
		return chat.ErrNotFound
	}
	return &chat.StoreError{Op: op, Err: fmt.Errorf("status %d: %s", resp.StatusCode, msg)}
}

func conversationPath(id, suffix string) string {
	p := "/api/v1/conversations/" + url.PathEscape(id)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

var _ chat.Store = (*Client)(nil)
