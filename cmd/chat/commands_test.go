package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentchat/internal/app/messaging"
	"rentchat/internal/domain/chat"
	"rentchat/internal/infra/config"
	ginserver "rentchat/internal/infra/http/gin"
	"rentchat/internal/infra/obs"
	"rentchat/internal/infra/realtime"
	"rentchat/internal/infra/security"
	"rentchat/internal/infra/storage/memory"
)

func startServer(t *testing.T) (*httptest.Server, *messaging.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := realtime.NewHub(nil, nil)
	t.Cleanup(hub.Close)
	svc := messaging.NewService(memory.NewRepository(), hub, nil)
	tokens := security.NewTokenIssuer("cli-test", time.Hour)
	router := ginserver.NewRouter(config.Config{}, obs.Middleware{}, obs.HealthHandlers{}, ginserver.Handlers{
		Chat:           ginserver.ChatHandler{Messaging: svc},
		Realtime:       ginserver.RealtimeHandler{Messaging: svc, Subscriber: hub},
		Auth:           ginserver.AuthHandler{Tokens: tokens, Messaging: svc, AllowIssue: true},
		AuthMiddleware: ginserver.AuthMiddleware{Tokens: tokens}.Handle,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, svc
}

func run(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(append([]string{"--server", srv.URL}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func token(t *testing.T, srv *httptest.Server, id, name string) string {
	t.Helper()
	out, err := run(t, srv, "token", id, "--name", name)
	require.NoError(t, err)
	return strings.TrimSpace(out)
}

func TestCommandsEndToEnd(t *testing.T) {
	srv, _ := startServer(t)
	alice := token(t, srv, "alice", "Alice Moreno")
	bob := token(t, srv, "bob", "Bob Lee")

	out, err := run(t, srv, "--token", alice, "start", "bob", "Is", "Saturday", "free?")
	require.NoError(t, err)
	convID := strings.TrimSpace(out)
	require.NotEmpty(t, convID)

	out, err = run(t, srv, "--token", bob, "inbox")
	require.NoError(t, err)
	assert.Contains(t, out, convID)
	assert.Contains(t, out, "Alice Moreno")
	assert.Contains(t, out, "1 unread")

	out, err = run(t, srv, "--token", bob, "inbox", "--query", "nobody")
	require.NoError(t, err)
	assert.Contains(t, out, "No conversations")

	out, err = run(t, srv, "--token", bob, "send", convID, "Yes", "it", "is")
	require.NoError(t, err)
	assert.Contains(t, out, "✓")

	out, err = run(t, srv, "--token", alice, "thread", convID, "--read")
	require.NoError(t, err)
	assert.Contains(t, out, "Today")
	assert.Contains(t, out, "Is Saturday free?")
	assert.Contains(t, out, "Yes it is")
	assert.Contains(t, out, "(BL)")

	out, err = run(t, srv, "--token", alice, "read", convID)
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to mark")

	_, err = run(t, srv, "--token", bob, "delete", convID)
	require.NoError(t, err)
	out, err = run(t, srv, "--token", bob, "inbox")
	require.NoError(t, err)
	assert.Contains(t, out, "No conversations")
}

func TestCommandsRequireToken(t *testing.T) {
	srv, _ := startServer(t)
	t.Setenv("CHAT_TOKEN", "")
	_, err := run(t, srv, "inbox")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token is required")
}

func TestSendRejectsEmptyText(t *testing.T) {
	srv, svc := startServer(t)
	alice := token(t, srv, "alice", "Alice")
	token(t, srv, "bob", "Bob")
	conv, err := svc.CreateConversation(context.Background(), "alice", "bob", "hello", "")
	require.NoError(t, err)

	_, err = run(t, srv, "--token", alice, "send", conv.ID, "   ")
	assert.ErrorIs(t, err, chat.ErrValidation)
}

func TestThreadNotFound(t *testing.T) {
	srv, _ := startServer(t)
	alice := token(t, srv, "alice", "Alice")
	_, err := run(t, srv, "--token", alice, "thread", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
