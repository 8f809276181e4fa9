package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"rentchat/internal/app/inbox"
	"rentchat/internal/app/thread"
	"rentchat/internal/infra/messaging"
	"rentchat/internal/infra/security"
)

type options struct {
	server  string
	token   string
	timeout time.Duration
	verbose bool
}

// session is what every authenticated command works against.
type session struct {
	self   string
	client *messaging.Client
	sub    messaging.WSSubscriber
	logger *slog.Logger
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "chat",
		Short:         "Direct messaging client for the rentchat server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(out)
	root.SetErr(out)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr("CHAT_SERVER", "http://localhost:8080"), "server base URL")
	flags.StringVar(&opts.token, "token", os.Getenv("CHAT_TOKEN"), "bearer token (see the token command)")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "per-call timeout")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log client activity to stderr")

	root.AddCommand(
		newTokenCmd(opts),
		newTUICmd(opts),
		newInboxCmd(opts),
		newThreadCmd(opts),
		newSendCmd(opts),
		newStartCmd(opts),
		newReadCmd(opts),
		newDeleteCmd(opts),
	)
	return root
}

func (o *options) logger() *slog.Logger {
	if !o.verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func (o *options) anonymous() (*messaging.Client, error) {
	return messaging.NewClient(messaging.Config{BaseURL: o.server, CallTimeout: o.timeout}, o.logger())
}

func (o *options) session() (session, error) {
	token := strings.TrimSpace(o.token)
	if token == "" {
		return session{}, fmt.Errorf("a token is required: pass --token or set CHAT_TOKEN")
	}
	claims, err := security.Inspect(token)
	if err != nil {
		return session{}, err
	}
	logger := o.logger()
	client, err := messaging.NewClient(messaging.Config{BaseURL: o.server, Token: token, CallTimeout: o.timeout}, logger)
	if err != nil {
		return session{}, err
	}
	return session{
		self:   claims.ParticipantID,
		client: client,
		sub:    messaging.WSSubscriber{BaseURL: o.server, Token: token, DialTimeout: o.timeout, Logger: logger},
		logger: logger,
	}, nil
}

func (s session) index() *inbox.Index {
	return inbox.NewIndex(s.client, s.self, s.logger)
}

func (s session) assembler(sink thread.Sink, live bool) *thread.Assembler {
	opts := thread.Options{Sink: sink, Logger: s.logger}
	if live {
		opts.Subscriber = s.sub
	}
	return thread.NewAssembler(s.client, s.self, opts)
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
