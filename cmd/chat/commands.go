package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"rentchat/internal/app/thread"
	"rentchat/internal/domain/chat"
	"rentchat/internal/infra/tui"
)

const lineWidth = 80

func newTokenCmd(opts *options) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "token <participant-id>",
		Short: "Request a development token for a participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.anonymous()
			if err != nil {
				return err
			}
			resp, err := client.IssueToken(cmd.Context(), args[0], name)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name to register")
	return cmd
}

func newTUICmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive inbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.session()
			if err != nil {
				return err
			}
			index := s.index()
			assembler := s.assembler(index, true)
			defer assembler.Close()
			return tui.Run(cmd.Context(), tui.NewApp(cmd.Context(), index, assembler))
		},
	}
}

func newInboxCmd(opts *options) *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "List conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.session()
			if err != nil {
				return err
			}
			index := s.index()
			if err := index.Load(cmd.Context()); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			st := tui.DefaultStyles()
			now := time.Now()
			rows := 0
			for conv := range index.Filter(query) {
				fmt.Fprintf(out, "%s  %s\n", conv.ID, tui.RenderInboxRow(st, conv, s.self, now, lineWidth, false))
				rows++
			}
			if rows == 0 {
				fmt.Fprintln(out, "No conversations")
				return nil
			}
			if total := index.UnreadTotal(); total > 0 {
				fmt.Fprintf(out, "%d unread\n", total)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "filter by peer name or message text")
	return cmd
}

func newThreadCmd(opts *options) *cobra.Command {
	var markRead bool
	cmd := &cobra.Command{
		Use:   "thread <conversation-id>",
		Short: "Print a conversation grouped by day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.session()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			index := s.index()
			if err := index.Load(ctx); err != nil {
				return err
			}
			var peer chat.Participant
			if conv, ok := index.Get(args[0]); ok {
				peer, _ = conv.Peer(s.self)
			}
			assembler := s.assembler(index, false)
			defer assembler.Close()
			if err := assembler.Open(ctx, args[0]); err != nil {
				if errors.Is(err, chat.ErrNotFound) {
					return fmt.Errorf("conversation %s not found", args[0])
				}
				return err
			}
			out := cmd.OutOrStdout()
			if peer.DisplayName != "" {
				fmt.Fprintln(out, tui.DefaultStyles().Title.Render(peer.DisplayName))
			}
			for _, line := range tui.RenderThread(tui.DefaultStyles(), assembler.GroupByDay(), s.self, peer, time.Now(), lineWidth) {
				fmt.Fprintln(out, line)
			}
			if markRead {
				return assembler.MarkVisibleRead(ctx)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&markRead, "read", false, "mark the peer's messages as read")
	return cmd
}

func newSendCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "send <conversation-id> <text>",
		Short: "Send a message to an existing conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.session()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			assembler := s.assembler(nil, false)
			defer assembler.Close()
			if err := assembler.Open(ctx, args[0]); err != nil {
				return err
			}
			tempID, err := assembler.SendOptimistic(ctx, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			assembler.Wait()
			for _, item := range assembler.Items() {
				if item.ID == tempID && item.Status == chat.StatusFailed {
					return fmt.Errorf("send failed: %w", item.Err)
				}
			}
			if sent, ok := lastMine(assembler.Items(), s.self); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", sent.ID, tui.StatusIcon(sent.Status))
			}
			return nil
		},
	}
}

func newStartCmd(opts *options) *cobra.Command {
	var serviceID string
	cmd := &cobra.Command{
		Use:   "start <participant-id> <text>",
		Short: "Start (or reuse) a conversation with a participant",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.session()
			if err != nil {
				return err
			}
			conv, err := s.index().Start(cmd.Context(), args[0], strings.Join(args[1:], " "), serviceID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), conv.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&serviceID, "service", "", "service the conversation is about")
	return cmd
}

func newReadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "read <conversation-id>",
		Short: "Mark every message from the peer as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.session()
			if err != nil {
				return err
			}
			at, err := s.client.MarkRead(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if at.IsZero() {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to mark")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "read at %s\n", at.Local().Format(time.RFC3339))
			return nil
		},
	}
}

func newDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Remove a conversation from your inbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.session()
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			return s.client.DeleteConversation(ctx, args[0])
		},
	}
}

func lastMine(items []thread.Item, self string) (thread.Item, bool) {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Mine(self) {
			return items[i], true
		}
	}
	return thread.Item{}, false
}
