package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"rentchat/internal/app/messaging"
	"rentchat/internal/domain/chat"
)

type fixtures struct {
	Participants  []participantFixture  `json:"participants"`
	Services      []serviceFixture      `json:"services"`
	Conversations []conversationFixture `json:"conversations"`
}

type participantFixture struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

type serviceFixture struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type conversationFixture struct {
	From      string           `json:"from"`
	To        string           `json:"to"`
	ServiceID string           `json:"service_id"`
	Messages  []messageFixture `json:"messages"`
}

type messageFixture struct {
	From    string `json:"from"`
	Content string `json:"content"`
}

// loadFixtures seeds participants, services and sample conversations. Bad
// entries are logged and skipped.
func loadFixtures(ctx context.Context, svc *messaging.Service, path string, logger *slog.Logger) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("fixtures file not found, skipping", "path", path)
			return nil
		}
		return fmt.Errorf("read fixtures: %w", err)
	}
	if len(data) == 0 {
		logger.Warn("fixtures file empty", "path", path)
		return nil
	}

	var fx fixtures
	if err := json.Unmarshal(data, &fx); err != nil {
		return fmt.Errorf("decode fixtures: %w", err)
	}

	for _, p := range fx.Participants {
		err := svc.EnsureParticipant(ctx, chat.Participant{ID: p.ID, DisplayName: p.DisplayName, AvatarURL: p.AvatarURL})
		if err != nil {
			logger.Error("fixture participant invalid", "participant_id", p.ID, "error", err)
		}
	}
	for _, s := range fx.Services {
		if err := svc.RegisterService(ctx, chat.ServiceRef{ID: s.ID, Name: s.Name}); err != nil {
			logger.Error("fixture service invalid", "service_id", s.ID, "error", err)
		}
	}
	for _, c := range fx.Conversations {
		if len(c.Messages) == 0 {
			logger.Warn("fixture conversation without messages", "from", c.From, "to", c.To)
			continue
		}
		first := c.Messages[0]
		starter, peer := c.From, c.To
		if first.From != "" && first.From != starter {
			starter, peer = peer, starter
		}
		conv, err := svc.CreateConversation(ctx, starter, peer, first.Content, c.ServiceID)
		if err != nil {
			logger.Error("fixture conversation failed", "from", c.From, "to", c.To, "error", err)
			continue
		}
		for _, m := range c.Messages[1:] {
			sender := m.From
			if sender == "" {
				sender = starter
			}
			if _, err := svc.SendMessage(ctx, sender, conv.ID, m.Content); err != nil {
				logger.Error("fixture message failed", "conversation_id", conv.ID, "error", err)
			}
		}
		logger.Info("conversation fixture imported", "conversation_id", conv.ID)
	}
	return nil
}
