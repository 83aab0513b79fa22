package function

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"moebot/internal/domain"
)

// MessageWriter is the slice of the memory store send_dm needs.
type MessageWriter interface {
	AddMessage(ctx context.Context, msg domain.Message) error
}

// SendDM delivers a direct message on the platform the call came from and
// records it in the recipient's DM channel memory.
type SendDM struct {
	messengers map[string]domain.DirectMessenger
	memory     MessageWriter
	logger     *slog.Logger
}

func NewSendDM(messengers map[string]domain.DirectMessenger, memory MessageWriter, logger *slog.Logger) *SendDM {
	return &SendDM{messengers: messengers, memory: memory, logger: logger}
}

func (s *SendDM) Definition() domain.FunctionDefinition {
	return domain.FunctionDefinition{
		Name:        "send_dm",
		Description: "send a direct message to a user",
		Parameters: []domain.Parameter{
			{Name: "user_id", Type: domain.TypeString, Required: true, Description: "the ID of the user to send the DM to"},
			{Name: "message", Type: domain.TypeString, Required: true, Description: "the message content to send"},
		},
	}
}

func (s *SendDM) Execute(ctx context.Context, fctx Context, args map[string]any) (domain.FunctionResult, error) {
	messenger, ok := s.messengers[fctx.Platform]
	if !ok || messenger == nil {
		return domain.FunctionResult{Success: false, Message: fmt.Sprintf("direct messages are not supported on %s", fctx.Platform)}, nil
	}

	userID := cleanUserID(ArgString(args, "user_id"))
	message := ArgString(args, "message")
	if userID == "" {
		return domain.FunctionResult{Success: false, Message: "user_id is empty"}, nil
	}
	if strings.TrimSpace(message) == "" {
		return domain.FunctionResult{Success: false, Message: "message is empty"}, nil
	}

	user, err := messenger.LookupUser(ctx, userID)
	if err != nil || user == nil {
		return domain.FunctionResult{Success: false, Message: fmt.Sprintf("user with ID %s not found", userID)}, nil
	}

	if fctx.GuildID != "" {
		member, err := messenger.IsMember(ctx, fctx.GuildID, userID)
		if err != nil {
			return domain.FunctionResult{}, fmt.Errorf("check membership of %s: %w", user.Username, err)
		}
		if !member {
			return domain.FunctionResult{Success: false, Message: fmt.Sprintf("user %s is not in this server", user.Username)}, nil
		}
	}

	sent, err := messenger.SendDM(ctx, userID, message)
	if err != nil {
		if errors.Is(err, domain.ErrDirectMessagesClosed) {
			return domain.FunctionResult{
				Success: false,
				Message: fmt.Sprintf("cannot send DM to %s - they may have DMs disabled", user.Username),
			}, nil
		}
		return domain.FunctionResult{}, fmt.Errorf("failed to send DM: %w", err)
	}
	s.logger.Info("sent DM", "user", user.Username, "user_id", user.ID)

	author := sent.Author
	if author == "" {
		author = fctx.Bot.Name
	}
	authorID := sent.AuthorID
	if authorID == "" {
		authorID = fctx.Bot.ID
	}
	err = s.memory.AddMessage(ctx, domain.Message{
		ID:        sent.ID,
		ChannelID: sent.ChannelID,
		Author:    author,
		AuthorID:  authorID,
		Content:   message,
		Timestamp: sent.CreatedAt,
		IsBot:     true,
		BotID:     fctx.Bot.ID,
	})
	if err != nil {
		// The DM is out; a missing memory entry must not turn it into a failure.
		s.logger.Warn("failed to save DM to memory", "channel", sent.ChannelID, "err", err)
	} else {
		s.logger.Debug("saved DM to memory", "channel", sent.ChannelID)
	}

	return domain.FunctionResult{
		Success: true,
		Message: fmt.Sprintf("sent DM to %s", user.Username),
		Data: map[string]any{
			"username":      user.Username,
			"userId":        user.ID,
			"messageLength": len(message),
			"dmChannelId":   sent.ChannelID,
		},
	}, nil
}

// cleanUserID accepts raw ids as well as mention tokens like <@123> or <@!123>.
func cleanUserID(raw string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		switch r {
		case '<', '@', '!', '>':
			return -1
		}
		return r
	}, raw))
}
