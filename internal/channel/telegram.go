package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"moebot/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	telegramPlatform       = "telegram"
)

// telegramAPI is the subset of *tgbotapi.BotAPI the adapter uses.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Telegram connects a Telegram bot to the message bus. Private chats are
// direct conversations, groups behave like guild text channels.
type Telegram struct {
	token     string
	allowFrom map[int64]bool // empty = allow all

	api    telegramAPI
	bot    domain.BotIdentity
	logger *slog.Logger
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // user ids as strings
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	allowed := make(map[int64]bool)
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed[id] = true
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return telegramPlatform }

// Start connects to Telegram and long-polls for updates until ctx is done.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.api = bot
	t.bot = domain.BotIdentity{ID: strconv.FormatInt(bot.Self.ID, 10), Name: bot.Self.UserName}
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if in, ok := t.inbound(update.Message); ok {
				bus.Publish(in)
			}
		}
	}
}

// inbound translates an update message. Unsupported or unauthorized
// messages are dropped.
func (t *Telegram) inbound(m *tgbotapi.Message) (domain.Inbound, bool) {
	if m == nil || m.From == nil || m.Chat == nil {
		return domain.Inbound{}, false
	}
	if len(t.allowFrom) > 0 && !t.allowFrom[m.From.ID] {
		t.logger.Warn("unauthorized telegram user", "user_id", m.From.ID, "username", m.From.UserName)
		return domain.Inbound{}, false
	}

	msg := telegramMessage(m)
	msg.Attachments = t.attachments(m)
	if strings.TrimSpace(msg.Content) == "" && len(msg.Attachments) == 0 {
		return domain.Inbound{}, false
	}

	mentioned, mentions := telegramMentions(m, t.bot)
	return domain.Inbound{
		Platform: telegramPlatform,
		Message:  msg,
		Conversation: &telegramConversation{
			api:       t.api,
			logger:    t.logger,
			kind:      telegramKind(m.Chat),
			chatID:    m.Chat.ID,
			guildID:   msg.GuildID,
			messageID: m.MessageID,
		},
		Bot:       t.bot,
		Mentioned: mentioned,
		Mentions:  mentions,
	}, true
}

func telegramKind(c *tgbotapi.Chat) domain.ChannelKind {
	switch {
	case c.IsPrivate():
		return domain.KindDirect
	case c.IsGroup(), c.IsSuperGroup():
		return domain.KindGuildText
	default:
		return domain.KindOther
	}
}

func telegramMessage(m *tgbotapi.Message) domain.Message {
	chatID := strconv.FormatInt(m.Chat.ID, 10)
	guildID := ""
	if !m.Chat.IsPrivate() {
		// A group is its own guild; membership checks run against it.
		guildID = chatID
	}
	content := m.Text
	if content == "" {
		content = m.Caption
	}
	msg := domain.Message{
		ID:        strconv.Itoa(m.MessageID),
		ChannelID: chatID,
		GuildID:   guildID,
		Author:    telegramName(m.From),
		AuthorID:  strconv.FormatInt(m.From.ID, 10),
		Content:   content,
		Timestamp: m.Time(),
		IsBot:     m.From.IsBot,
	}
	if m.From.IsBot {
		msg.BotID = msg.AuthorID
	}
	return msg
}

func telegramName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// telegramMentions treats @username, a text mention of the bot, or a reply
// to one of the bot's messages as addressing the bot.
func telegramMentions(m *tgbotapi.Message, bot domain.BotIdentity) (bool, map[string]string) {
	mentions := make(map[string]string)
	mentioned := false
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if bot.Name != "" && strings.Contains(strings.ToLower(text), "@"+strings.ToLower(bot.Name)) {
		mentioned = true
	}
	entities := m.Entities
	if len(entities) == 0 {
		entities = m.CaptionEntities
	}
	for _, e := range entities {
		if e.Type == "text_mention" && e.User != nil {
			id := strconv.FormatInt(e.User.ID, 10)
			mentions[id] = telegramName(e.User)
			if id == bot.ID {
				mentioned = true
			}
		}
	}
	if r := m.ReplyToMessage; r != nil && r.From != nil && strconv.FormatInt(r.From.ID, 10) == bot.ID {
		mentioned = true
	}
	if mentioned && bot.ID != "" {
		mentions[bot.ID] = bot.Name
	}
	return mentioned, mentions
}

// attachments resolves photos and image documents to download URLs.
func (t *Telegram) attachments(m *tgbotapi.Message) []domain.Attachment {
	var out []domain.Attachment
	if n := len(m.Photo); n > 0 {
		largest := m.Photo[n-1]
		if url, err := t.api.GetFileDirectURL(largest.FileID); err == nil {
			out = append(out, domain.Attachment{URL: url, Type: "image/jpeg", Name: "photo.jpg", Size: largest.FileSize})
		} else {
			t.logger.Warn("telegram photo lookup failed", "err", err)
		}
	}
	if d := m.Document; d != nil {
		if url, err := t.api.GetFileDirectURL(d.FileID); err == nil {
			out = append(out, domain.Attachment{URL: url, Type: d.MimeType, Name: d.FileName, Size: d.FileSize})
		} else {
			t.logger.Warn("telegram document lookup failed", "err", err)
		}
	}
	return out
}

type telegramConversation struct {
	api       telegramAPI
	logger    *slog.Logger
	kind      domain.ChannelKind
	chatID    int64
	guildID   string
	messageID int
}

func (c *telegramConversation) Kind() domain.ChannelKind { return c.kind }

func (c *telegramConversation) Reply(ctx context.Context, text string) (domain.Sent, error) {
	return sendTelegram(ctx, c.api, c.logger, c.chatID, c.guildID, c.messageID, text)
}

func (c *telegramConversation) Send(ctx context.Context, text string) (domain.Sent, error) {
	if !c.kind.CanSend() {
		return domain.Sent{}, fmt.Errorf("telegram chat %d does not accept messages", c.chatID)
	}
	return sendTelegram(ctx, c.api, c.logger, c.chatID, c.guildID, 0, text)
}

func (c *telegramConversation) Typing(ctx context.Context) error {
	_, err := c.api.Request(tgbotapi.NewChatAction(c.chatID, tgbotapi.ChatTyping))
	return err
}

// sendTelegram delivers text in chunks; the first chunk answers replyTo
// when it is non-zero and its handle is returned.
func sendTelegram(ctx context.Context, api telegramAPI, logger *slog.Logger, chatID int64, guildID string, replyTo int, text string) (domain.Sent, error) {
	var first domain.Sent
	for i, chunk := range splitMessage(text, telegramMaxMsgLen) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		if i == 0 {
			msg.ReplyToMessageID = replyTo
		}
		sent, err := sendTelegramChunk(ctx, api, logger, msg)
		if err != nil && i > 0 {
			// The first chunk is out and carries the handle.
			logger.Error("telegram send: message truncated", "chat_id", chatID, "chunk", i+1, "err", err)
			return first, nil
		}
		if err != nil {
			return domain.Sent{}, err
		}
		if i == 0 {
			first = telegramSent(sent, guildID)
		}
	}
	return first, nil
}

// sendTelegramChunk sends one chunk, backing off on rate limits and
// transient failures.
func sendTelegramChunk(ctx context.Context, api telegramAPI, logger *slog.Logger, msg tgbotapi.MessageConfig) (tgbotapi.Message, error) {
	var lastErr error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		sent, err := api.Send(msg)
		if err == nil {
			return sent, nil
		}
		lastErr = err

		var terr *tgbotapi.Error
		isAPIErr := errors.As(err, &terr)
		if isAPIErr && terr.Code != http.StatusTooManyRequests && terr.Code < 500 {
			return tgbotapi.Message{}, fmt.Errorf("telegram send: %w", err)
		}
		if attempt == telegramMaxSendRetries {
			break
		}

		backoff := time.Duration(attempt+1) * time.Second
		if isAPIErr && terr.RetryAfter > 0 {
			backoff = time.Duration(terr.RetryAfter) * time.Second
		}
		logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff, "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return tgbotapi.Message{}, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return tgbotapi.Message{}, fmt.Errorf("telegram send failed after %d attempts: %w", telegramMaxSendRetries+1, lastErr)
}

func telegramSent(m tgbotapi.Message, guildID string) domain.Sent {
	s := domain.Sent{
		ID:        strconv.Itoa(m.MessageID),
		GuildID:   guildID,
		CreatedAt: m.Time(),
	}
	if m.Chat != nil {
		s.ChannelID = strconv.FormatInt(m.Chat.ID, 10)
	}
	if m.From != nil {
		s.AuthorID = strconv.FormatInt(m.From.ID, 10)
		s.Author = telegramName(m.From)
	}
	return s
}

// LookupUser resolves a user through their private chat with the bot.
// Users who never talked to the bot are not visible and yield (nil, nil).
func (t *Telegram) LookupUser(ctx context.Context, userID string) (*domain.User, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return nil, nil
	}
	chat, err := t.api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: id}})
	if err != nil {
		var terr *tgbotapi.Error
		if errors.As(err, &terr) && terr.Code == http.StatusBadRequest {
			return nil, nil
		}
		return nil, fmt.Errorf("telegram user %s: %w", userID, err)
	}
	name := chat.UserName
	if name == "" {
		name = strings.TrimSpace(chat.FirstName + " " + chat.LastName)
	}
	return &domain.User{ID: userID, Username: name}, nil
}

func (t *Telegram) IsMember(ctx context.Context, guildID, userID string) (bool, error) {
	chatID, err := strconv.ParseInt(guildID, 10, 64)
	if err != nil {
		return false, fmt.Errorf("telegram chat id %q: %w", guildID, err)
	}
	uid, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return false, nil
	}
	member, err := t.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: uid},
	})
	if err != nil {
		var terr *tgbotapi.Error
		if errors.As(err, &terr) && terr.Code == http.StatusBadRequest {
			return false, nil
		}
		return false, fmt.Errorf("telegram member %s: %w", userID, err)
	}
	return !member.HasLeft() && !member.WasKicked(), nil
}

// SendDM posts to the user's private chat, which shares the user's id.
func (t *Telegram) SendDM(ctx context.Context, userID, text string) (domain.Sent, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return domain.Sent{}, fmt.Errorf("telegram user id %q: %w", userID, err)
	}
	sent, err := sendTelegram(ctx, t.api, t.logger, id, "", 0, text)
	if err != nil {
		var terr *tgbotapi.Error
		if errors.As(err, &terr) && terr.Code == http.StatusForbidden {
			return domain.Sent{}, fmt.Errorf("telegram dm: %w", domain.ErrDirectMessagesClosed)
		}
		return domain.Sent{}, err
	}
	return sent, nil
}
