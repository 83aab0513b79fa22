package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"moebot/internal/domain"
)

const (
	discordMaxMsgLen = 2000
	discordPlatform  = "discord"
)

// discordAPI is the subset of *discordgo.Session the adapter uses.
type discordAPI interface {
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendReply(channelID string, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// Discord connects a Discord bot account to the message bus. It also serves
// as the platform's DirectMessenger.
type Discord struct {
	token   string
	guildID string
	api     discordAPI
	logger  *slog.Logger

	kindMu sync.RWMutex
	kinds  map[string]domain.ChannelKind
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Token   string
	GuildID string // optional: ignore every other guild
	Logger  *slog.Logger
}

func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discord{
		token:   cfg.Token,
		guildID: cfg.GuildID,
		logger:  cfg.Logger,
		kinds:   make(map[string]domain.ChannelKind),
	}
}

func (d *Discord) Name() string { return discordPlatform }

// Start connects to Discord and publishes every message the bot can see
// until ctx is done.
func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMembers
	// Handlers run on the gateway goroutine so messages reach the bus in arrival order.
	session.SyncEvents = true

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.ID == s.State.User.ID {
			return
		}
		if d.guildID != "" && m.GuildID != "" && m.GuildID != d.guildID {
			return
		}
		bot := domain.BotIdentity{ID: s.State.User.ID, Name: s.State.User.Username}
		in := d.inbound(ctx, m.Message, bot)
		d.logger.Debug("discord message received",
			"author", m.Author.Username,
			"channel_id", m.ChannelID,
			"kind", in.Conversation.Kind(),
			"mentioned", in.Mentioned,
		)
		bus.Publish(in)
	})

	d.api = session
	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord bot connected", "user", session.State.User.Username, "id", session.State.User.ID)

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

// inbound translates a gateway message into the pipeline's event.
func (d *Discord) inbound(ctx context.Context, m *discordgo.Message, bot domain.BotIdentity) domain.Inbound {
	mentioned, mentions := discordMentions(m, bot)
	return domain.Inbound{
		Platform: discordPlatform,
		Message:  discordMessage(m),
		Conversation: &discordConversation{
			api:       d.api,
			kind:      d.channelKind(ctx, m.ChannelID, m.GuildID),
			channelID: m.ChannelID,
			guildID:   m.GuildID,
			messageID: m.ID,
			logger:    d.logger,
		},
		Bot:       bot,
		Mentioned: mentioned,
		Mentions:  mentions,
	}
}

// channelKind resolves and caches a channel's shape. A failed lookup
// falls back to the guild id.
func (d *Discord) channelKind(ctx context.Context, channelID, guildID string) domain.ChannelKind {
	d.kindMu.RLock()
	k, ok := d.kinds[channelID]
	d.kindMu.RUnlock()
	if ok {
		return k
	}

	ch, err := d.api.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		d.logger.Warn("discord channel lookup failed", "channel", channelID, "err", err)
		if guildID == "" {
			return domain.KindDirect
		}
		return domain.KindGuildText
	}
	k = discordKind(ch.Type)

	d.kindMu.Lock()
	d.kinds[channelID] = k
	d.kindMu.Unlock()
	return k
}

func discordKind(t discordgo.ChannelType) domain.ChannelKind {
	switch t {
	case discordgo.ChannelTypeDM, discordgo.ChannelTypeGroupDM:
		return domain.KindDirect
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews,
		discordgo.ChannelTypeGuildPublicThread, discordgo.ChannelTypeGuildPrivateThread,
		discordgo.ChannelTypeGuildNewsThread:
		return domain.KindGuildText
	default:
		return domain.KindOther
	}
}

func discordMessage(m *discordgo.Message) domain.Message {
	msg := domain.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Author:    m.Author.Username,
		AuthorID:  m.Author.ID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
		IsBot:     m.Author.Bot,
	}
	if m.Author.Bot {
		msg.BotID = m.Author.ID
	}
	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, domain.Attachment{
			URL:  a.URL,
			Type: a.ContentType,
			Name: a.Filename,
			Size: a.Size,
		})
	}
	return msg
}

var discordMentionPattern = regexp.MustCompile(`<@!?(\d+)>`)

// discordMentions reports whether the bot was addressed and maps every
// mentioned user id to a display name.
func discordMentions(m *discordgo.Message, bot domain.BotIdentity) (bool, map[string]string) {
	mentions := make(map[string]string, len(m.Mentions))
	mentioned := false
	for _, u := range m.Mentions {
		if u == nil {
			continue
		}
		name := u.GlobalName
		if name == "" {
			name = u.Username
		}
		mentions[u.ID] = name
		if bot.ID != "" && u.ID == bot.ID {
			mentioned = true
		}
	}
	if !mentioned && bot.ID != "" {
		for _, sub := range discordMentionPattern.FindAllStringSubmatch(m.Content, -1) {
			if sub[1] == bot.ID {
				mentioned = true
				break
			}
		}
	}
	if mentioned {
		if _, ok := mentions[bot.ID]; !ok {
			mentions[bot.ID] = bot.Name
		}
	}
	return mentioned, mentions
}

type discordConversation struct {
	api       discordAPI
	kind      domain.ChannelKind
	channelID string
	guildID   string
	messageID string
	logger    *slog.Logger
}

func (c *discordConversation) Kind() domain.ChannelKind { return c.kind }

// Reply answers the originating message. Long text is split; the first
// chunk is the reply and its handle is returned even when a later chunk
// fails.
func (c *discordConversation) Reply(ctx context.Context, text string) (domain.Sent, error) {
	chunks := splitMessage(text, discordMaxMsgLen)
	ref := &discordgo.MessageReference{MessageID: c.messageID, ChannelID: c.channelID, GuildID: c.guildID}
	first, err := c.api.ChannelMessageSendReply(c.channelID, chunks[0], ref, discordgo.WithContext(ctx))
	if err != nil {
		return domain.Sent{}, fmt.Errorf("discord reply: %w", err)
	}
	c.sendRest(ctx, chunks[1:])
	return discordSent(first, c.guildID), nil
}

func (c *discordConversation) Send(ctx context.Context, text string) (domain.Sent, error) {
	if !c.kind.CanSend() {
		return domain.Sent{}, fmt.Errorf("discord channel %s does not accept messages", c.channelID)
	}
	chunks := splitMessage(text, discordMaxMsgLen)
	first, err := c.api.ChannelMessageSend(c.channelID, chunks[0], discordgo.WithContext(ctx))
	if err != nil {
		return domain.Sent{}, fmt.Errorf("discord send: %w", err)
	}
	c.sendRest(ctx, chunks[1:])
	return discordSent(first, c.guildID), nil
}

func (c *discordConversation) Typing(ctx context.Context) error {
	return c.api.ChannelTyping(c.channelID, discordgo.WithContext(ctx))
}

// sendRest delivers the chunks after the first. The first chunk already
// carries the handle, so a failure here is logged and the rest dropped.
func (c *discordConversation) sendRest(ctx context.Context, chunks []string) {
	for i, chunk := range chunks {
		if _, err := c.api.ChannelMessageSend(c.channelID, chunk, discordgo.WithContext(ctx)); err != nil {
			logger := c.logger
			if logger == nil {
				logger = slog.Default()
			}
			logger.Error("discord send: message truncated", "channel_id", c.channelID, "chunk", i+2, "of", len(chunks)+1, "err", err)
			return
		}
	}
}

func discordSent(m *discordgo.Message, guildID string) domain.Sent {
	s := domain.Sent{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		CreatedAt: m.Timestamp,
	}
	if s.GuildID == "" {
		s.GuildID = guildID
	}
	if m.Author != nil {
		s.AuthorID = m.Author.ID
		s.Author = m.Author.Username
	}
	return s
}

// LookupUser fetches a user by id. Unknown users yield (nil, nil).
func (d *Discord) LookupUser(ctx context.Context, userID string) (*domain.User, error) {
	if d.api == nil {
		return nil, errors.New("discord: not connected")
	}
	u, err := d.api.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		if discordErrorCode(err) == discordgo.ErrCodeUnknownUser {
			return nil, nil
		}
		return nil, fmt.Errorf("discord user %s: %w", userID, err)
	}
	return &domain.User{ID: u.ID, Username: u.Username}, nil
}

func (d *Discord) IsMember(ctx context.Context, guildID, userID string) (bool, error) {
	if d.api == nil {
		return false, errors.New("discord: not connected")
	}
	_, err := d.api.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		if discordErrorCode(err) == discordgo.ErrCodeUnknownMember {
			return false, nil
		}
		return false, fmt.Errorf("discord member %s: %w", userID, err)
	}
	return true, nil
}

// SendDM opens (or reuses) the DM channel with userID and delivers text.
func (d *Discord) SendDM(ctx context.Context, userID, text string) (domain.Sent, error) {
	if d.api == nil {
		return domain.Sent{}, errors.New("discord: not connected")
	}
	ch, err := d.api.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return domain.Sent{}, mapDiscordDMError(err)
	}
	chunks := splitMessage(strings.TrimSpace(text), discordMaxMsgLen)
	first, err := d.api.ChannelMessageSend(ch.ID, chunks[0], discordgo.WithContext(ctx))
	if err != nil {
		return domain.Sent{}, mapDiscordDMError(err)
	}
	dm := &discordConversation{api: d.api, kind: domain.KindDirect, channelID: ch.ID, logger: d.logger}
	dm.sendRest(ctx, chunks[1:])
	return discordSent(first, ""), nil
}

func mapDiscordDMError(err error) error {
	if discordErrorCode(err) == discordgo.ErrCodeCannotSendMessagesToThisUser {
		return fmt.Errorf("discord dm: %w", domain.ErrDirectMessagesClosed)
	}
	return fmt.Errorf("discord dm: %w", err)
}

func discordErrorCode(err error) int {
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) && rerr.Message != nil {
		return rerr.Message.Code
	}
	return 0
}
