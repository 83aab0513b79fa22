package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"moebot/internal/domain"
)

const (
	cliPlatform  = "cli"
	cliChannelID = "console"
)

// CLI is an interactive terminal chat. It behaves like a DM with the bot.
type CLI struct {
	logger *slog.Logger
	in     io.Reader
	out    io.Writer
	user   domain.User
	bot    domain.BotIdentity
	mu     sync.Mutex // serializes writes to out
	now    func() time.Time
}

type CLIConfig struct {
	Logger  *slog.Logger
	In      io.Reader
	Out     io.Writer
	User    string // display name of the person at the keyboard
	BotName string
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.User == "" {
		cfg.User = "you"
	}
	if cfg.BotName == "" {
		cfg.BotName = "moebot"
	}
	return &CLI{
		logger: cfg.Logger,
		in:     cfg.In,
		out:    cfg.Out,
		user:   domain.User{ID: "console-user", Username: cfg.User},
		bot:    domain.BotIdentity{ID: "console-bot", Name: cfg.BotName},
		now:    time.Now,
	}
}

func (c *CLI) Name() string { return cliPlatform }

// Start reads lines until EOF, /quit or ctx is done, publishing each as a
// direct message.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.printf("%s console. Type a message and press Enter. /quit exits.\n", c.bot.Name)

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if line == "/quit" || line == "/exit" || line == "/q" {
				c.logger.Info("user requested quit")
				return nil
			}
			bus.Publish(c.inbound(line))
		}
	}
}

func (c *CLI) inbound(line string) domain.Inbound {
	return domain.Inbound{
		Platform: cliPlatform,
		Message: domain.Message{
			ID:        uuid.NewString(),
			ChannelID: cliChannelID,
			Author:    c.user.Username,
			AuthorID:  c.user.ID,
			Content:   line,
			Timestamp: c.now(),
		},
		Conversation: &cliConversation{cli: c},
		Bot:          c.bot,
	}
}

func (c *CLI) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

type cliConversation struct {
	cli *CLI
}

func (cc *cliConversation) Kind() domain.ChannelKind { return domain.KindDirect }

func (cc *cliConversation) Reply(ctx context.Context, text string) (domain.Sent, error) {
	return cc.Send(ctx, text)
}

func (cc *cliConversation) Send(ctx context.Context, text string) (domain.Sent, error) {
	c := cc.cli
	c.printf("%s> %s\n", c.bot.Name, text)
	return domain.Sent{
		ID:        uuid.NewString(),
		ChannelID: cliChannelID,
		AuthorID:  c.bot.ID,
		Author:    c.bot.Name,
		CreatedAt: c.now(),
	}, nil
}

func (cc *cliConversation) Typing(ctx context.Context) error {
	cc.cli.printf("%s is typing...\n", cc.cli.bot.Name)
	return nil
}
