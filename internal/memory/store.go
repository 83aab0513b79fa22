// Package memory persists per-channel conversation history in SQLite.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"moebot/internal/domain"
)

const (
	defaultMaxMessages = 50
	systemAuthor       = "System"
	systemAuthorID     = "system"
)

// StoreConfig configures the SQLite store and the context window it serves.
type StoreConfig struct {
	Path        string
	MaxMessages int           // newest messages returned per channel
	MaxAge      time.Duration // zero keeps messages of any age
	Logger      *slog.Logger
}

// SQLiteStore implements domain.MemoryStore using SQLite.
type SQLiteStore struct {
	db          *sql.DB
	maxMessages int
	maxAge      time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

var _ domain.MemoryStore = (*SQLiteStore)(nil)

func NewSQLiteStore(cfg StoreConfig) (*SQLiteStore, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	// SQLite serializes writers anyway; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, cfg.Logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = defaultMaxMessages
	}
	return &SQLiteStore{
		db:          db,
		maxMessages: cfg.MaxMessages,
		maxAge:      cfg.MaxAge,
		logger:      cfg.Logger,
		now:         time.Now,
	}, nil
}

// GetChannelContext returns the channel's newest messages in the order they
// were written, bounded by count and age.
func (s *SQLiteStore) GetChannelContext(ctx context.Context, channelID, guildID string) (*domain.ConversationContext, error) {
	var since int64
	if s.maxAge > 0 {
		since = s.now().Add(-s.maxAge).UnixMilli()
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, guild_id, author, author_id, content, created_at, is_bot, is_system, bot_id, attachments
		 FROM channel_messages
		 WHERE channel_id = ? AND created_at >= ?
		 ORDER BY seq DESC LIMIT ?`,
		channelID, since, s.maxMessages,
	)
	if err != nil {
		return nil, fmt.Errorf("query channel %s: %w", channelID, err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel %s: %w", channelID, err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return &domain.ConversationContext{ChannelID: channelID, GuildID: guildID, Messages: msgs}, nil
}

func scanMessage(rows *sql.Rows) (domain.Message, error) {
	var (
		m           domain.Message
		createdAt   int64
		attachments string
	)
	if err := rows.Scan(&m.ID, &m.ChannelID, &m.GuildID, &m.Author, &m.AuthorID, &m.Content,
		&createdAt, &m.IsBot, &m.IsSystem, &m.BotID, &attachments); err != nil {
		return m, err
	}
	m.Timestamp = time.UnixMilli(createdAt)
	if attachments != "" {
		if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil {
			return m, fmt.Errorf("decode attachments of %s: %w", m.ID, err)
		}
	}
	return m, nil
}

func (s *SQLiteStore) AddMessage(ctx context.Context, msg domain.Message) error {
	if msg.ChannelID == "" {
		return fmt.Errorf("add message: empty channel id")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}

	var attachments string
	if len(msg.Attachments) > 0 {
		b, err := json.Marshal(msg.Attachments)
		if err != nil {
			return fmt.Errorf("encode attachments: %w", err)
		}
		attachments = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_messages (id, channel_id, guild_id, author, author_id, content, created_at, is_bot, is_system, bot_id, attachments)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChannelID, msg.GuildID, msg.Author, msg.AuthorID, msg.Content,
		msg.Timestamp.UnixMilli(), msg.IsBot, msg.IsSystem, msg.BotID, attachments,
	)
	if err != nil {
		return fmt.Errorf("insert message into %s: %w", msg.ChannelID, err)
	}
	s.logger.Debug("stored message", "channel", msg.ChannelID, "id", msg.ID, "role", msg.Role())
	return nil
}

// AddSystemMessage stores a system-role note with a fresh id.
func (s *SQLiteStore) AddSystemMessage(ctx context.Context, msg domain.SystemMessage) error {
	return s.AddMessage(ctx, domain.Message{
		ID:        "system-" + uuid.NewString(),
		ChannelID: msg.ChannelID,
		GuildID:   msg.GuildID,
		Author:    systemAuthor,
		AuthorID:  systemAuthorID,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
		IsSystem:  true,
	})
}

// Stats summarizes what the store holds.
type Stats struct {
	Messages int64
	Channels int64
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT channel_id) FROM channel_messages`,
	).Scan(&st.Messages, &st.Channels)
	if err != nil {
		return st, fmt.Errorf("query stats: %w", err)
	}
	return st, nil
}

// Prune deletes messages written before cutoff.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM channel_messages WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("pruned old messages", "count", n)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
