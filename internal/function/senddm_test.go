package function

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"moebot/internal/domain"
)

type fakeMessenger struct {
	users     map[string]string
	members   map[string]bool
	memberErr error
	sendErr   error
	sent      []string
}

func (f *fakeMessenger) LookupUser(ctx context.Context, id string) (*domain.User, error) {
	name, ok := f.users[id]
	if !ok {
		return nil, errors.New("unknown user")
	}
	return &domain.User{ID: id, Username: name}, nil
}

func (f *fakeMessenger) IsMember(ctx context.Context, guildID, userID string) (bool, error) {
	if f.memberErr != nil {
		return false, f.memberErr
	}
	return f.members[guildID+"/"+userID], nil
}

func (f *fakeMessenger) SendDM(ctx context.Context, userID, text string) (domain.Sent, error) {
	if f.sendErr != nil {
		return domain.Sent{}, f.sendErr
	}
	f.sent = append(f.sent, userID+":"+text)
	return domain.Sent{ID: "dm-msg-1", ChannelID: "dm-" + userID, CreatedAt: time.Unix(1700000000, 0)}, nil
}

type memoryRecorder struct {
	mu   sync.Mutex
	msgs []domain.Message
	err  error
}

func (m *memoryRecorder) AddMessage(ctx context.Context, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msg)
	return nil
}

func newSendDMFixture() (*SendDM, *fakeMessenger, *memoryRecorder) {
	fm := &fakeMessenger{
		users:   map[string]string{"42": "alice"},
		members: map[string]bool{"g1/42": true},
	}
	mem := &memoryRecorder{}
	return NewSendDM(map[string]domain.DirectMessenger{"discord": fm}, mem, testLogger()), fm, mem
}

func dmContext() Context {
	return Context{
		Platform:  "discord",
		ChannelID: "c1",
		GuildID:   "g1",
		Bot:       domain.BotIdentity{ID: "bot", Name: "Moe"},
	}
}

func TestSendDM_Success(t *testing.T) {
	dm, fm, mem := newSendDMFixture()

	res, err := dm.Execute(context.Background(), dmContext(), map[string]any{"user_id": "<@!42>", "message": "hey"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success || res.Message != "sent DM to alice" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Data["dmChannelId"] != "dm-42" || res.Data["messageLength"] != 3 {
		t.Fatalf("unexpected data %+v", res.Data)
	}
	if len(fm.sent) != 1 || fm.sent[0] != "42:hey" {
		t.Fatalf("unexpected deliveries %v", fm.sent)
	}
	if len(mem.msgs) != 1 {
		t.Fatalf("expected DM recorded in memory, got %d", len(mem.msgs))
	}
	saved := mem.msgs[0]
	if saved.ChannelID != "dm-42" || !saved.IsBot || saved.AuthorID != "bot" || saved.Author != "Moe" {
		t.Fatalf("unexpected saved message %+v", saved)
	}
}

func TestSendDM_Failures(t *testing.T) {
	tests := []struct {
		name     string
		fctx     func() Context
		args     map[string]any
		sendErr  error
		contains string
	}{
		{"unknown user", dmContext, map[string]any{"user_id": "7", "message": "hi"}, nil, "user with ID 7 not found"},
		{"not a member", func() Context { c := dmContext(); c.GuildID = "g2"; return c }, map[string]any{"user_id": "42", "message": "hi"}, nil, "not in this server"},
		{"dms closed", dmContext, map[string]any{"user_id": "42", "message": "hi"}, domain.ErrDirectMessagesClosed, "may have DMs disabled"},
		{"blank message", dmContext, map[string]any{"user_id": "42", "message": "  "}, nil, "message is empty"},
		{"unsupported platform", func() Context { c := dmContext(); c.Platform = "telegram"; return c }, map[string]any{"user_id": "42", "message": "hi"}, nil, "not supported on telegram"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dm, fm, mem := newSendDMFixture()
			fm.sendErr = tt.sendErr
			res, err := dm.Execute(context.Background(), tt.fctx(), tt.args)
			if err != nil {
				t.Fatalf("expected a result, got error %v", err)
			}
			if res.Success || !strings.Contains(res.Message, tt.contains) {
				t.Fatalf("expected failure containing %q, got %+v", tt.contains, res)
			}
			if len(mem.msgs) != 0 {
				t.Fatal("failed DM must not be recorded")
			}
		})
	}
}

func TestSendDM_OutsideGuildSkipsMembership(t *testing.T) {
	dm, _, _ := newSendDMFixture()
	fctx := dmContext()
	fctx.GuildID = ""
	res, err := dm.Execute(context.Background(), fctx, map[string]any{"user_id": "42", "message": "hi"})
	if err != nil || !res.Success {
		t.Fatalf("expected success from a DM context, got %+v err=%v", res, err)
	}
}

func TestSendDM_SendErrorIsReturned(t *testing.T) {
	dm, fm, _ := newSendDMFixture()
	fm.sendErr = errors.New("gateway down")
	_, err := dm.Execute(context.Background(), dmContext(), map[string]any{"user_id": "42", "message": "hi"})
	if err == nil || !strings.Contains(err.Error(), "gateway down") {
		t.Fatalf("expected wrapped send error, got %v", err)
	}
}

func TestSendDM_MembershipErrorIsReturned(t *testing.T) {
	dm, fm, _ := newSendDMFixture()
	fm.memberErr = errors.New("rate limited")
	res, err := dm.Execute(context.Background(), dmContext(), map[string]any{"user_id": "42", "message": "hi"})
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected wrapped membership error, got %+v err=%v", res, err)
	}
	if len(fm.sent) != 0 {
		t.Fatal("no DM may be sent when membership is unknown")
	}
}

func TestSendDM_MemoryFailureStillSucceeds(t *testing.T) {
	dm, _, mem := newSendDMFixture()
	mem.err = errors.New("disk full")
	res, err := dm.Execute(context.Background(), dmContext(), map[string]any{"user_id": "42", "message": "hi"})
	if err != nil || !res.Success {
		t.Fatalf("delivered DM should report success, got %+v err=%v", res, err)
	}
}

func TestSendDM_ThroughRegistry(t *testing.T) {
	dm, fm, _ := newSendDMFixture()
	reg := NewRegistry(testLogger())
	if err := reg.RegisterAll(dm); err != nil {
		t.Fatal(err)
	}
	fm.sendErr = errors.New("gateway down")
	res := reg.ExecuteFunction(context.Background(), "send_dm", dmContext(), map[string]any{"user_id": "42", "message": "hi"})
	if res.Success || !strings.HasPrefix(res.Message, "failed to send DM") {
		t.Fatalf("expected failure result, got %+v", res)
	}
}

func TestCurrentTime(t *testing.T) {
	fixed := time.Date(2024, 3, 9, 14, 30, 0, 0, time.UTC)
	ct := NewCurrentTime(func() time.Time { return fixed })

	res, err := ct.Execute(context.Background(), Context{}, map[string]any{})
	if err != nil || !res.Success {
		t.Fatalf("unexpected %+v err=%v", res, err)
	}
	if res.Message != "Saturday, 2024-03-09 14:30 UTC" {
		t.Fatalf("unexpected message %q", res.Message)
	}

	res, _ = ct.Execute(context.Background(), Context{}, map[string]any{"timezone": "Not/AZone"})
	if res.Success {
		t.Fatal("expected failure for unknown zone")
	}
}
