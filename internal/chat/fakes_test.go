package chat

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dankerchat/backend/internal/models"
	"dankerchat/backend/internal/realtime"
	"dankerchat/backend/internal/repository"
)

type memChannels struct {
	mu       sync.Mutex
	channels map[string]models.Channel
	members  map[string]models.Membership
}

func membershipKey(channelID, userID string) string { return channelID + "/" + userID }

func (c *memChannels) GetByID(_ context.Context, id string) (models.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[id]
	if !ok {
		return models.Channel{}, repository.ErrChannelNotFound
	}
	for _, m := range c.members {
		if m.ChannelID == id {
			ch.MemberCount++
		}
	}
	return ch, nil
}

func (c *memChannels) GetMembership(_ context.Context, channelID, userID string) (models.Membership, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.members[membershipKey(channelID, userID)]
	if !ok {
		return models.Membership{}, repository.ErrMembershipNotFound
	}
	return m, nil
}

func (c *memChannels) AddMember(_ context.Context, m models.Membership) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := membershipKey(m.ChannelID, m.UserID)
	if _, ok := c.members[key]; ok {
		return repository.ErrAlreadyMember
	}
	if limit := c.channels[m.ChannelID].MaxMembers; limit > 0 {
		count := 0
		for _, existing := range c.members {
			if existing.ChannelID == m.ChannelID {
				count++
			}
		}
		if count >= limit {
			return repository.ErrChannelFull
		}
	}
	c.members[key] = m
	return nil
}

func (c *memChannels) RemoveMember(_ context.Context, channelID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := membershipKey(channelID, userID)
	if _, ok := c.members[key]; !ok {
		return repository.ErrMembershipNotFound
	}
	delete(c.members, key)
	return nil
}

func (c *memChannels) UpdateRole(_ context.Context, channelID, userID string, role models.MemberRole) error {
	return c.update(channelID, userID, func(m *models.Membership) { m.Role = role })
}

func (c *memChannels) SetMuted(_ context.Context, channelID, userID string, muted bool) error {
	return c.update(channelID, userID, func(m *models.Membership) { m.Muted = muted })
}

func (c *memChannels) update(channelID, userID string, fn func(*models.Membership)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := membershipKey(channelID, userID)
	m, ok := c.members[key]
	if !ok {
		return repository.ErrMembershipNotFound
	}
	fn(&m)
	c.members[key] = m
	return nil
}

func (c *memChannels) CountByRole(_ context.Context, channelID string, role models.MemberRole) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.members {
		if m.ChannelID == channelID && m.Role == role {
			n++
		}
	}
	return n, nil
}

type memConversations struct {
	mu    sync.Mutex
	convs map[string]models.Conversation
}

func (c *memConversations) GetByID(_ context.Context, id string) (models.Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.convs[id]
	if !ok {
		return models.Conversation{}, repository.ErrConversationNotFound
	}
	return conv, nil
}

func (c *memConversations) FindOrCreate(_ context.Context, a, b string) (models.Conversation, error) {
	if a == b {
		return models.Conversation{}, repository.ErrSelfConversation
	}
	p1, p2 := models.CanonicalPair(a, b)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conv := range c.convs {
		if conv.Participant1 == p1 && conv.Participant2 == p2 {
			return conv, nil
		}
	}
	conv := models.Conversation{ID: "dm-" + p1 + "-" + p2, Participant1: p1, Participant2: p2}
	c.convs[conv.ID] = conv
	return conv, nil
}

type memMessages struct {
	mu    sync.Mutex
	rows  []models.Message
	clock time.Time
	fail  error

	hold    chan struct{}
	entered chan struct{}
}

func (m *memMessages) Append(_ context.Context, msg models.Message) (models.Message, error) {
	if m.hold != nil {
		if m.entered != nil {
			m.entered <- struct{}{}
		}
		<-m.hold
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return models.Message{}, m.fail
	}
	if err := msg.Validate(); err != nil {
		return models.Message{}, err
	}
	kind, id := msg.Target()
	for _, r := range m.rows {
		if k, i := r.Target(); k == kind && i == id && r.Seq > msg.Seq {
			msg.Seq = r.Seq
		}
	}
	msg.Seq++
	m.clock = m.clock.Add(time.Millisecond)
	msg.CreatedAt = m.clock
	m.rows = append(m.rows, msg)
	return msg, nil
}

func (m *memMessages) GetByID(_ context.Context, id string) (models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ID == id {
			return r, nil
		}
	}
	return models.Message{}, repository.ErrMessageNotFound
}

func (m *memMessages) UpdateContent(_ context.Context, id, content string, editedAt time.Time) (models.Message, error) {
	return m.mutate(id, func(r *models.Message) {
		r.Content = &content
		r.EditedAt = &editedAt
	})
}

func (m *memMessages) SoftDelete(_ context.Context, id, by string) (models.Message, error) {
	return m.mutate(id, func(r *models.Message) {
		r.IsDeleted = true
		r.DeletedBy = &by
	})
}

func (m *memMessages) mutate(id string, fn func(*models.Message)) (models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ID == id && !m.rows[i].IsDeleted {
			fn(&m.rows[i])
			return m.rows[i], nil
		}
	}
	return models.Message{}, repository.ErrMessageNotFound
}

func (m *memMessages) on(kind models.TargetType, id string, keep func(models.Message) bool) []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Message
	for _, r := range m.rows {
		if k, i := r.Target(); k == kind && i == id && keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Seq < out[b].Seq })
	return out
}

func (m *memMessages) ListAfter(_ context.Context, kind models.TargetType, id string, after time.Time, limit int) ([]models.Message, error) {
	out := m.on(kind, id, func(r models.Message) bool { return !r.IsDeleted && r.CreatedAt.After(after) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memMessages) ListRecent(_ context.Context, kind models.TargetType, id string, before *time.Time, limit int, includeDeleted bool) ([]models.Message, error) {
	out := m.on(kind, id, func(r models.Message) bool {
		return (includeDeleted || !r.IsDeleted) && (before == nil || r.CreatedAt.Before(*before))
	})
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memMessages) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memUsers struct {
	users map[string]models.User
	perms map[string]models.Permissions
}

func (u *memUsers) GetByID(_ context.Context, id string) (models.User, error) {
	user, ok := u.users[id]
	if !ok {
		return models.User{}, repository.ErrUserNotFound
	}
	return user, nil
}

func (u *memUsers) IsActive(_ context.Context, id string) (bool, error) {
	user, ok := u.users[id]
	if !ok {
		return false, repository.ErrUserNotFound
	}
	return user.IsActive, nil
}

func (u *memUsers) PermissionsFor(_ context.Context, id string) (models.Permissions, error) {
	return u.perms[id], nil
}

func (u *memUsers) Profiles(_ context.Context, ids []string) (map[string]models.Profile, error) {
	out := make(map[string]models.Profile, len(ids))
	for _, id := range ids {
		if user, ok := u.users[id]; ok {
			out[id] = user.Profile()
		}
	}
	return out, nil
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type sink struct {
	id string

	mu     sync.Mutex
	frames []frame
	closed int
}

func (s *sink) ID() string { return s.id }

func (s *sink) Send(p []byte) error {
	var f frame
	if err := json.Unmarshal(p, &f); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *sink) Close(code int, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = code
}

// named returns the frames carrying event, in arrival order.
func (s *sink) named(event string) []frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []frame
	for _, f := range s.frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func (s *sink) received(t *testing.T) []MessagePayload {
	t.Helper()
	var out []MessagePayload
	for _, f := range s.named(EventMessageReceived) {
		var mr MessageReceived
		if err := json.Unmarshal(f.Data, &mr); err != nil {
			t.Fatalf("decode message_received: %v", err)
		}
		out = append(out, mr.Message)
	}
	return out
}

type harness struct {
	svc      *Service
	registry *realtime.Registry
	channels *memChannels
	convs    *memConversations
	messages *memMessages
	users    *memUsers
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		registry: realtime.NewRegistry(),
		channels: &memChannels{channels: map[string]models.Channel{}, members: map[string]models.Membership{}},
		convs:    &memConversations{convs: map[string]models.Conversation{}},
		messages: &memMessages{clock: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		users:    &memUsers{users: map[string]models.User{}, perms: map[string]models.Permissions{}},
		now:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	h.svc = NewService(h.registry, h.channels, h.convs, h.messages, h.users, Options{SendTimeout: time.Second}, zerolog.Nop())
	h.svc.now = func() time.Time { return h.now }
	return h
}

func (h *harness) user(id string) {
	h.users.users[id] = models.User{ID: id, Username: id, IsActive: true}
}

func (h *harness) channel(ch models.Channel) {
	h.channels.channels[ch.ID] = ch
}

func (h *harness) member(channelID, userID string, role models.MemberRole) {
	h.channels.members[membershipKey(channelID, userID)] = models.Membership{ChannelID: channelID, UserID: userID, Role: role}
}

// connect registers a live connection for userID.
func (h *harness) connect(t *testing.T, connID, userID string) *sink {
	t.Helper()
	s := &sink{id: connID}
	client := realtime.Client{
		UserID:    userID,
		SessionID: "sess-" + connID,
		Profile:   h.users.users[userID].Profile(),
		ExpiresAt: h.now.Add(time.Hour),
	}
	if err := h.registry.Register(s, client); err != nil {
		t.Fatalf("register %s: %v", connID, err)
	}
	return s
}

func (h *harness) join(t *testing.T, connID, channelID string) JoinResult {
	t.Helper()
	res, err := h.svc.Join(context.Background(), connID, channelID, nil)
	if err != nil {
		t.Fatalf("join %s -> %s: %v", connID, channelID, err)
	}
	return res
}

func (h *harness) send(connID, kind, targetID, content string) (Ack, error) {
	return h.svc.Send(context.Background(), SendRequest{
		ConnID:     connID,
		TargetType: kind,
		TargetID:   targetID,
		Content:    content,
		TempID:     "tmp-" + content,
	})
}

func wantCode(t *testing.T, err error, code Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", code)
	}
	if got := AsRejection(err).Code; got != code {
		t.Fatalf("expected %s, got %s (%v)", code, got, err)
	}
}
