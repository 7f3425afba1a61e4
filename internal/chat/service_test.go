package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"dankerchat/backend/internal/models"
	"dankerchat/backend/internal/realtime"
)

func TestTypingSkipsTheTypistsOwnDevices(t *testing.T) {
	h, conns := generalWith(t)
	ctx := context.Background()

	if err := h.svc.StartTyping(ctx, "a1", "channel", "general"); err != nil {
		t.Fatalf("start typing: %v", err)
	}
	if err := h.svc.StartTyping(ctx, "a1", "channel", "general"); err != nil {
		t.Fatalf("coalesced start typing should not error: %v", err)
	}

	if n := len(conns["b1"].named(EventUserTyping)); n != 1 {
		t.Fatalf("b1 got %d typing events, want 1", n)
	}
	for _, own := range []string{"a1", "a2"} {
		if n := len(conns[own].named(EventUserTyping)); n != 0 {
			t.Fatalf("%s saw its own typing", own)
		}
	}

	h.now = h.now.Add(3 * time.Second)
	if err := h.svc.StartTyping(ctx, "a1", "channel", "general"); err != nil {
		t.Fatal(err)
	}
	if n := len(conns["b1"].named(EventUserTyping)); n != 2 {
		t.Fatalf("typing after the window was suppressed, got %d", n)
	}

	if err := h.svc.StopTyping(ctx, "a1", "channel", "general"); err != nil {
		t.Fatal(err)
	}
	stopped := conns["b1"].named(EventUserStoppedTyping)
	if len(stopped) != 1 {
		t.Fatalf("b1 got %d stop events", len(stopped))
	}
	var p TypingPayload
	if err := json.Unmarshal(stopped[0].Data, &p); err != nil {
		t.Fatal(err)
	}
	if p.User.ID != "alice" || p.TargetID != "general" || p.Type != models.TargetChannel {
		t.Fatalf("unexpected payload %+v", p)
	}
}

func TestTypingRequiresReadAccess(t *testing.T) {
	h := newHarness(t)
	h.user("alice")
	h.connect(t, "a1", "alice")
	h.channel(models.Channel{ID: "secret", IsPrivate: true})

	wantCode(t, h.svc.StartTyping(context.Background(), "a1", "channel", "secret"), CodeNotAuthorized)
	wantCode(t, h.svc.StartTyping(context.Background(), "a1", "direct", "nope"), CodeNotAuthorized)
	wantCode(t, h.svc.StartTyping(context.Background(), "a1", "thread", "x"), CodeValidation)
}

func TestJoinWithWatermarkIsRepeatable(t *testing.T) {
	h, _ := generalWith(t)
	ctx := context.Background()

	var acks []Ack
	for _, body := range []string{"one", "two", "three", "four"} {
		ack, err := h.send("a1", "channel", "general", body)
		if err != nil {
			t.Fatal(err)
		}
		acks = append(acks, ack)
	}
	if err := h.svc.Delete(ctx, "alice", acks[2].MessageID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	watermark := acks[0].Timestamp
	first, err := h.svc.Join(ctx, "b1", "general", &watermark)
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.svc.Join(ctx, "b1", "general", &watermark)
	if err != nil {
		t.Fatal(err)
	}

	ids := func(r JoinResult) []string {
		var out []string
		for _, m := range r.RecentMessages {
			out = append(out, m.ID)
		}
		return out
	}
	want := []string{acks[1].MessageID, acks[3].MessageID}
	for _, got := range [][]string{ids(first), ids(second)} {
		if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
			t.Fatalf("recovered %v, want %v", got, want)
		}
	}
	if len(first.MembersOnline) != 2 {
		t.Fatalf("members online = %+v", first.MembersOnline)
	}
}

func TestJoinWithoutWatermarkReturnsRecentPage(t *testing.T) {
	h, _ := generalWith(t)
	h.svc.opts.RecentLimit = 2
	for _, body := range []string{"a", "b", "c"} {
		if _, err := h.send("a1", "channel", "general", body); err != nil {
			t.Fatal(err)
		}
	}
	res := h.join(t, "b1", "general")
	if len(res.RecentMessages) != 2 || *res.RecentMessages[0].Content != "b" || *res.RecentMessages[1].Content != "c" {
		t.Fatalf("recent page = %+v", res.RecentMessages)
	}
	if res.Channel.ID != "general" || res.Channel.MemberCount != 2 {
		t.Fatalf("channel summary = %+v", res.Channel)
	}
}

func TestPrivateChannelsLookMissingOnEveryReadPath(t *testing.T) {
	h := newHarness(t)
	h.user("alice")
	h.user("bob")
	h.channel(models.Channel{ID: "secret", IsPrivate: true})
	h.member("secret", "bob", models.RoleMember)
	h.connect(t, "a1", "alice")
	h.connect(t, "b1", "bob")
	ctx := context.Background()

	paths := []struct {
		name string
		call func(channelID string) error
	}{
		{"join", func(id string) error {
			_, err := h.svc.Join(ctx, "a1", id, nil)
			return err
		}},
		{"enroll", func(id string) error {
			_, err := h.svc.Enroll(ctx, "alice", id)
			return err
		}},
		{"typing", func(id string) error {
			return h.svc.StartTyping(ctx, "a1", "channel", id)
		}},
		{"history", func(id string) error {
			_, err := h.svc.History(ctx, "alice", "channel", id, nil, 0)
			return err
		}},
	}

	for _, p := range paths {
		t.Run(p.name, func(t *testing.T) {
			errPrivate := p.call("secret")
			errMissing := p.call("missing")
			wantCode(t, errPrivate, CodeNotAuthorized)
			wantCode(t, errMissing, CodeNotAuthorized)
			if AsRejection(errPrivate).Message != AsRejection(errMissing).Message {
				t.Fatalf("private and missing channels are distinguishable: %q vs %q", errPrivate, errMissing)
			}
		})
	}

	h.join(t, "b1", "secret")
}

func TestPresenceFollowsFirstAndLastDevice(t *testing.T) {
	h := newHarness(t)
	h.user("alice")
	h.user("bob")
	h.channel(models.Channel{ID: "general"})
	b1 := h.connect(t, "b1", "bob")
	h.connect(t, "a1", "alice")
	h.connect(t, "a2", "alice")
	h.join(t, "b1", "general")

	h.join(t, "a1", "general")
	h.join(t, "a2", "general")
	h.join(t, "a1", "general")
	if n := len(b1.named(EventUserJoinedChannel)); n != 1 {
		t.Fatalf("bob saw %d joins, want 1", n)
	}

	if _, err := h.svc.Leave(context.Background(), "a1", "general"); err != nil {
		t.Fatal(err)
	}
	if n := len(b1.named(EventUserLeftChannel)); n != 0 {
		t.Fatal("leave announced while another device is still in")
	}
	h.svc.Disconnect("a2")
	if n := len(b1.named(EventUserLeftChannel)); n != 1 {
		t.Fatalf("bob saw %d leaves, want 1", n)
	}
	if h.registry.Count() != 2 {
		t.Fatalf("registry count = %d", h.registry.Count())
	}
}

func TestRevokedSessionAnnouncesDeparture(t *testing.T) {
	h := newHarness(t)
	h.user("alice")
	h.user("bob")
	h.channel(models.Channel{ID: "general"})
	a1 := h.connect(t, "a1", "alice")
	b1 := h.connect(t, "b1", "bob")
	h.join(t, "a1", "general")
	h.join(t, "b1", "general")

	if n := h.svc.DisconnectSession("sess-b1"); n != 1 {
		t.Fatalf("disconnected %d connections", n)
	}
	if b1.closed == 0 {
		t.Fatal("revoked connection was not closed")
	}
	// The transport still runs its own cleanup once the socket ends.
	h.svc.Disconnect("b1")

	left := a1.named(EventUserLeftChannel)
	if len(left) != 1 {
		t.Fatalf("alice saw %d departures, want 1", len(left))
	}
	var p PresencePayload
	if err := json.Unmarshal(left[0].Data, &p); err != nil {
		t.Fatal(err)
	}
	if p.User.ID != "bob" || p.ChannelID != "general" {
		t.Fatalf("departure payload %+v", p)
	}
	if online := h.registry.OnlineUsers(realtime.TargetKey(models.TargetChannel, "general")); len(online) != 1 {
		t.Fatalf("online = %v", online)
	}
}

func TestConcurrentEnrollRespectsMaxMembers(t *testing.T) {
	h := newHarness(t)
	h.user("alice")
	h.channel(models.Channel{ID: "tiny", MaxMembers: 2})
	h.member("tiny", "alice", models.RoleAdmin)

	users := []string{"u1", "u2", "u3", "u4", "u5", "u6"}
	for _, u := range users {
		h.user(u)
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		joined int
	)
	for _, u := range users {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, err := h.svc.Enroll(context.Background(), userID, "tiny")
			if err == nil {
				mu.Lock()
				joined++
				mu.Unlock()
				return
			}
			if AsRejection(err).Code != CodeNotAuthorized {
				t.Errorf("%s: %v", userID, err)
			}
		}(u)
	}
	wg.Wait()

	if joined != 1 {
		t.Fatalf("%d users joined a channel with one free seat", joined)
	}
	ch, _ := h.channels.GetByID(context.Background(), "tiny")
	if ch.MemberCount != 2 {
		t.Fatalf("member count = %d", ch.MemberCount)
	}
}

func TestModeratorKicksMemberButNotAdmin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, u := range []string{"alice", "bob", "carol"} {
		h.user(u)
	}
	h.channel(models.Channel{ID: "general"})
	h.member("general", "alice", models.RoleAdmin)
	h.member("general", "bob", models.RoleMember)
	h.member("general", "carol", models.RoleMember)
	a1 := h.connect(t, "a1", "alice")
	c1 := h.connect(t, "c1", "carol")
	h.join(t, "a1", "general")
	h.join(t, "c1", "general")

	m, err := h.svc.Promote(ctx, "alice", "general", "bob")
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if m.Role != models.RoleModerator {
		t.Fatalf("bob is %s", m.Role)
	}

	_, err = h.svc.Promote(ctx, "bob", "general", "carol")
	wantCode(t, err, CodeNotAuthorized)
	wantCode(t, h.svc.Kick(ctx, "bob", "general", "alice"), CodeNotAuthorized)

	if err := h.svc.Kick(ctx, "bob", "general", "carol"); err != nil {
		t.Fatalf("moderator kick: %v", err)
	}
	left := c1.named(EventChannelLeft)
	if len(left) != 1 {
		t.Fatalf("carol got %d channel_left", len(left))
	}
	var cl ChannelLeft
	if err := json.Unmarshal(left[0].Data, &cl); err != nil {
		t.Fatal(err)
	}
	if cl.Reason != LeftKicked || cl.ChannelID != "general" {
		t.Fatalf("channel_left = %+v", cl)
	}
	if h.registry.IsSubscribed("c1", realtime.TargetKey(models.TargetChannel, "general")) {
		t.Fatal("kicked connection still subscribed")
	}

	_, err = h.send("c1", "channel", "general", "let me back")
	wantCode(t, err, CodeNotAuthorized)

	var system []MessagePayload
	for _, msg := range a1.received(t) {
		if msg.MessageType == models.MessageSystem {
			system = append(system, msg)
		}
	}
	if len(system) != 2 {
		t.Fatalf("admin saw %d system messages, want promote and kick", len(system))
	}
}

func TestAdminsCannotDisciplineEachOther(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.user("alice")
	h.user("dave")
	h.channel(models.Channel{ID: "general"})
	h.member("general", "alice", models.RoleAdmin)
	h.member("general", "dave", models.RoleAdmin)

	wantCode(t, h.svc.Kick(ctx, "alice", "general", "dave"), CodeNotAuthorized)
	_, err := h.svc.Mute(ctx, "dave", "general", "alice")
	wantCode(t, err, CodeNotAuthorized)
	_, err = h.svc.Demote(ctx, "alice", "general", "dave")
	wantCode(t, err, CodeNotAuthorized)
	wantCode(t, h.svc.Kick(ctx, "alice", "general", "alice"), CodeValidation)
}

func TestMutedMemberIsSilencedUntilUnmuted(t *testing.T) {
	h, _ := generalWith(t)
	ctx := context.Background()

	if _, err := h.svc.Mute(ctx, "alice", "general", "bob"); err != nil {
		t.Fatalf("mute: %v", err)
	}
	_, err := h.send("b1", "channel", "general", "hello?")
	wantCode(t, err, CodeNotAuthorized)

	if _, err := h.svc.Unmute(ctx, "alice", "general", "bob"); err != nil {
		t.Fatalf("unmute: %v", err)
	}
	if _, err := h.send("b1", "channel", "general", "back"); err != nil {
		t.Fatalf("send after unmute: %v", err)
	}
}

func TestEnrollAndWithdraw(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, u := range []string{"alice", "bob", "carol"} {
		h.user(u)
	}
	h.channel(models.Channel{ID: "general"})
	h.channel(models.Channel{ID: "secret", IsPrivate: true})
	h.channel(models.Channel{ID: "tiny", MaxMembers: 1})
	h.member("general", "alice", models.RoleAdmin)
	h.member("tiny", "alice", models.RoleAdmin)

	m, err := h.svc.Enroll(ctx, "bob", "general")
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if m.Role != models.RoleMember {
		t.Fatalf("new member role %s", m.Role)
	}
	_, err = h.svc.Enroll(ctx, "bob", "general")
	wantCode(t, err, CodeValidation)
	_, err = h.svc.Enroll(ctx, "bob", "secret")
	wantCode(t, err, CodeNotAuthorized)
	_, err = h.svc.Enroll(ctx, "bob", "tiny")
	wantCode(t, err, CodeNotAuthorized)

	wantCode(t, h.svc.Withdraw(ctx, "alice", "general"), CodeValidation)
	if err := h.svc.Withdraw(ctx, "bob", "general"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if err := h.svc.Withdraw(ctx, "alice", "general"); err != nil {
		t.Fatalf("last member may leave: %v", err)
	}
	wantCode(t, h.svc.Withdraw(ctx, "carol", "general"), CodeNotAuthorized)
}

func TestEditAndDelete(t *testing.T) {
	h, conns := generalWith(t)
	ctx := context.Background()
	h.member("general", "carol", models.RoleMember)

	ack, err := h.send("b1", "channel", "general", "typo")
	if err != nil {
		t.Fatal(err)
	}

	_, err = h.svc.Edit(ctx, "alice", ack.MessageID, "not yours")
	wantCode(t, err, CodeNotAuthorized)
	edited, err := h.svc.Edit(ctx, "bob", ack.MessageID, "fixed")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if *edited.Content != "fixed" || edited.EditedAt == nil {
		t.Fatalf("edited = %+v", edited)
	}
	if n := len(conns["a2"].named(EventMessageEdited)); n != 1 {
		t.Fatalf("a2 saw %d edits", n)
	}

	wantCode(t, h.svc.Delete(ctx, "carol", ack.MessageID), CodeNotAuthorized)
	if err := h.svc.Delete(ctx, "alice", ack.MessageID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if n := len(conns["b1"].named(EventMessageDeleted)); n != 1 {
		t.Fatalf("b1 saw %d deletes", n)
	}
	wantCode(t, h.svc.Delete(ctx, "bob", ack.MessageID), CodeTargetNotFound)
	_, err = h.svc.Edit(ctx, "bob", ack.MessageID, "again")
	wantCode(t, err, CodeTargetNotFound)

	history, err := h.svc.History(ctx, "bob", "channel", "general", nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || !history[0].IsDeleted || history[0].Content != nil {
		t.Fatalf("history = %+v", history)
	}
}

func TestGlobalPermissionDeletesDirectMessages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.user("alice")
	h.user("bob")
	h.user("mod")
	h.users.perms["mod"] = models.Permissions{models.PermissionDeleteMessages: true}
	h.connect(t, "a1", "alice")

	ack, err := h.send("a1", "direct", "bob", "spam")
	if err != nil {
		t.Fatal(err)
	}
	wantCode(t, h.svc.Delete(ctx, "bob", ack.MessageID), CodeNotAuthorized)
	if err := h.svc.Delete(ctx, "mod", ack.MessageID); err != nil {
		t.Fatalf("permission holder delete: %v", err)
	}
}
