package authz

import (
	"testing"

	"dankerchat/backend/internal/models"
)

func member(channelID, userID string, role models.MemberRole) models.Membership {
	return models.Membership{ChannelID: channelID, UserID: userID, Role: role}
}

func ptr(m models.Membership) *models.Membership { return &m }

func strPtr(s string) *string { return &s }

func TestChannelReadSend(t *testing.T) {
	public := models.Channel{ID: "c1"}
	private := models.Channel{ID: "c2", IsPrivate: true}
	archived := models.Channel{ID: "c3", IsArchived: true}

	in1 := ptr(member("c1", "u1", models.RoleMember))
	in2 := ptr(member("c2", "u1", models.RoleMember))
	muted := ptr(models.Membership{ChannelID: "c1", UserID: "u1", Role: models.RoleAdmin, Muted: true})
	in3 := ptr(member("c3", "u1", models.RoleAdmin))

	cases := []struct {
		name       string
		ch         models.Channel
		m          *models.Membership
		read, send bool
	}{
		{"public outsider", public, nil, true, false},
		{"public member", public, in1, true, true},
		{"private outsider", private, nil, false, false},
		{"private member", private, in2, true, true},
		{"private with foreign membership", private, in1, false, false},
		{"muted admin", public, muted, true, false},
		{"archived member", archived, in3, true, false},
	}
	for _, tc := range cases {
		if got := CanReadChannel(tc.ch, tc.m); got != tc.read {
			t.Errorf("%s: CanReadChannel = %v, want %v", tc.name, got, tc.read)
		}
		if got := CanSendChannel(tc.ch, tc.m); got != tc.send {
			t.Errorf("%s: CanSendChannel = %v, want %v", tc.name, got, tc.send)
		}
		if VisibleInListing(tc.ch, tc.m) != CanReadChannel(tc.ch, tc.m) {
			t.Errorf("%s: listing visibility diverges from read access", tc.name)
		}
	}
}

func TestCanJoinChannel(t *testing.T) {
	if !CanJoinChannel(models.Channel{ID: "c"}, nil) {
		t.Error("public channel should be joinable")
	}
	if CanJoinChannel(models.Channel{ID: "c", IsPrivate: true}, nil) {
		t.Error("private channel joinable without invite")
	}
	if CanJoinChannel(models.Channel{ID: "c", MaxMembers: 2, MemberCount: 2}, nil) {
		t.Error("full channel joinable")
	}
	if CanJoinChannel(models.Channel{ID: "c"}, ptr(member("c", "u", models.RoleMember))) {
		t.Error("existing member joined twice")
	}
}

func TestConversationAccess(t *testing.T) {
	conv := models.Conversation{ID: "d1", Participant1: "a", Participant2: "b"}

	if !CanReadConversation("a", conv) || !CanReadConversation("b", conv) {
		t.Error("participants must read")
	}
	if CanReadConversation("c", conv) {
		t.Error("outsider read conversation")
	}
	if !CanSendConversation("a", conv, true) {
		t.Error("participant should send to active recipient")
	}
	if CanSendConversation("a", conv, false) {
		t.Error("sent to inactive recipient")
	}
	if CanSendConversation("c", conv, true) {
		t.Error("outsider sent to conversation")
	}

	self := models.Conversation{ID: "d2", Participant1: "a", Participant2: "a"}
	if CanSendConversation("a", self, true) {
		t.Error("sent to self")
	}
}

func TestCanManageMember(t *testing.T) {
	admin := member("c", "admin", models.RoleAdmin)
	admin2 := member("c", "admin2", models.RoleAdmin)
	mod := member("c", "mod", models.RoleModerator)
	mod2 := member("c", "mod2", models.RoleModerator)
	plain := member("c", "plain", models.RoleMember)
	plain2 := member("c", "plain2", models.RoleMember)
	elsewhere := member("other", "x", models.RoleMember)

	cases := []struct {
		name          string
		actor, target models.Membership
		want          bool
	}{
		{"admin manages moderator", admin, mod, true},
		{"admin manages member", admin, plain, true},
		{"admin manages self", admin, admin, true},
		{"admin cannot manage admin", admin, admin2, false},
		{"admins are mutually immune", admin2, admin, false},
		{"moderator manages member", mod, plain, true},
		{"moderator cannot kick admin", mod, admin, false},
		{"moderator cannot manage moderator", mod, mod2, false},
		{"member manages nobody", plain, plain2, false},
		{"cross channel", admin, elsewhere, false},
		{"moderator cannot manage self", mod, mod, false},
		{"unknown actor role", member("c", "ghost", models.MemberRole(9)), plain, false},
		{"unknown target role", admin, member("c", "ghost", models.MemberRole(0)), false},
	}
	for _, tc := range cases {
		if got := CanManageMember(tc.actor, tc.target); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCanAssignRole(t *testing.T) {
	admin := member("c", "admin", models.RoleAdmin)
	mod := member("c", "mod", models.RoleModerator)
	plain := member("c", "plain", models.RoleMember)

	if !CanAssignRole(admin, plain, models.RoleModerator) {
		t.Error("admin should promote member")
	}
	if !CanAssignRole(admin, mod, models.RoleAdmin) {
		t.Error("admin should promote moderator to admin")
	}
	if CanAssignRole(mod, plain, models.RoleModerator) {
		t.Error("moderator granted a role equal to its own")
	}
	if CanAssignRole(admin, plain, models.MemberRole(0)) {
		t.Error("assigned an invalid role")
	}
}

func TestMessageModeration(t *testing.T) {
	msg := models.Message{ID: "m", SenderID: "a", Type: models.MessageText, ChannelID: strPtr("c")}
	mod := ptr(member("c", "m1", models.RoleModerator))
	plain := ptr(member("c", "p1", models.RoleMember))
	foreignMod := ptr(member("x", "m2", models.RoleModerator))

	if !CanModerateMessages(mod) || CanModerateMessages(plain) || CanModerateMessages(nil) {
		t.Error("CanModerateMessages role check wrong")
	}

	if !CanEditMessage("a", msg) {
		t.Error("sender cannot edit own text")
	}
	if CanEditMessage("b", msg) {
		t.Error("non-sender edited")
	}
	sys := msg
	sys.Type = models.MessageSystem
	if CanEditMessage("a", sys) {
		t.Error("system message edited")
	}

	if !CanDeleteMessage("a", msg, nil, nil) {
		t.Error("sender cannot delete own message")
	}
	if !CanDeleteMessage("m1", msg, mod, nil) {
		t.Error("moderator cannot delete")
	}
	if CanDeleteMessage("p1", msg, plain, nil) {
		t.Error("plain member deleted someone else's message")
	}
	if CanDeleteMessage("m2", msg, foreignMod, nil) {
		t.Error("moderator of another channel deleted")
	}
	if !CanDeleteMessage("z", msg, nil, models.Permissions{models.PermissionDeleteMessages: true}) {
		t.Error("global delete permission ignored")
	}

	deleted := msg
	deleted.IsDeleted = true
	if CanDeleteMessage("a", deleted, nil, nil) || CanEditMessage("a", deleted) {
		t.Error("deleted message mutated again")
	}

	dm := models.Message{ID: "d", SenderID: "a", Type: models.MessageText, ConversationID: strPtr("d1")}
	if CanDeleteMessage("b", dm, nil, nil) {
		t.Error("recipient deleted a direct message")
	}
}
