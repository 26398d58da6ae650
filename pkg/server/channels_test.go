package server

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/ircline/pkg/model"
)

func TestChannelRegistryLifecycle(t *testing.T) {
	cr := NewChannelRegistry()

	if !cr.Exists(model.GlobalChatName) {
		t.Fatal("global channel missing from fresh registry")
	}
	if cr.Exists("#room") {
		t.Fatal("unexpected channel in fresh registry")
	}

	cr.Subscribe("#room", 1)
	cr.Subscribe("#room", 2)
	cr.Subscribe("#other", 1)

	if got := cr.MembersCount("#room"); got != 2 {
		t.Errorf("MembersCount(#room) = %d, want 2", got)
	}
	if diff := cmp.Diff([]string{model.GlobalChatName, "#other", "#room"}, cr.Channels()); diff != "" {
		t.Errorf("Channels mismatch (-want +got):\n%s", diff)
	}

	cr.Unsubscribe("#room", 2)
	if !cr.Exists("#room") {
		t.Error("channel deleted while it still had a member")
	}

	cr.Unsubscribe("#room", 1)
	if cr.Exists("#room") {
		t.Error("empty channel not deleted")
	}
}

func TestChannelRegistryUnsubscribeAll(t *testing.T) {
	cr := NewChannelRegistry()

	cr.Subscribe("#a", 7)
	cr.Subscribe("#b", 7)
	cr.Subscribe("#b", 8)
	cr.Subscribe(model.GlobalChatName, 7)

	left := cr.UnsubscribeAll(7)
	if diff := cmp.Diff([]string{"#a", "#b", model.GlobalChatName}, left); diff != "" {
		t.Errorf("UnsubscribeAll mismatch (-want +got):\n%s", diff)
	}

	if cr.Exists("#a") {
		t.Error("#a not deleted after its only member left")
	}
	if got := cr.MembersCount("#b"); got != 1 {
		t.Errorf("MembersCount(#b) = %d, want 1", got)
	}
	if !cr.Exists(model.GlobalChatName) {
		t.Error("global channel deleted when it emptied")
	}
}

func TestChannelRegistrySubscribeIsIdempotent(t *testing.T) {
	cr := NewChannelRegistry()

	cr.Subscribe("#room", 1)
	cr.Subscribe("#room", 1)

	if got := cr.MembersCount("#room"); got != 1 {
		t.Errorf("MembersCount after double join = %d, want 1", got)
	}
}
