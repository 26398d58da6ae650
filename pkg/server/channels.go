package server

import (
	"sort"
	"sync"

	"github.com/NicolasHaas/ircline/pkg/model"
)

// ChannelRegistry manages chat channels and their members. Channels exist
// only while they have members, except the global channel which is always
// present. Membership is keyed by channel name and session ID.
type ChannelRegistry struct {
	mu      sync.RWMutex
	members map[string]map[uint32]bool // channel name -> set of sessionIDs
}

// NewChannelRegistry creates a registry with the global channel pre-created
// so PRIVMSG to it works before anyone joins.
func NewChannelRegistry() *ChannelRegistry {
	return &ChannelRegistry{
		members: map[string]map[uint32]bool{
			model.GlobalChatName: make(map[uint32]bool),
		},
	}
}

// Subscribe adds a session to a channel, creating the channel on first join.
// A session may be in any number of channels at once.
func (cr *ChannelRegistry) Subscribe(channel string, sessionID uint32) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	if _, ok := cr.members[channel]; !ok {
		cr.members[channel] = make(map[uint32]bool)
	}
	cr.members[channel][sessionID] = true
}

// Unsubscribe removes a session from one channel. Empty channels other than
// the global one are deleted.
func (cr *ChannelRegistry) Unsubscribe(channel string, sessionID uint32) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.unsubscribeLocked(channel, sessionID)
}

// UnsubscribeAll removes a session from every channel it is in and returns
// the names of the channels it was removed from.
func (cr *ChannelRegistry) UnsubscribeAll(sessionID uint32) []string {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	var left []string
	for name, sessions := range cr.members {
		if sessions[sessionID] {
			left = append(left, name)
		}
	}
	for _, name := range left {
		cr.unsubscribeLocked(name, sessionID)
	}
	sort.Strings(left)
	return left
}

func (cr *ChannelRegistry) unsubscribeLocked(channel string, sessionID uint32) {
	sessions, ok := cr.members[channel]
	if !ok {
		return
	}
	delete(sessions, sessionID)
	if len(sessions) == 0 && channel != model.GlobalChatName {
		delete(cr.members, channel)
	}
}

// Exists reports whether the channel currently exists in the registry.
func (cr *ChannelRegistry) Exists(channel string) bool {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	_, ok := cr.members[channel]
	return ok
}

// Members returns all session IDs in a channel.
func (cr *ChannelRegistry) Members(channel string) []uint32 {
	cr.mu.RLock()
	defer cr.mu.RUnlock()

	sessions := cr.members[channel]
	result := make([]uint32, 0, len(sessions))
	for sid := range sessions {
		result = append(result, sid)
	}
	return result
}

// MembersCount returns how many sessions are in a channel.
func (cr *ChannelRegistry) MembersCount(channel string) int {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	return len(cr.members[channel])
}

// Channels returns the names of all live channels, sorted.
func (cr *ChannelRegistry) Channels() []string {
	cr.mu.RLock()
	defer cr.mu.RUnlock()

	names := make([]string, 0, len(cr.members))
	for name := range cr.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
