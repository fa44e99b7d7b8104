package agent

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// GroupEvent is one message broadcast within a group.
type GroupEvent struct {
	GroupID   string         `json:"group_id"`
	FromDID   string         `json:"from_did"`
	Content   map[string]any `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
}

// group is one broadcast group owned by an agent.
type group struct {
	id          string
	members     map[string]bool
	subscribers map[chan GroupEvent]bool
}

// GroupManager holds the broadcast groups an agent owns. Members join and
// leave by DID; connected members receive broadcast events over a channel
// suited to Server-Sent Event streaming.
type GroupManager struct {
	mu     sync.Mutex
	groups map[string]*group
	closed bool
}

// NewGroupManager creates an empty group manager.
func NewGroupManager() *GroupManager {
	return &GroupManager{groups: make(map[string]*group)}
}

func (m *GroupManager) getOrCreate(groupID string) *group {
	g, ok := m.groups[groupID]
	if !ok {
		g = &group{
			id:          groupID,
			members:     make(map[string]bool),
			subscribers: make(map[chan GroupEvent]bool),
		}
		m.groups[groupID] = g
	}
	return g
}

// Join adds a member to the group, creating the group on first join.
func (m *GroupManager) Join(groupID, memberDID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("group manager is closed")
	}
	m.getOrCreate(groupID).members[memberDID] = true
	return nil
}

// Leave removes a member. Leaving an unknown group is a no-op.
func (m *GroupManager) Leave(groupID, memberDID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g, ok := m.groups[groupID]; ok {
		delete(g.members, memberDID)
	}
	return nil
}

// Members returns the member DIDs of the group.
func (m *GroupManager) Members(groupID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[groupID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.members))
	for did := range g.members {
		out = append(out, did)
	}
	return out
}

// IsMember reports whether the DID has joined the group.
func (m *GroupManager) IsMember(groupID, memberDID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[groupID]
	return ok && g.members[memberDID]
}

// Post broadcasts a message to every connected subscriber of the group.
// Only members may post. Slow subscribers are skipped rather than blocking
// the sender.
func (m *GroupManager) Post(groupID, fromDID string, content map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[groupID]
	if !ok || !g.members[fromDID] {
		return fmt.Errorf("%q is not a member of group %q", fromDID, groupID)
	}

	event := GroupEvent{
		GroupID:   groupID,
		FromDID:   fromDID,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}

	for ch := range g.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Connect subscribes a member to the group's event stream. The subscription
// ends when the context is cancelled.
func (m *GroupManager) Connect(ctx context.Context, groupID, memberDID string) (<-chan GroupEvent, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("group manager is closed")
	}

	g, ok := m.groups[groupID]
	if !ok || !g.members[memberDID] {
		m.mu.Unlock()
		return nil, fmt.Errorf("%q is not a member of group %q", memberDID, groupID)
	}

	ch := make(chan GroupEvent, 16)
	g.subscribers[ch] = true
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		// Close only if still subscribed; Close() may have beaten us to it.
		if g, ok := m.groups[groupID]; ok && g.subscribers[ch] {
			delete(g.subscribers, ch)
			close(ch)
		}
		m.mu.Unlock()
	}()

	return ch, nil
}

// Close tears down every group and disconnects all subscribers. Called when
// the owning agent is unregistered.
func (m *GroupManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	for _, g := range m.groups {
		for ch := range g.subscribers {
			close(ch)
		}
		g.subscribers = make(map[chan GroupEvent]bool)
	}
	m.groups = make(map[string]*group)
}
