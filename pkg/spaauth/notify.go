package spaauth

import (
	"context"
	"sync"
)

// EventKind names the token-store slot a change event refers to.
type EventKind string

const (
	EventAccessToken  EventKind = "access_token"
	EventIDToken      EventKind = "id_token"
	EventRefreshToken EventKind = "refresh_token"
	EventCleared      EventKind = "cleared"
)

// Event describes a token-store mutation. Subscribers typically use these
// to re-render authentication state in the hosting application.
type Event struct {
	Authority string
	Kind      EventKind

	// Resource is set for access-token events.
	Resource string
}

// Notifier fans token-change events out to registered observers.
// Callbacks run synchronously on the mutating flow; keep them fast.
type Notifier struct {
	mu   sync.RWMutex
	subs map[int]func(Event)
	next int
}

// NewNotifier returns a notifier with no subscribers.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]func(Event))}
}

// Subscribe registers fn and returns its cancel function.
func (n *Notifier) Subscribe(fn func(Event)) (cancel func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.next
	n.next++
	n.subs[id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

func (n *Notifier) publish(e Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, fn := range n.subs {
		fn(e)
	}
}

// notifyingTokenStore decorates a TokenStore so every successful mutation
// publishes a change event. Keeping the hook here means the exchanger and
// refresher cannot forget to notify.
type notifyingTokenStore struct {
	TokenStore

	authority string
	notifier  *Notifier
}

func (s *notifyingTokenStore) SetAccessToken(ctx context.Context, resource string, tc TokenContainer) error {
	if err := s.TokenStore.SetAccessToken(ctx, resource, tc); err != nil {
		return err
	}
	s.notifier.publish(Event{Authority: s.authority, Kind: EventAccessToken, Resource: resource})
	return nil
}

func (s *notifyingTokenStore) SetIDToken(ctx context.Context, tc TokenContainer) error {
	if err := s.TokenStore.SetIDToken(ctx, tc); err != nil {
		return err
	}
	s.notifier.publish(Event{Authority: s.authority, Kind: EventIDToken})
	return nil
}

func (s *notifyingTokenStore) SetRefreshToken(ctx context.Context, token string) error {
	if err := s.TokenStore.SetRefreshToken(ctx, token); err != nil {
		return err
	}
	s.notifier.publish(Event{Authority: s.authority, Kind: EventRefreshToken})
	return nil
}

func (s *notifyingTokenStore) Clear(ctx context.Context) error {
	if err := s.TokenStore.Clear(ctx); err != nil {
		return err
	}
	s.notifier.publish(Event{Authority: s.authority, Kind: EventCleared})
	return nil
}
