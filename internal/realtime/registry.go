package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dankerchat/backend/internal/metrics"
	"dankerchat/backend/internal/models"
)

const CloseSessionRevoked = 4001

var (
	ErrRegistryClosed = errors.New("registry closed")
	ErrNotRegistered  = errors.New("connection not registered")
	ErrDuplicateConn  = errors.New("connection already registered")
)

// Event is the envelope written to clients.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// Sink is the outbound half of a live connection. Send must not block.
type Sink interface {
	ID() string
	Send(payload []byte) error
	Close(code int, reason string)
}

// Client describes who is behind a registered connection.
type Client struct {
	ConnID    string
	UserID    string
	SessionID string
	Profile   models.Profile
	ExpiresAt time.Time
}

// TargetKey names a subscription target.
func TargetKey(t models.TargetType, id string) string {
	return string(t) + ":" + id
}

type entry struct {
	sink    Sink
	client  Client
	targets map[string]struct{}
	typing  map[string]time.Time
}

// Registry indexes live connections by user, session and subscribed target.
// It holds no durable state.
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]*entry
	users    map[string]map[string]struct{}
	sessions map[string]map[string]struct{}
	targets  map[string]map[string]struct{}
	closed   bool
}

func NewRegistry() *Registry {
	return &Registry{
		conns:    make(map[string]*entry),
		users:    make(map[string]map[string]struct{}),
		sessions: make(map[string]map[string]struct{}),
		targets:  make(map[string]map[string]struct{}),
	}
}

func (r *Registry) Register(sink Sink, client Client) error {
	client.ConnID = sink.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if _, ok := r.conns[client.ConnID]; ok {
		return ErrDuplicateConn
	}

	r.conns[client.ConnID] = &entry{
		sink:    sink,
		client:  client,
		targets: make(map[string]struct{}),
		typing:  make(map[string]time.Time),
	}
	addIndex(r.users, client.UserID, client.ConnID)
	addIndex(r.sessions, client.SessionID, client.ConnID)
	metrics.LiveConnections.Inc()
	return nil
}

// Detached is what a connection held at the moment it left the registry.
type Detached struct {
	Client  Client
	Targets []string
}

func (e *entry) detached() Detached {
	targets := make([]string, 0, len(e.targets))
	for target := range e.targets {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	return Detached{Client: e.client, Targets: targets}
}

// Unregister drops the connection and all its subscriptions. It does not close the sink.
func (r *Registry) Unregister(connID string) bool {
	_, ok := r.Detach(connID)
	return ok
}

// Detach is Unregister that also reports what the connection was subscribed to.
func (r *Registry) Detach(connID string) (Detached, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.detachLocked(connID)
	if e == nil {
		return Detached{}, false
	}
	return e.detached(), true
}

func (r *Registry) detachLocked(connID string) *entry {
	e, ok := r.conns[connID]
	if !ok {
		return nil
	}
	for target := range e.targets {
		removeIndex(r.targets, target, connID)
	}
	removeIndex(r.users, e.client.UserID, connID)
	removeIndex(r.sessions, e.client.SessionID, connID)
	delete(r.conns, connID)
	metrics.LiveConnections.Dec()
	return e
}

func (r *Registry) Lookup(connID string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[connID]
	if !ok {
		return Client{}, false
	}
	return e.client, true
}

// Subscribe reports whether the subscription is new and whether connID is
// the first of its user's connections on target.
func (r *Registry) Subscribe(connID, target string) (added, firstForUser bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	if !ok {
		return false, false, ErrNotRegistered
	}
	if _, ok := e.targets[target]; ok {
		return false, false, nil
	}
	firstForUser = !r.userOnTargetLocked(e.client.UserID, target, connID)
	e.targets[target] = struct{}{}
	addIndex(r.targets, target, connID)
	return true, firstForUser, nil
}

func (r *Registry) Unsubscribe(connID, target string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	if !ok {
		return false
	}
	if _, ok := e.targets[target]; !ok {
		return false
	}
	delete(e.targets, target)
	delete(e.typing, target)
	removeIndex(r.targets, target, connID)
	return true
}

// UnsubscribeUser removes every connection of userID from target and returns them.
func (r *Registry) UnsubscribeUser(userID, target string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for connID := range r.users[userID] {
		e := r.conns[connID]
		if _, ok := e.targets[target]; !ok {
			continue
		}
		delete(e.targets, target)
		delete(e.typing, target)
		removeIndex(r.targets, target, connID)
		out = append(out, connID)
	}
	return out
}

func (r *Registry) IsSubscribed(connID, target string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[connID]
	if !ok {
		return false
	}
	_, ok = e.targets[target]
	return ok
}

// UserSubscribed reports whether any connection of userID other than exclude is on target.
func (r *Registry) UserSubscribed(userID, target, exclude string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.userOnTargetLocked(userID, target, exclude)
}

func (r *Registry) userOnTargetLocked(userID, target, exclude string) bool {
	for connID := range r.targets[target] {
		if connID != exclude && r.conns[connID].client.UserID == userID {
			return true
		}
	}
	return false
}

// FanoutTargets lists connections subscribed to target, minus exclude.
func (r *Registry) FanoutTargets(target, exclude string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.targets[target]))
	for connID := range r.targets[target] {
		if connID != exclude {
			out = append(out, connID)
		}
	}
	sort.Strings(out)
	return out
}

// OtherDevices lists the user's connections except exclude.
func (r *Registry) OtherDevices(userID, exclude string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.users[userID]))
	for connID := range r.users[userID] {
		if connID != exclude {
			out = append(out, connID)
		}
	}
	sort.Strings(out)
	return out
}

// OnlineUsers returns the distinct users with a connection subscribed to target.
func (r *Registry) OnlineUsers(target string) []models.Profile {
	r.mu.RLock()
	seen := make(map[string]models.Profile)
	for connID := range r.targets[target] {
		c := r.conns[connID].client
		seen[c.UserID] = c.Profile
	}
	r.mu.RUnlock()

	out := make([]models.Profile, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllowTyping records a start-typing broadcast for (connection, target) unless
// one already went out within window.
func (r *Registry) AllowTyping(connID, target string, window time.Duration, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	if !ok {
		return false
	}
	if last, ok := e.typing[target]; ok && now.Sub(last) < window {
		return false
	}
	e.typing[target] = now
	return true
}

func (r *Registry) ClearTyping(connID, target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[connID]; ok {
		delete(e.typing, target)
	}
}

// DisconnectSession unregisters and closes every connection bound to sessionID.
func (r *Registry) DisconnectSession(sessionID string) int {
	return len(r.DetachSession(sessionID))
}

// DetachSession unregisters and closes every connection bound to sessionID and
// returns what each one was subscribed to.
func (r *Registry) DetachSession(sessionID string) []Detached {
	r.mu.Lock()
	var dropped []*entry
	for connID := range r.sessions[sessionID] {
		if e := r.detachLocked(connID); e != nil {
			dropped = append(dropped, e)
		}
	}
	r.mu.Unlock()

	out := make([]Detached, 0, len(dropped))
	for _, e := range dropped {
		e.sink.Close(CloseSessionRevoked, "session revoked")
		out = append(out, e.detached())
	}
	return out
}

// SendTo delivers a single event to one connection.
func (r *Registry) SendTo(connID string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Name, err)
	}
	r.mu.RLock()
	e, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return ErrNotRegistered
	}
	return e.sink.Send(payload)
}

// Deliver encodes ev once and hands it to each connection. Failures are counted, not retried.
func (r *Registry) Deliver(connIDs []string, ev Event) (delivered int, dropped int) {
	if len(connIDs) == 0 {
		return 0, 0
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return 0, len(connIDs)
	}

	r.mu.RLock()
	sinks := make([]Sink, 0, len(connIDs))
	for _, id := range connIDs {
		if e, ok := r.conns[id]; ok {
			sinks = append(sinks, e.sink)
		}
	}
	r.mu.RUnlock()

	dropped = len(connIDs) - len(sinks)
	for _, s := range sinks {
		if err := s.Send(payload); err != nil {
			dropped++
			continue
		}
		delivered++
	}
	metrics.FanoutDeliveries.WithLabelValues("delivered").Add(float64(delivered))
	metrics.FanoutDeliveries.WithLabelValues("dropped").Add(float64(dropped))
	return delivered, dropped
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Close refuses new registrations and closes every live connection.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	all := make([]*entry, 0, len(r.conns))
	for connID := range r.conns {
		all = append(all, r.detachLocked(connID))
	}
	r.mu.Unlock()

	for _, e := range all {
		e.sink.Close(websocket.CloseGoingAway, "server shutting down")
	}
}

func addIndex(idx map[string]map[string]struct{}, key, connID string) {
	set := idx[key]
	if set == nil {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[connID] = struct{}{}
}

func removeIndex(idx map[string]map[string]struct{}, key, connID string) {
	set := idx[key]
	if set == nil {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(idx, key)
	}
}
