package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finease/internal/kv"
)

// StorageKey is the fixed key of the durable identity record.
const StorageKey = "finease_mock_user"

// MockProvider accepts any well-formed credentials and keeps exactly one
// identity, persisted in a kv.Store.
type MockProvider struct {
	store kv.Store
	key   string
	log   zerolog.Logger

	// opMu serialises mutations with their notifications.
	opMu sync.Mutex

	mu        sync.RWMutex
	current   *Identity
	listeners map[uint64]Listener
	nextID    uint64
}

// NewMockProvider reads the durable record once and returns a ready provider.
// A corrupt or unreadable record is logged and treated as signed out.
func NewMockProvider(ctx context.Context, store kv.Store, log zerolog.Logger) *MockProvider {
	p := &MockProvider{
		store:     store,
		key:       StorageKey,
		log:       log.With().Str("component", "session").Logger(),
		listeners: make(map[uint64]Listener),
	}

	raw, err := store.Get(ctx, p.key)
	switch {
	case errors.Is(err, kv.ErrNotFound):
	case err != nil:
		p.log.Error().Err(err).Msg("Failed to read stored identity")
	default:
		var id Identity
		if err := json.Unmarshal(raw, &id); err != nil || id.ID == "" {
			p.log.Error().Err(err).Msg("Failed to parse stored identity")
		} else {
			p.current = &id
		}
	}

	return p
}

func validateCredentials(email, password string) error {
	if !strings.Contains(email, "@") {
		return fmt.Errorf("%w: invalid email address", ErrInvalidCredentialsFormat)
	}
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidCredentialsFormat, MinPasswordLength)
	}
	return nil
}

func newIdentity(email string) *Identity {
	name := strings.SplitN(email, "@", 2)[0]
	return &Identity{
		ID:          "mock-uid-" + uuid.NewString(),
		Email:       &email,
		DisplayName: &name,
	}
}

// SignIn validates the credential format and starts a new session.
func (p *MockProvider) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	return p.SignUp(ctx, email, password, nil)
}

// SignUp is SignIn with an optional display name applied before the single
// persist, so only one record is ever written.
func (p *MockProvider) SignUp(ctx context.Context, email, password string, displayName *string) (*Identity, error) {
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}

	id := newIdentity(email)
	if displayName != nil && strings.TrimSpace(*displayName) != "" {
		id.DisplayName = clonePtr(displayName)
	}

	p.opMu.Lock()
	defer p.opMu.Unlock()

	if err := p.persist(ctx, id); err != nil {
		return nil, fmt.Errorf("SignIn: %w", err)
	}
	p.setAndNotify(id)

	p.log.Info().Str("identity_id", id.ID).Msg("Signed in")
	return id.clone(), nil
}

// SignOut clears the identity and its record. Subscribers have been notified
// by the time SignOut returns.
func (p *MockProvider) SignOut(ctx context.Context) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	if err := p.store.Delete(ctx, p.key); err != nil {
		return fmt.Errorf("SignOut: clear record: %w", err)
	}
	p.setAndNotify(nil)

	p.log.Info().Msg("Signed out")
	return nil
}

// UpdateProfile changes only the named fields of the active identity.
func (p *MockProvider) UpdateProfile(ctx context.Context, fields ProfileUpdate) (*Identity, error) {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.RLock()
	updated := p.current.clone()
	p.mu.RUnlock()

	if updated == nil {
		return nil, ErrNoActiveSession
	}
	if fields.DisplayName != nil {
		updated.DisplayName = clonePtr(fields.DisplayName)
	}
	if fields.AvatarRef != nil {
		updated.AvatarRef = clonePtr(fields.AvatarRef)
	}

	if err := p.persist(ctx, updated); err != nil {
		return nil, fmt.Errorf("UpdateProfile: %w", err)
	}
	p.setAndNotify(updated)

	return updated.clone(), nil
}

// Subscribe registers fn and immediately delivers the current identity.
func (p *MockProvider) Subscribe(fn Listener) func() {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	current := p.current.clone()
	p.mu.Unlock()

	fn(current)

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// Current returns a copy of the active identity, or nil.
func (p *MockProvider) Current() *Identity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current.clone()
}

func (p *MockProvider) persist(ctx context.Context, id *Identity) error {
	raw, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	if err := p.store.Put(ctx, p.key, raw); err != nil {
		return fmt.Errorf("store identity: %w", err)
	}
	return nil
}

// setAndNotify must be called with opMu held.
func (p *MockProvider) setAndNotify(id *Identity) {
	p.mu.Lock()
	p.current = id
	ids := make([]uint64, 0, len(p.listeners))
	for k := range p.listeners {
		ids = append(ids, k)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]Listener, 0, len(ids))
	for _, k := range ids {
		fns = append(fns, p.listeners[k])
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(id.clone())
	}
}

var _ Provider = (*MockProvider)(nil)
