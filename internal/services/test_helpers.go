package services

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/BradenHooton/tessera/internal/models"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc            func(ctx context.Context, id string) (*models.User, error)
	GetByIdentityFunc      func(ctx context.Context, methodName, methodValue string) (*models.User, error)
	CreateFunc             func(ctx context.Context, user *models.User) (*models.User, error)
	DeleteFunc             func(ctx context.Context, id string) error
	AddSessionTokenFunc    func(ctx context.Context, userID, hash string) error
	RemoveSessionTokenFunc func(ctx context.Context, userID, hash string) error
	SetSessionTokensFunc   func(ctx context.Context, userID string, hashes []string) error
	LinkIdentityFunc       func(ctx context.Context, userID string, ident *models.Identity) error
	ListAPIKeysFunc        func(ctx context.Context, userID string) ([]models.APIKey, error)
	AddAPIKeyFunc          func(ctx context.Context, userID string, key *models.APIKey) error
	RemoveAPIKeyFunc       func(ctx context.Context, userID, keyID string) error
	PingFunc               func(ctx context.Context) error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByIdentity(ctx context.Context, methodName, methodValue string) (*models.User, error) {
	if m.GetByIdentityFunc != nil {
		return m.GetByIdentityFunc(ctx, methodName, methodValue)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

func (m *MockUserRepository) AddSessionToken(ctx context.Context, userID, hash string) error {
	if m.AddSessionTokenFunc != nil {
		return m.AddSessionTokenFunc(ctx, userID, hash)
	}
	return nil
}

func (m *MockUserRepository) RemoveSessionToken(ctx context.Context, userID, hash string) error {
	if m.RemoveSessionTokenFunc != nil {
		return m.RemoveSessionTokenFunc(ctx, userID, hash)
	}
	return nil
}

func (m *MockUserRepository) SetSessionTokens(ctx context.Context, userID string, hashes []string) error {
	if m.SetSessionTokensFunc != nil {
		return m.SetSessionTokensFunc(ctx, userID, hashes)
	}
	return nil
}

func (m *MockUserRepository) LinkIdentity(ctx context.Context, userID string, ident *models.Identity) error {
	if m.LinkIdentityFunc != nil {
		return m.LinkIdentityFunc(ctx, userID, ident)
	}
	return nil
}

func (m *MockUserRepository) ListAPIKeys(ctx context.Context, userID string) ([]models.APIKey, error) {
	if m.ListAPIKeysFunc != nil {
		return m.ListAPIKeysFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockUserRepository) AddAPIKey(ctx context.Context, userID string, key *models.APIKey) error {
	if m.AddAPIKeyFunc != nil {
		return m.AddAPIKeyFunc(ctx, userID, key)
	}
	return nil
}

func (m *MockUserRepository) RemoveAPIKey(ctx context.Context, userID, keyID string) error {
	if m.RemoveAPIKeyFunc != nil {
		return m.RemoveAPIKeyFunc(ctx, userID, keyID)
	}
	return nil
}

func (m *MockUserRepository) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

// MemoryUserRepository is a goroutine-safe in-memory UserRepository for
// tests that need real set semantics.
type MemoryUserRepository struct {
	mu         sync.Mutex
	users      map[string]*models.User
	identities map[string]string
	apiKeys    map[string][]models.APIKey
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		users:      make(map[string]*models.User),
		identities: make(map[string]string),
		apiKeys:    make(map[string][]models.APIKey),
	}
}

func cloneUser(u *models.User) *models.User {
	c := *u
	c.SessionTokens = append([]string(nil), u.SessionTokens...)
	return &c
}

func (m *MemoryUserRepository) GetByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *MemoryUserRepository) GetByIdentity(ctx context.Context, methodName, methodValue string) (*models.User, error) {
	m.mu.Lock()
	id, ok := m.identities[models.IdentityKey(methodName, methodValue)]
	m.mu.Unlock()
	if !ok {
		return nil, models.ErrNotFound
	}
	return m.GetByID(ctx, id)
}

func (m *MemoryUserRepository) Create(_ context.Context, user *models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := user.IdentityKey()
	if _, ok := m.identities[key]; ok {
		return nil, models.ErrConflict
	}
	if _, ok := m.users[user.ID]; ok {
		return nil, models.ErrConflict
	}
	c := cloneUser(user)
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	if c.SessionTokens == nil {
		c.SessionTokens = []string{}
	}
	m.users[c.ID] = c
	m.identities[key] = c.ID
	return cloneUser(c), nil
}

func (m *MemoryUserRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return models.ErrNotFound
	}
	for key, owner := range m.identities {
		if owner == u.ID {
			delete(m.identities, key)
		}
	}
	delete(m.apiKeys, id)
	delete(m.users, id)
	return nil
}

func (m *MemoryUserRepository) AddSessionToken(_ context.Context, userID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return models.ErrNotFound
	}
	if !slices.Contains(u.SessionTokens, hash) {
		u.SessionTokens = append(u.SessionTokens, hash)
	}
	return nil
}

func (m *MemoryUserRepository) RemoveSessionToken(_ context.Context, userID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return models.ErrNotFound
	}
	kept := u.SessionTokens[:0]
	for _, h := range u.SessionTokens {
		if h != hash {
			kept = append(kept, h)
		}
	}
	u.SessionTokens = kept
	return nil
}

func (m *MemoryUserRepository) SetSessionTokens(_ context.Context, userID string, hashes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return models.ErrNotFound
	}
	u.SessionTokens = append([]string{}, hashes...)
	return nil
}

func (m *MemoryUserRepository) LinkIdentity(_ context.Context, userID string, ident *models.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return models.ErrNotFound
	}
	if _, ok := m.identities[ident.Key()]; ok {
		return models.ErrConflict
	}
	m.identities[ident.Key()] = userID
	return nil
}

func (m *MemoryUserRepository) ListAPIKeys(_ context.Context, userID string) ([]models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return nil, models.ErrNotFound
	}
	return slices.Clone(m.apiKeys[userID]), nil
}

func (m *MemoryUserRepository) AddAPIKey(_ context.Context, userID string, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return models.ErrNotFound
	}
	m.apiKeys[userID] = append(m.apiKeys[userID], *key)
	return nil
}

func (m *MemoryUserRepository) RemoveAPIKey(_ context.Context, userID, keyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := m.apiKeys[userID]
	i := slices.IndexFunc(keys, func(k models.APIKey) bool { return k.ID == keyID })
	if i < 0 {
		return models.ErrNotFound
	}
	m.apiKeys[userID] = slices.Delete(keys, i, i+1)
	return nil
}

func (m *MemoryUserRepository) Ping(context.Context) error { return nil }

// MockMailer implements Mailer for testing
type MockMailer struct {
	SendLoginLinkFunc func(ctx context.Context, to, link string, expiresIn time.Duration) error
}

func (m *MockMailer) SendLoginLink(ctx context.Context, to, link string, expiresIn time.Duration) error {
	if m.SendLoginLinkFunc != nil {
		return m.SendLoginLinkFunc(ctx, to, link, expiresIn)
	}
	return nil
}
