package account

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store for development and tests. WithTx stages
// writes in an overlay that only reaches the shared maps on commit.
type MemoryStore struct {
	mu       sync.RWMutex
	txMu     sync.Mutex
	accounts map[string]*Account
	subjects map[string]string // "provider\x00sub" -> account id
}

// NewMemoryStore creates an empty in-memory account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		subjects: make(map[string]string),
	}
}

func subjectKey(provider, sub string) string { return provider + "\x00" + sub }

func cloneAccount(a *Account) *Account {
	c := *a
	c.Properties = make(map[string]string, len(a.Properties))
	for k, v := range a.Properties {
		c.Properties[k] = v
	}
	c.Subjects = make(map[string]string, len(a.Subjects))
	for k, v := range a.Subjects {
		c.Subjects[k] = v
	}
	return &c
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAccount(a), nil
}

func (m *MemoryStore) FindBySubject(ctx context.Context, provider, sub string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.subjects[subjectKey(provider, sub)]
	if !ok {
		return nil, ErrNotFound
	}
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAccount(a), nil
}

func (m *MemoryStore) Create(ctx context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		return fmt.Errorf("account: missing id")
	}
	if _, exists := m.accounts[a.ID]; exists {
		return fmt.Errorf("account: id %s already exists", a.ID)
	}
	m.accounts[a.ID] = cloneAccount(a)
	return nil
}

func (m *MemoryStore) BindSubject(ctx context.Context, id, provider, sub string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	key := subjectKey(provider, sub)
	if bound, exists := m.subjects[key]; exists {
		if bound == id {
			return nil
		}
		return ErrSubjectTaken
	}
	m.subjects[key] = id
	if a.Subjects == nil {
		a.Subjects = make(map[string]string)
	}
	a.Subjects[provider] = sub
	return nil
}

func (m *MemoryStore) Save(ctx context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[a.ID]; !ok {
		return ErrNotFound
	}
	m.accounts[a.ID] = cloneAccount(a)
	return nil
}

// WithTx runs fn against an overlay of the store. A failing fn simply
// discards the overlay, so writes committed to the store by other requests
// while the transaction was open are never rolled back. Transactions are
// serialized against each other.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	tx := &memoryTx{
		parent:   m,
		accounts: make(map[string]*Account),
		subjects: make(map[string]string),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

// memoryTx stages a transaction's writes. Reads fall through to the parent
// store; nothing touches the shared maps until commit.
type memoryTx struct {
	parent   *MemoryStore
	accounts map[string]*Account
	subjects map[string]string
}

func (t *memoryTx) Get(ctx context.Context, id string) (*Account, error) {
	if a, ok := t.accounts[id]; ok {
		return cloneAccount(a), nil
	}
	return t.parent.Get(ctx, id)
}

func (t *memoryTx) FindBySubject(ctx context.Context, provider, sub string) (*Account, error) {
	if id, ok := t.subjects[subjectKey(provider, sub)]; ok {
		return t.Get(ctx, id)
	}
	return t.parent.FindBySubject(ctx, provider, sub)
}

func (t *memoryTx) Create(ctx context.Context, a *Account) error {
	if a.ID == "" {
		return fmt.Errorf("account: missing id")
	}
	if _, staged := t.accounts[a.ID]; staged {
		return fmt.Errorf("account: id %s already exists", a.ID)
	}
	if _, err := t.parent.Get(ctx, a.ID); err == nil {
		return fmt.Errorf("account: id %s already exists", a.ID)
	}
	t.accounts[a.ID] = cloneAccount(a)
	return nil
}

func (t *memoryTx) BindSubject(ctx context.Context, id, provider, sub string) error {
	a, err := t.Get(ctx, id)
	if err != nil {
		return err
	}
	key := subjectKey(provider, sub)
	if bound, ok := t.subjects[key]; ok {
		if bound == id {
			return nil
		}
		return ErrSubjectTaken
	}
	if existing, err := t.parent.FindBySubject(ctx, provider, sub); err == nil {
		if existing.ID == id {
			return nil
		}
		return ErrSubjectTaken
	}
	t.subjects[key] = id
	if a.Subjects == nil {
		a.Subjects = make(map[string]string)
	}
	a.Subjects[provider] = sub
	t.accounts[id] = a
	return nil
}

func (t *memoryTx) Save(ctx context.Context, a *Account) error {
	if _, err := t.Get(ctx, a.ID); err != nil {
		return err
	}
	t.accounts[a.ID] = cloneAccount(a)
	return nil
}

func (t *memoryTx) WithTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error {
	return fmt.Errorf("account: nested transactions are not supported")
}

// commit applies the staged writes atomically, re-checking subject bindings
// against writes that landed directly on the store while the transaction was
// open.
func (t *memoryTx) commit() error {
	m := t.parent
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, id := range t.subjects {
		if bound, ok := m.subjects[key]; ok && bound != id {
			return ErrSubjectTaken
		}
	}
	for id, a := range t.accounts {
		m.accounts[id] = cloneAccount(a)
	}
	for key, id := range t.subjects {
		m.subjects[key] = id
	}
	return nil
}
