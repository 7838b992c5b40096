package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"docassist/pkg/domain"
)

// MemoryStore keeps everything in-process. It backs tests and local runs
// without a database.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[uint]domain.User
	email     map[string]uint // email -> user ID
	documents map[uint]domain.Document
	responses map[uint][]byte
	voices    []domain.Voice
	tokens    map[uint]memoryToken

	nextUserID     uint
	nextDocumentID uint
	nextVoiceID    uint
	nextTokenID    uint
}

type memoryToken struct {
	userID uint
	hash   string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[uint]domain.User),
		email:     make(map[string]uint),
		documents: make(map[uint]domain.Document),
		responses: make(map[uint][]byte),
		tokens:    make(map[uint]memoryToken),
	}
}

func (m *MemoryStore) CreateUser(u domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.email[u.Email]; exists {
		return domain.User{}, ErrDuplicateEmail
	}
	m.nextUserID++
	now := time.Now().UTC()
	u.ID = m.nextUserID
	u.CreatedAt, u.UpdatedAt = stamp(u.CreatedAt, now), stamp(u.UpdatedAt, now)
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return u, nil
}

func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	return m.users[id], true, nil
}

func (m *MemoryStore) GetUserByID(id uint) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) CreateDocument(d domain.Document) (domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextDocumentID++
	now := time.Now().UTC()
	d.ID = m.nextDocumentID
	if d.Status == "" {
		d.Status = domain.StatusUploaded
	}
	d.CreatedAt, d.UpdatedAt = stamp(d.CreatedAt, now), stamp(d.UpdatedAt, now)
	m.documents[d.ID] = d
	return d, nil
}

func (m *MemoryStore) UpdateDocumentOutcome(id uint, outcome DocumentOutcome) (domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return domain.Document{}, ErrNotFound
	}
	d.Status = outcome.Status
	if outcome.SetSummary {
		d.Summary = outcome.Summary
	}
	d.UpdatedAt = time.Now().UTC()
	m.documents[id] = d
	if len(outcome.AIResponse) > 0 {
		m.responses[id] = append([]byte(nil), outcome.AIResponse...)
	}
	return d, nil
}

func (m *MemoryStore) GetDocument(id uint) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[id]
	return d, ok, nil
}

// ListDocuments returns all documents ordered by id.
func (m *MemoryStore) ListDocuments() []domain.Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Document, 0, len(m.documents))
	for _, d := range m.documents {
		res = append(res, d)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// AIResponse returns the stored relay payload for a document.
func (m *MemoryStore) AIResponse(id uint) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.responses[id]
}

func (m *MemoryStore) AppendVoiceTurns(turns ...domain.Voice) ([]domain.Voice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, turn := range turns {
		if _, ok := m.users[turn.UserID]; !ok {
			return nil, ErrNotFound
		}
	}
	now := time.Now().UTC()
	out := make([]domain.Voice, 0, len(turns))
	for _, turn := range turns {
		m.nextVoiceID++
		turn.ID = m.nextVoiceID
		turn.CreatedAt, turn.UpdatedAt = stamp(turn.CreatedAt, now), stamp(turn.UpdatedAt, now)
		m.voices = append(m.voices, turn)
		out = append(out, turn)
	}
	return out, nil
}

func (m *MemoryStore) ListVoicesByUser(userID uint) ([]domain.Voice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Voice, 0)
	for _, v := range m.voices {
		if v.UserID == userID {
			res = append(res, v)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

func (m *MemoryStore) IssueToken(userID uint) (string, error) {
	secret, err := newTokenSecret()
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTokenID++
	m.tokens[m.nextTokenID] = memoryToken{userID: userID, hash: hashTokenSecret(secret)}
	return plainToken(m.nextTokenID, secret), nil
}

func (m *MemoryStore) UserIDByToken(token string) (uint, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.lookupToken(token)
	if !ok {
		return 0, false, nil
	}
	return m.tokens[id].userID, true, nil
}

func (m *MemoryStore) RevokeToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.lookupToken(token); ok {
		delete(m.tokens, id)
	}
	return nil
}

// TokenCount returns the number of live tokens.
func (m *MemoryStore) TokenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tokens)
}

// lookupToken expects m.mu to be held.
func (m *MemoryStore) lookupToken(token string) (uint, bool) {
	id, hasID, secret := splitPlainToken(token)
	if strings.TrimSpace(secret) == "" {
		return 0, false
	}
	if hasID {
		t, ok := m.tokens[id]
		if !ok || !tokenHashMatches(t.hash, secret) {
			return 0, false
		}
		return id, true
	}
	for tid, t := range m.tokens {
		if tokenHashMatches(t.hash, secret) {
			return tid, true
		}
	}
	return 0, false
}

func stamp(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t
}
