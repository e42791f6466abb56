package genie

import (
	"sync"
	"time"

	"github.com/HanTheDev/genie-analytics/internal/models"
)

const DefaultHistoryCap = 50

// History is a bounded ring of recent turns, safe for concurrent use.
type History struct {
	mu      sync.Mutex
	entries []models.HistoryEntry
	head    int
	size    int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCap
	}
	return &History{entries: make([]models.HistoryEntry, capacity)}
}

// Add appends a turn, overwriting the oldest once full.
func (h *History) Add(question, answer string, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.head] = models.HistoryEntry{Question: question, Answer: answer, Timestamp: at}
	h.head = (h.head + 1) % len(h.entries)
	if h.size < len(h.entries) {
		h.size++
	}
}

// Recent returns up to n turns, oldest first. n <= 0 returns all of them.
func (h *History) Recent(n int) []models.HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || n > h.size {
		n = h.size
	}
	out := make([]models.HistoryEntry, n)
	start := h.head - n
	if start < 0 {
		start += len(h.entries)
	}
	for i := 0; i < n; i++ {
		out[i] = h.entries[(start+i)%len(h.entries)]
	}
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.entries)
	h.head, h.size = 0, 0
}

type historyKey struct {
	tenant string
	user   string
}

// HistoryStore keeps one History per (tenant, user), so follow-up context never
// crosses tenants.
type HistoryStore struct {
	mu       sync.Mutex
	capacity int
	sessions map[historyKey]*History
}

func NewHistoryStore(capacity int) *HistoryStore {
	return &HistoryStore{capacity: capacity, sessions: make(map[historyKey]*History)}
}

// For returns the history of tenant's user, creating it on first use.
func (s *HistoryStore) For(tenant models.TenantContext) *History {
	key := historyKey{tenant: tenant.TenantID, user: tenant.UserID}
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.sessions[key]
	if !ok {
		h = NewHistory(s.capacity)
		s.sessions[key] = h
	}
	return h
}

// Tenant returns every user's recent turns for tenantID, keyed by user id.
func (s *HistoryStore) Tenant(tenantID string) map[string][]models.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]models.HistoryEntry)
	for k, h := range s.sessions {
		if k.tenant == tenantID {
			out[k.user] = h.Recent(0)
		}
	}
	return out
}

// ClearTenant drops all histories of tenantID and reports how many were removed.
func (s *HistoryStore) ClearTenant(tenantID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.sessions {
		if k.tenant == tenantID {
			delete(s.sessions, k)
			n++
		}
	}
	return n
}
