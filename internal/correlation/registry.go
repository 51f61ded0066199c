// Package correlation holds process-local, engine-owned state used to
// correlate facts observed in earlier events against later events (spec §3,
// §4.8 — the suspicious email registry is the one instance the core names).
package correlation

import (
	"strings"
	"sync"
	"time"

	"sentinel/internal/metrics"
)

// EmailRecord is one harvested email address and the context it was seen in.
type EmailRecord struct {
	Email     string
	Source    string // e.g. "tool_response"
	McpTag    string
	Timestamp string // ISO-8601
	Context   string // ±50 chars around the match
}

// SuspiciousEmailRegistry is a capacity-bounded, FIFO-evicting map of
// lower-cased email address to the record of where it was first harvested.
// Per spec §4.8, this state is engine-local and process-local: it is never
// persisted or shared across engines. The bound exists only to cap memory
// for abnormally long sessions; it must be large enough that a normal
// session never evicts (see config.DefaultConfig's
// Correlation.EmailRegistryCapacity default of 10000).
type SuspiciousEmailRegistry struct {
	mu       sync.Mutex
	capacity int
	order    []string
	entries  map[string]EmailRecord
}

// NewSuspiciousEmailRegistry creates a registry bounded to capacity entries.
func NewSuspiciousEmailRegistry(capacity int) *SuspiciousEmailRegistry {
	if capacity <= 0 {
		capacity = 10000
	}
	return &SuspiciousEmailRegistry{
		capacity: capacity,
		entries:  make(map[string]EmailRecord, capacity),
	}
}

// Record harvests an email address into the registry. Idempotent: recording
// the same address with the same source again is a no-op (spec §8's
// "Harvest phase is idempotent on the registry" property).
func (r *SuspiciousEmailRegistry) Record(email, source, mcpTag, context string, ts time.Time) {
	key := strings.ToLower(email)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[key]; exists {
		return
	}

	if len(r.order) >= r.capacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.entries, oldest)
	}

	r.entries[key] = EmailRecord{
		Email:     key,
		Source:    source,
		McpTag:    mcpTag,
		Timestamp: ts.UTC().Format(time.RFC3339),
		Context:   context,
	}
	r.order = append(r.order, key)
	metrics.SuspiciousEmailRegistrySize.Set(float64(len(r.entries)))
}

// Lookup returns the record for a lower-cased email address, if present.
func (r *SuspiciousEmailRegistry) Lookup(email string) (EmailRecord, bool) {
	key := strings.ToLower(email)

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.entries[key]
	return rec, ok
}

// Len returns the current number of tracked addresses.
func (r *SuspiciousEmailRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
