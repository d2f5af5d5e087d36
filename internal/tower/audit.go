package tower

import (
	"sync"

	gateway "github.com/mattdarbro/studio-api/internal"
)

// auditCap bounds the in-memory audit trail. Oldest entries are overwritten.
const auditCap = 1000

// auditRing is a fixed-capacity ring of audit entries.
type auditRing struct {
	mu      sync.Mutex
	entries []gateway.AuditEntry
	next    int // index of the slot the next entry lands in
	full    bool
}

func newAuditRing() *auditRing {
	return &auditRing{entries: make([]gateway.AuditEntry, auditCap)}
}

// add records an entry, evicting the oldest once the ring is full.
func (r *auditRing) add(e gateway.AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

// list returns up to limit entries, newest first. limit <= 0 returns all.
func (r *auditRing) list(limit int) []gateway.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.next
	if r.full {
		n = len(r.entries)
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]gateway.AuditEntry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.entries)) % len(r.entries)
		out = append(out, r.entries[idx])
	}
	return out
}
