package decision

import (
	"context"
	"sync"

	"github.com/mbd888/fraudgate/internal/syncutil"
)

// MemoryStore keeps the decision audit trail in memory. Used when no
// DATABASE_URL is configured, and by tests.
//
// Writes happen on every evaluation, so senders are locked via a
// sharded mutex instead of one store-wide lock. Two senders only
// contend when their keys hash to the same shard.
type MemoryStore struct {
	locks     syncutil.ShardedMutex
	bySender  sync.Map // sender ID -> *senderLog
	maxPerKey int
}

type senderLog struct {
	entries []*Decision
}

const defaultMaxPerSender = 1000

// NewMemoryStore creates an in-memory decision store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{maxPerKey: defaultMaxPerSender}
}

func copyDecision(d *Decision) *Decision {
	c := *d
	c.Reasoning = append([]string(nil), d.Reasoning...)
	return &c
}

func (s *MemoryStore) Record(ctx context.Context, d *Decision) error {
	unlock := s.locks.Lock(d.SenderID)
	defer unlock()

	v, _ := s.bySender.LoadOrStore(d.SenderID, &senderLog{})
	log := v.(*senderLog)

	log.entries = append(log.entries, copyDecision(d))
	if len(log.entries) > s.maxPerKey {
		log.entries = log.entries[len(log.entries)-s.maxPerKey:]
	}
	return nil
}

func (s *MemoryStore) ListBySender(ctx context.Context, senderID string, limit int) ([]*Decision, error) {
	unlock := s.locks.Lock(senderID)
	defer unlock()

	v, ok := s.bySender.Load(senderID)
	if !ok {
		return nil, nil
	}
	all := v.(*senderLog).entries
	if len(all) == 0 {
		return nil, nil
	}

	start := len(all) - limit
	if limit <= 0 || start < 0 {
		start = 0
	}

	// Most recent first.
	result := make([]*Decision, 0, len(all)-start)
	for i := len(all) - 1; i >= start; i-- {
		result = append(result, copyDecision(all[i]))
	}
	return result, nil
}
