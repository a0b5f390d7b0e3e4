package syncutil

import "sync"

const shardCount = 256

// ShardedMutex is a fixed pool of mutexes keyed by string, used for
// per-sender serialization on hot write paths. Memory stays bounded no
// matter how many distinct keys are seen, at the cost of occasional
// false sharing between keys that hash to the same shard.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the mutex for key and returns its unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := &s.shards[fnv32a(key)%shardCount]
	mu.Lock()
	return mu.Unlock
}

func fnv32a(key string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= prime32
	}
	return h
}
