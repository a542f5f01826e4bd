package execution

import (
	"context"
	"hash/fnv"
	"sync"
)

// KeyedLock serializes work per key while letting different keys proceed in parallel.
// Entries are reference counted and dropped once nobody holds or waits on them.
type KeyedLock struct {
	shards []lockShard
}

type lockShard struct {
	mu sync.Mutex
	m  map[string]*keyEntry
}

type keyEntry struct {
	ch   chan struct{}
	refs int
}

func NewKeyedLock(shardCount int) *KeyedLock {
	if shardCount <= 0 {
		shardCount = 32
	}
	shards := make([]lockShard, shardCount)
	for i := range shards {
		shards[i].m = make(map[string]*keyEntry)
	}
	return &KeyedLock{shards: shards}
}

// Lock blocks until key is free or ctx is done. The returned func releases the key.
func (l *KeyedLock) Lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sh := l.shard(key)
	sh.mu.Lock()
	e, ok := sh.m[key]
	if !ok {
		e = &keyEntry{ch: make(chan struct{}, 1)}
		sh.m[key] = e
	}
	e.refs++
	sh.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return func() {
			<-e.ch
			l.drop(sh, key, e)
		}, nil
	case <-ctx.Done():
		l.drop(sh, key, e)
		return nil, ctx.Err()
	}
}

func (l *KeyedLock) drop(sh *lockShard, key string, e *keyEntry) {
	sh.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(sh.m, key)
	}
	sh.mu.Unlock()
}

func (l *KeyedLock) shard(key string) *lockShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.shards[h.Sum32()%uint32(len(l.shards))]
}
