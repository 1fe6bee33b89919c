// Copyright 2024 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package githubclient

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// cacheEntry is what a resource key maps to: the ETag used for the next
// conditional request plus the last successfully decoded body.
type cacheEntry struct {
	ETag string `json:"etag"`
	Body []byte `json:"body"`
}

// conditionalCache is a two-tier store for per-resource-key ETags. L1 is an
// in-process bounded LRU; L2 is an optional Redis client so entries survive
// process restarts. A 304 response is served entirely from whichever tier
// has the entry, without counting against the upstream per-minute quota.
type conditionalCache struct {
	l1     *lruCache
	l2     *redis.Client
	l2TTL  time.Duration
}

func newConditionalCache(c *Config) (*conditionalCache, error) {
	cache := &conditionalCache{
		l1:    newLRUCache(c.CacheL1Size),
		l2TTL: 24 * time.Hour,
	}
	if c.RedisAddr != "" {
		cache.l2 = redis.NewClient(&redis.Options{Addr: c.RedisAddr})
	}
	return cache, nil
}

func (c *conditionalCache) Get(ctx context.Context, key string) (*cacheEntry, bool) {
	if entry, ok := c.l1.get(key); ok {
		return entry, true
	}
	if c.l2 == nil {
		return nil, false
	}
	raw, err := c.l2.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false
	}
	c.l1.set(key, &entry)
	return &entry, true
}

func (c *conditionalCache) Set(ctx context.Context, key string, entry *cacheEntry) {
	c.l1.set(key, entry)
	if c.l2 == nil {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_ = c.l2.Set(ctx, key, raw, c.l2TTL).Err()
}

// lruCache is a hand-rolled bounded LRU over container/list. No LRU library
// appears anywhere in the retrieved example corpus (the only "lru" grep hit
// was mailru/easyjson), so this stays on the standard library.
type lruCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

type lruItem struct {
	key   string
	entry *cacheEntry
}

func newLRUCache(capacity int) *lruCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &lruCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

func (c *lruCache) get(key string) (*cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*lruItem).entry, true
}

func (c *lruCache) set(key string, entry *cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*lruItem).entry = entry
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&lruItem{key: key, entry: entry})
	c.items[key] = el
	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*lruItem).key)
		}
	}
}

// cacheKey builds the resource-key a request's conditional cache entry is
// stored under.
func cacheKey(method, url string) string {
	return fmt.Sprintf("%s %s", method, url)
}
