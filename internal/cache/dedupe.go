package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

// BloomFilter is a probabilistic set-membership test: no false negatives, a tunable false
// positive rate, O(1) Add/Test, and no support for removal.
type BloomFilter struct {
	mu       sync.RWMutex
	bits     []uint64
	size     uint64
	hashFns  int
	count    int
	capacity int
}

// NewBloomFilter sizes a filter for expectedItems at the given false positive rate.
func NewBloomFilter(expectedItems int, falsePositiveRate float64) *BloomFilter {
	if expectedItems <= 0 {
		expectedItems = 10000
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	ln2 := 0.693147
	ln2Squared := ln2 * ln2
	lnP := approximateLn(falsePositiveRate)

	m := int(-float64(expectedItems) * lnP / ln2Squared)
	if m < 64 {
		m = 64
	}
	k := int(float64(m) / float64(expectedItems) * ln2)
	if k < 1 {
		k = 1
	}
	if k > 10 {
		k = 10
	}
	words := (m + 63) / 64

	return &BloomFilter{
		bits:     make([]uint64, words),
		size:     uint64(words * 64),
		hashFns:  k,
		capacity: expectedItems,
	}
}

// Add records key in the filter.
func (bf *BloomFilter) Add(key string) {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	for _, h := range bf.getHashes(key) {
		idx := h % bf.size
		bf.bits[idx/64] |= 1 << (idx % 64)
	}
	bf.count++
}

// Test reports false if key was definitely never added, true if it might have been.
func (bf *BloomFilter) Test(key string) bool {
	bf.mu.RLock()
	defer bf.mu.RUnlock()

	for _, h := range bf.getHashes(key) {
		idx := h % bf.size
		if bf.bits[idx/64]&(1<<(idx%64)) == 0 {
			return false
		}
	}
	return true
}

// Clear resets the filter to empty.
func (bf *BloomFilter) Clear() {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	for i := range bf.bits {
		bf.bits[i] = 0
	}
	bf.count = 0
}

// getHashes derives bf.hashFns independent-enough indices via double hashing (Kirsch-Mitzenmacher).
func (bf *BloomFilter) getHashes(key string) []uint64 {
	h1 := fnv.New64a()
	h1.Write([]byte(key))
	hash1 := h1.Sum64()

	h2 := fnv.New64()
	h2.Write([]byte(key))
	h2.Write([]byte{0xff})
	hash2 := h2.Sum64()

	hashes := make([]uint64, bf.hashFns)
	for i := 0; i < bf.hashFns; i++ {
		hashes[i] = hash1 + uint64(i)*hash2
	}
	return hashes
}

func approximateLn(x float64) float64 {
	switch {
	case x >= 0.1:
		return -2.303
	case x >= 0.05:
		return -2.996
	case x >= 0.01:
		return -4.605
	case x >= 0.005:
		return -5.298
	case x >= 0.001:
		return -6.908
	default:
		return -9.210
	}
}

// SeenCache is a fast, approximate "have I processed (source_id, source_event_id) before"
// pre-check sitting in front of the relational store's upsert, per spec §4.H's note that
// ingestion may keep an in-memory dedup cache ahead of the authoritative content-hash
// comparison done in the store. It is never the source of truth: a false positive here only
// means ingestion takes the (more expensive but always-correct) upsert path instead of
// skipping it.
type SeenCache struct {
	bloom *BloomFilter
	lru   *LRUCache
}

// NewSeenCache builds a cache sized for capacity keys with the given per-key TTL.
func NewSeenCache(capacity int, ttl time.Duration) *SeenCache {
	return &SeenCache{
		bloom: NewBloomFilter(capacity, 0.01),
		lru:   NewLRUCache(capacity, ttl),
	}
}

// MaybeSeen reports whether key might already have been processed. False is authoritative
// (definitely not seen); true requires the caller to still do the real upsert, since this is
// only a pre-check.
func (s *SeenCache) MaybeSeen(key string) bool {
	if !s.bloom.Test(key) {
		return false
	}
	return s.lru.Contains(key)
}

// Record marks key as processed.
func (s *SeenCache) Record(key string) {
	s.bloom.Add(key)
	s.lru.Add(key, time.Now())
}

// Len returns the number of keys tracked in the exact (LRU) layer.
func (s *SeenCache) Len() int {
	return s.lru.Len()
}
