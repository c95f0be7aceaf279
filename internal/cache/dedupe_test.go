package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBloomFilter_NoFalseNegatives(t *testing.T) {
	bf := NewBloomFilter(1000, 0.01)

	for i := 0; i < 500; i++ {
		bf.Add(fmt.Sprintf("source-1|event-%d", i))
	}
	for i := 0; i < 500; i++ {
		assert.True(t, bf.Test(fmt.Sprintf("source-1|event-%d", i)), "added key must always test positive")
	}
}

func TestBloomFilter_FalsePositiveRateBounded(t *testing.T) {
	bf := NewBloomFilter(1000, 0.01)

	for i := 0; i < 1000; i++ {
		bf.Add(fmt.Sprintf("present-%d", i))
	}

	falsePositives := 0
	for i := 0; i < 1000; i++ {
		if bf.Test(fmt.Sprintf("absent-%d", i)) {
			falsePositives++
		}
	}
	assert.Less(t, falsePositives, 100, "false positive rate far above the configured 1%%")
}

func TestBloomFilter_Clear(t *testing.T) {
	bf := NewBloomFilter(100, 0.01)
	bf.Add("x")
	bf.Clear()
	assert.False(t, bf.Test("x"))
}

func TestSeenCache_FalseIsAuthoritative(t *testing.T) {
	s := NewSeenCache(100, time.Minute)

	assert.False(t, s.MaybeSeen("source-1|evt-1"))
	s.Record("source-1|evt-1")
	assert.True(t, s.MaybeSeen("source-1|evt-1"))
	assert.False(t, s.MaybeSeen("source-1|evt-2"))
	assert.Equal(t, 1, s.Len())
}
