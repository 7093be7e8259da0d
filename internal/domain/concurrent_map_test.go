package domain

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConcurrentMapSetGetRemove(t *testing.T) {
	m := NewConcurrentMap[string, int]()

	_, ok := m.Get("a")
	assert.False(t, ok)

	m.Set("a", 1)
	v, ok := m.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	m.Remove("a")
	_, ok = m.Get("a")
	assert.False(t, ok)
}

func TestConcurrentMapGetOrAddCallsFactoryOnlyOnce(t *testing.T) {
	m := NewConcurrentMap[string, int]()
	calls := 0
	factory := func() int {
		calls++
		return 42
	}

	v1 := m.GetOrAdd("k", factory)
	v2 := m.GetOrAdd("k", factory)

	assert.Equal(t, 42, v1)
	assert.Equal(t, 42, v2)
	assert.Equal(t, 1, calls)
}

func TestConcurrentMapLenAndIsEmpty(t *testing.T) {
	m := NewConcurrentMap[string, int]()
	assert.True(t, m.IsEmpty())

	m.Set("a", 1)
	m.Set("b", 2)
	assert.Equal(t, 2, m.Len())
	assert.False(t, m.IsEmpty())
}

func TestConcurrentMapRangeAndKeys(t *testing.T) {
	m := NewConcurrentMap[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)

	seen := map[string]int{}
	m.Range(func(k string, v int) bool {
		seen[k] = v
		return true
	})
	assert.Equal(t, map[string]int{"a": 1, "b": 2}, seen)

	keys := m.Keys()
	assert.ElementsMatch(t, []string{"a", "b"}, keys)
}

func TestConcurrentMapRangeStopsEarly(t *testing.T) {
	m := NewConcurrentMap[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("c", 3)

	count := 0
	m.Range(func(k string, v int) bool {
		count++
		return false
	})
	assert.Equal(t, 1, count)
}

func TestConcurrentMapConcurrentGetOrAddIsRaceFree(t *testing.T) {
	m := NewConcurrentMap[int, int]()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			m.GetOrAdd(n%10, func() int { return n })
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, m.Len())
}
