package latch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatchExclusive(t *testing.T) {
	l := NewLatch()
	l.Lock()
	assert.True(t, l.IsLocked())
	assert.False(t, l.TryLock())

	acquired := make(chan struct{})
	go func() {
		l.Lock()
		close(acquired)
		l.Unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("latch acquired while held")
	case <-time.After(50 * time.Millisecond):
	}

	l.Unlock()
	<-acquired
	assert.False(t, l.IsLocked())
}

func TestLatchReaders(t *testing.T) {
	l := NewLatch()
	var wg sync.WaitGroup
	l.RLock()
	l.RLock()
	assert.Equal(t, int32(2), l.Readers())
	assert.False(t, l.TryLock())

	wg.Add(1)
	go func() {
		defer wg.Done()
		l.Lock()
		l.Unlock()
	}()
	l.RUnlock()
	l.RUnlock()
	wg.Wait()
	assert.Equal(t, int32(0), l.Readers())
}
