package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2025, 3, 14, 22, 30, 0, 0, time.UTC)

func TestFixedClock_IsFrozen(t *testing.T) {
	clock := NewFixedClock(epoch)
	assert.Equal(t, epoch, clock.Now())
	assert.Equal(t, epoch, clock.Now())
}

func TestFixedClock_Advance(t *testing.T) {
	clock := NewFixedClock(epoch)

	got := clock.Advance(90 * time.Minute)
	assert.Equal(t, epoch.Add(90*time.Minute), got)
	assert.Equal(t, got, clock.Now())
}

func TestFixedClock_Set(t *testing.T) {
	clock := NewFixedClock(epoch)
	later := epoch.Add(24 * time.Hour)

	clock.Set(later)
	assert.Equal(t, later, clock.Now())
}

func TestFixedClock_ThreadSafe(t *testing.T) {
	clock := NewFixedClock(epoch)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				clock.Advance(time.Second)
				_ = clock.Now()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, epoch.Add(1000*time.Second), clock.Now())
}
