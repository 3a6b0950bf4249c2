package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock_NowIsStrictlyIncreasing(t *testing.T) {
	c := NewClock()
	a := c.Now()
	b := c.Now()
	assert.True(t, b.After(a))
}

func TestClock_Advance(t *testing.T) {
	c := NewClock()
	before := c.Now()
	c.Advance(time.Hour)
	assert.GreaterOrEqual(t, c.Now().Sub(before), time.Hour)
}

func TestClock_ThreadSafe(t *testing.T) {
	c := NewClock()
	var wg sync.WaitGroup
	seen := make(chan time.Time, 200)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				seen <- c.Now()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := map[time.Time]bool{}
	for ts := range seen {
		unique[ts] = true
	}
	assert.Len(t, unique, 200)
}
