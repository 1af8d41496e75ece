// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestLRU_GetPut(t *testing.T) {
	c := NewLRU[string, uint64](2, 0)

	c.Put("a", 1)
	c.Put("b", 2)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %d, %v", v, ok)
	}

	// a is now most recent; adding c evicts b
	c.Put("c", 3)
	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should survive")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}

	st := c.Stats()
	if st.Evictions != 1 || st.Hits != 2 || st.Misses != 1 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestLRU_UpdateExisting(t *testing.T) {
	c := NewLRU[string, int](2, 0)
	c.Put("k", 1)
	c.Put("k", 2)
	if v, _ := c.Get("k"); v != 2 {
		t.Errorf("Get(k) = %d, want 2", v)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestLRU_Remove(t *testing.T) {
	c := NewLRU[int, string](4, 0)
	c.Put(1, "x")
	if !c.Remove(1) {
		t.Error("Remove(1) = false")
	}
	if c.Remove(1) {
		t.Error("second Remove should report false")
	}
	if _, ok := c.Get(1); ok {
		t.Error("removed key still present")
	}
}

func TestLRU_TTL(t *testing.T) {
	c := NewLRU[string, int](10, time.Minute)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Put("old", 1)
	now = now.Add(30 * time.Second)
	c.Put("new", 2)

	now = now.Add(45 * time.Second)
	if _, ok := c.Get("old"); ok {
		t.Error("old should have expired")
	}
	if _, ok := c.Get("new"); !ok {
		t.Error("new should still be live")
	}

	now = now.Add(time.Hour)
	if n := c.CleanupExpired(); n != 1 {
		t.Errorf("CleanupExpired = %d, want 1", n)
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0", c.Len())
	}
}

func TestLRU_Concurrent(t *testing.T) {
	c := NewLRU[string, int](100, time.Minute)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				k := fmt.Sprintf("k%d", (g*31+i)%150)
				c.Put(k, i)
				c.Get(k)
				if i%7 == 0 {
					c.Remove(k)
				}
			}
		}(g)
	}
	wg.Wait()
	if c.Len() > 100 {
		t.Errorf("Len = %d exceeds capacity", c.Len())
	}
}
