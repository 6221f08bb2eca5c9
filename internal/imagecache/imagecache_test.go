package imagecache

import (
	"fmt"
	"testing"
)

func TestGetLoadsOnceAndHitsAfter(t *testing.T) {
	calls := 0
	c, err := New(10, 0, func(k Key) ([]byte, error) {
		calls++
		return []byte(fmt.Sprintf("frame-%d-%d", k.A, k.B)), nil
	})
	if err != nil {
		t.Fatal(err)
	}

	key := Key{A: 1, B: 2}
	if _, err := c.Get(key); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(key); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected loader called once, got %d", calls)
	}
	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Fatalf("expected 1 hit and 1 miss, got hits=%d misses=%d", hits, misses)
	}
}

func TestEvictsLeastRecentlyUsedByItemCount(t *testing.T) {
	c, err := New(2, 0, func(k Key) ([]byte, error) {
		return []byte("x"), nil
	})
	if err != nil {
		t.Fatal(err)
	}

	c.Put(Key{A: 1}, []byte("a"))
	c.Put(Key{A: 2}, []byte("b"))
	c.Get(Key{A: 1}) // touch 1, making 2 the LRU victim
	c.Put(Key{A: 3}, []byte("c"))

	if c.Len() != 2 {
		t.Fatalf("expected 2 items, got %d", c.Len())
	}
	if _, ok := c.items[Key{A: 2}]; ok {
		t.Fatal("expected key 2 to have been evicted")
	}
	if _, ok := c.items[Key{A: 1}]; !ok {
		t.Fatal("expected key 1 (recently touched) to survive")
	}
}

func TestEvictsByByteBudget(t *testing.T) {
	c, err := New(0, 10, func(k Key) ([]byte, error) { return nil, nil })
	if err != nil {
		t.Fatal(err)
	}

	c.Put(Key{A: 1}, make([]byte, 6))
	c.Put(Key{A: 2}, make([]byte, 6))

	if c.Len() != 1 {
		t.Fatalf("expected byte budget to force eviction down to 1 item, got %d", c.Len())
	}
}

func TestNewRejectsUnboundedConfig(t *testing.T) {
	if _, err := New(0, 0, nil); err == nil {
		t.Fatal("expected error for zero item and byte limits")
	}
}
