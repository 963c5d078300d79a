package vycache

import (
	"bytes"
	"testing"

	"github.com/tarantool/vinyl/pkg/vystmt"
)

func cmpBytes(a, b []byte) int { return bytes.Compare(a, b) }

func stmt(k byte) *vystmt.Statement {
	return &vystmt.Statement{Type: vystmt.Replace, Key: []byte{k}, Value: []byte{k}}
}

func TestCacheGetPutMiss(t *testing.T) {
	c := New(cmpBytes, 1<<20)
	if _, _, _, ok := c.Get([]byte{1}); ok {
		t.Fatalf("expected miss on empty cache")
	}
	c.Put(stmt(1), false, false)
	s, _, _, ok := c.Get([]byte{1})
	if !ok || s.Key[0] != 1 {
		t.Fatalf("expected hit, got %+v ok=%v", s, ok)
	}
	hits, misses, _ := c.Stats()
	if hits != 1 || misses != 1 {
		t.Fatalf("expected 1 hit 1 miss, got hits=%d misses=%d", hits, misses)
	}
}

func TestCacheChainFlags(t *testing.T) {
	c := New(cmpBytes, 1<<20)
	c.Put(stmt(1), false, false)
	c.Put(stmt(3), false, false)
	// Insert 2 between 1 and 3, chained on both sides (nothing skipped).
	c.Put(stmt(2), true, true)

	_, rightChain, leftChain, ok := c.Get([]byte{2})
	if !ok || !rightChain || !leftChain {
		t.Fatalf("expected key 2 chained both sides, got right=%v left=%v", rightChain, leftChain)
	}
}

func TestCacheOnWriteUnchains(t *testing.T) {
	c := New(cmpBytes, 1<<20)
	c.Put(stmt(1), false, false)
	c.Put(stmt(3), false, false)
	c.Put(stmt(2), true, true)

	c.OnWrite([]byte{2})
	if _, ok := c.find([]byte{2}); ok {
		t.Fatalf("expected key 2 removed after OnWrite")
	}
	_, rightChain, _, ok := c.Get([]byte{1})
	if !ok {
		t.Fatalf("expected key 1 still cached")
	}
	if rightChain {
		t.Fatalf("expected key 1's right chain broken after write to key 2")
	}
}

func TestCacheEviction(t *testing.T) {
	// Quota tiny enough to force eviction after a handful of entries.
	c := New(cmpBytes, 100)
	for i := byte(0); i < 10; i++ {
		c.Put(stmt(i), false, false)
	}
	if c.Len() >= 10 {
		t.Fatalf("expected eviction to have trimmed entries, got %d", c.Len())
	}
	_, _, evictions := c.Stats()
	if evictions == 0 {
		t.Fatalf("expected at least one eviction")
	}
}
