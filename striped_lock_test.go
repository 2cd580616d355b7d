package cqlstore

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestStripedLocksDefaultCount(t *testing.T) {
	for _, n := range []int{0, -1} {
		if locks := NewStripedLocks(n); locks.count != 32 {
			t.Errorf("NewStripedLocks(%d) count = %d, want 32", n, locks.count)
		}
	}
}

func TestStripedLocksExclusiveBlocking(t *testing.T) {
	locks := NewStripedLocks(32)
	key := "biblionarrator.media"
	var counter int32

	unlock := locks.Lock(key)

	done := make(chan struct{})
	go func() {
		unlock2 := locks.Lock(key)
		atomic.AddInt32(&counter, 1)
		unlock2()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&counter) != 0 {
		t.Error("second lock should be blocked")
	}

	unlock()
	<-done
	if atomic.LoadInt32(&counter) != 1 {
		t.Errorf("counter = %d, want 1", atomic.LoadInt32(&counter))
	}
}

func TestStripedLocksSharedReaders(t *testing.T) {
	locks := NewStripedLocks(8)
	key := "biblionarrator.records"

	first := locks.RLock(key)
	acquired := make(chan struct{})
	go func() {
		second := locks.RLock(key)
		second()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second reader blocked behind first reader")
	}
	first()
}

func TestStripedLocksDistribution(t *testing.T) {
	locks := NewStripedLocks(8)

	if a, b := locks.stripeIndex("same"), locks.stripeIndex("same"); a != b {
		t.Errorf("same key mapped to stripes %d and %d", a, b)
	}

	usage := make(map[uint32]int)
	for i := 0; i < 1000; i++ {
		usage[locks.stripeIndex(fmt.Sprintf("ks.table_%d", i))]++
	}
	if len(usage) < 6 {
		t.Errorf("only %d/8 stripes used, distribution may be poor", len(usage))
	}
}
