package keyed

import (
	"sync"
	"testing"
)

func TestMutex_SerializesSameKey(t *testing.T) {
	m := New()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Do("leg-1", func() { counter++ })
		}()
	}
	wg.Wait()
	if counter != 200 {
		t.Fatalf("expected 200, got %d", counter)
	}
	if m.Len() != 0 {
		t.Fatalf("expected entries released, got %d", m.Len())
	}
}

func TestMutex_DistinctKeysDoNotBlock(t *testing.T) {
	m := New()
	unlockA := m.Lock("a")
	done := make(chan struct{})
	go func() {
		m.Do("b", func() {})
		close(done)
	}()
	<-done
	unlockA()
	unlockA()
	if m.Len() != 0 {
		t.Fatalf("expected empty map, got %d", m.Len())
	}
}
