package bus

import (
	"sync"
	"testing"
	"time"
)

func TestFIFOOrderPerProducer(t *testing.T) {
	b := New()
	for i := 0; i < 5; i++ {
		b.Push(i)
	}
	for i := 0; i < 5; i++ {
		msg, ok := b.Receive()
		if !ok {
			t.Fatalf("Receive() returned ok=false for item %d", i)
		}
		if msg.(int) != i {
			t.Errorf("Receive() = %v, want %d", msg, i)
		}
	}
}

func TestReceiveBlocksUntilPush(t *testing.T) {
	b := New()
	done := make(chan interface{}, 1)
	go func() {
		msg, _ := b.Receive()
		done <- msg
	}()

	select {
	case <-done:
		t.Fatal("Receive() returned before any Push")
	case <-time.After(50 * time.Millisecond):
	}

	b.Push("hello")

	select {
	case msg := <-done:
		if msg != "hello" {
			t.Errorf("Receive() = %v, want hello", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive() did not unblock after Push")
	}
}

func TestCloseDrainsThenStops(t *testing.T) {
	b := New()
	b.Push(1)
	b.Push(2)
	b.Close()

	for _, want := range []int{1, 2} {
		msg, ok := b.Receive()
		if !ok {
			t.Fatalf("Receive() returned ok=false before queue drained")
		}
		if msg.(int) != want {
			t.Errorf("Receive() = %v, want %d", msg, want)
		}
	}

	if _, ok := b.Receive(); ok {
		t.Fatal("Receive() returned ok=true after queue drained and bus closed")
	}

	b.Push(3) // no-op, must not panic or deadlock
	if b.Len() != 0 {
		t.Errorf("Len() = %d after Push on a closed bus, want 0", b.Len())
	}
}

func TestConcurrentProducersNoPanicOrLoss(t *testing.T) {
	b := New()
	const producers = 8
	const perProducer = 50

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				b.Push(p*perProducer + i)
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for i := 0; i < producers*perProducer; i++ {
		msg, ok := b.Receive()
		if !ok {
			t.Fatalf("Receive() ok=false after only %d messages", i)
		}
		seen[msg.(int)] = true
	}
	if len(seen) != producers*perProducer {
		t.Errorf("received %d distinct messages, want %d", len(seen), producers*perProducer)
	}
}
