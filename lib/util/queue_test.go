package util

import (
	"sync"
	"testing"
	"time"
)

// TestQueueBasicOperations tests push and pop in a single goroutine
func TestQueueBasicOperations(t *testing.T) {
	q := NewQueue[int]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		if !q.Push(i) {
			t.Fatalf("Failed to push item %d", i)
		}
	}

	if q.Len() != 10 {
		t.Errorf("Expected length 10, got %d", q.Len())
	}

	for i := 0; i < 10; i++ {
		val, ok := q.Pop()
		if !ok {
			t.Fatalf("Queue reported drained at item %d", i)
		}
		if val != i {
			t.Errorf("Expected %d, got %d", i, val)
		}
	}

	if q.Len() != 0 {
		t.Errorf("Queue should be empty, has %d items", q.Len())
	}
}

// TestQueuePopBlocks verifies that Pop waits for a producer
func TestQueuePopBlocks(t *testing.T) {
	q := NewQueue[string]()
	defer q.Close()

	got := make(chan string)
	go func() {
		v, _ := q.Pop()
		got <- v
	}()

	select {
	case v := <-got:
		t.Fatalf("Pop returned %q before anything was pushed", v)
	case <-time.After(20 * time.Millisecond):
	}

	q.Push("hello")

	select {
	case v := <-got:
		if v != "hello" {
			t.Errorf("Expected hello, got %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for Pop")
	}
}

// TestQueueClose verifies that queued items survive Close and pushes are rejected afterwards
func TestQueueClose(t *testing.T) {
	q := NewQueue[int]()
	q.Push(1)
	q.Push(2)
	q.Close()

	if !q.IsClosed() {
		t.Error("Queue should be closed")
	}
	if q.Push(3) {
		t.Error("Push after Close should fail")
	}

	for _, want := range []int{1, 2} {
		v, ok := q.Pop()
		if !ok || v != want {
			t.Errorf("Expected (%d, true), got (%d, %t)", want, v, ok)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop on a drained closed queue should report false")
	}
}

// TestQueueCloseWakesConsumer verifies a blocked consumer returns on Close
func TestQueueCloseWakesConsumer(t *testing.T) {
	q := NewQueue[int]()
	done := make(chan bool)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Expected drained result after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("Consumer was not woken up by Close")
	}
}

// TestQueueOrderingPerProducer verifies that items of each producer arrive in order
func TestQueueOrderingPerProducer(t *testing.T) {
	q := NewQueue[[2]int]()
	defer q.Close()

	const producers = 8
	const perProducer = 2000

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push([2]int{p, i})
			}
		}(p)
	}

	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	for n := 0; n < producers*perProducer; n++ {
		item, ok := q.Pop()
		if !ok {
			t.Fatalf("Queue drained early after %d items", n)
		}
		if item[1] != last[item[0]]+1 {
			t.Fatalf("Producer %d: expected item %d, got %d", item[0], last[item[0]]+1, item[1])
		}
		last[item[0]] = item[1]
	}
	wg.Wait()
}

// TestQueueCompaction pushes and pops interleaved to exercise buffer reuse
func TestQueueCompaction(t *testing.T) {
	q := NewQueue[int]()
	defer q.Close()

	next := 0
	for round := 0; round < 50; round++ {
		for i := 0; i < 100; i++ {
			q.Push(round*100 + i)
		}
		for i := 0; i < 70; i++ {
			v, _ := q.Pop()
			if v != next {
				t.Fatalf("Expected %d, got %d", next, v)
			}
			next++
		}
	}
	if q.Len() != 50*30 {
		t.Errorf("Expected %d remaining items, got %d", 50*30, q.Len())
	}
}

func BenchmarkQueuePushPop(b *testing.B) {
	q := NewQueue[int]()
	defer q.Close()
	for i := 0; i < b.N; i++ {
		q.Push(i)
		q.Pop()
	}
}
