package audio_test

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

func seqFrame(n uint32) audio.AudioFrame {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, n)
	return audio.AudioFrame{Data: b}
}

func frameSeq(f audio.AudioFrame) uint32 {
	return binary.LittleEndian.Uint32(f.Data)
}

func TestFrameQueue_DefaultCapacity(t *testing.T) {
	q := audio.NewFrameQueue(0)
	if q.Cap() != audio.DefaultQueueCapacity {
		t.Errorf("Cap: got %d, want %d", q.Cap(), audio.DefaultQueueCapacity)
	}
}

func TestFrameQueue_OverflowDropsNewest(t *testing.T) {
	q := audio.NewFrameQueue(4)
	accepted := 0
	for i := range 6 {
		if q.TryPush(seqFrame(uint32(i))) {
			accepted++
		}
	}
	if accepted != 4 {
		t.Errorf("accepted: got %d, want 4", accepted)
	}
	if got := q.Dropped(); got != 2 {
		t.Errorf("Dropped: got %d, want 2", got)
	}
	if got := q.Len(); got != 4 {
		t.Errorf("Len: got %d, want 4", got)
	}
	for want := range uint32(4) {
		f, ok := q.TryPop()
		if !ok {
			t.Fatalf("TryPop %d: queue unexpectedly empty", want)
		}
		if got := frameSeq(f); got != want {
			t.Errorf("frame %d: got seq %d", want, got)
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Error("expected queue to be empty")
	}
}

func TestFrameQueue_FullLeavesContentsUnchanged(t *testing.T) {
	q := audio.NewFrameQueue(2)
	q.TryPush(seqFrame(10))
	q.TryPush(seqFrame(11))

	if q.TryPush(seqFrame(99)) {
		t.Fatal("TryPush on full queue returned true")
	}

	for _, want := range []uint32{10, 11} {
		f, ok := q.TryPop()
		if !ok || frameSeq(f) != want {
			t.Errorf("got (%v, %v), want seq %d", f, ok, want)
		}
	}
}

func TestFrameQueue_WrapAround(t *testing.T) {
	q := audio.NewFrameQueue(3)
	next := uint32(0)
	expect := uint32(0)
	for round := range 10 {
		for range 2 {
			if !q.TryPush(seqFrame(next)) {
				t.Fatalf("round %d: push %d rejected", round, next)
			}
			next++
		}
		for range 2 {
			f, ok := q.TryPop()
			if !ok {
				t.Fatalf("round %d: pop failed", round)
			}
			if frameSeq(f) != expect {
				t.Fatalf("round %d: got seq %d, want %d", round, frameSeq(f), expect)
			}
			expect++
		}
	}
}

func TestFrameQueue_PopTimeout(t *testing.T) {
	q := audio.NewFrameQueue(4)
	start := time.Now()
	_, ok := q.Pop(20 * time.Millisecond)
	if ok {
		t.Fatal("Pop on empty queue returned a frame")
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("Pop returned after %v, expected to wait for the timeout", elapsed)
	}
}

func TestFrameQueue_PopWakesOnPush(t *testing.T) {
	q := audio.NewFrameQueue(4)
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.TryPush(seqFrame(7))
	}()
	f, ok := q.Pop(2 * time.Second)
	if !ok {
		t.Fatal("Pop timed out despite a concurrent push")
	}
	if frameSeq(f) != 7 {
		t.Errorf("got seq %d, want 7", frameSeq(f))
	}
}

func TestFrameQueue_Close(t *testing.T) {
	q := audio.NewFrameQueue(4)
	q.TryPush(seqFrame(1))

	done := make(chan struct{})
	q.Close()
	q.Close() // idempotent

	go func() {
		defer close(done)
		if f, ok := q.Pop(time.Second); !ok || frameSeq(f) != 1 {
			t.Errorf("Pop after Close: got (%v, %v), want queued frame", f, ok)
		}
		start := time.Now()
		if _, ok := q.Pop(time.Second); ok {
			t.Error("Pop on closed empty queue returned a frame")
		}
		if time.Since(start) > 500*time.Millisecond {
			t.Error("Pop on closed queue waited for the timeout")
		}
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Pop did not return after Close")
	}

	if q.TryPush(seqFrame(2)) {
		t.Error("TryPush on closed queue returned true")
	}
}

func TestFrameQueue_Discard(t *testing.T) {
	q := audio.NewFrameQueue(8)
	for i := range 5 {
		q.TryPush(seqFrame(uint32(i)))
	}
	if n := q.Discard(); n != 5 {
		t.Errorf("Discard: got %d, want 5", n)
	}
	if q.Len() != 0 {
		t.Errorf("Len after Discard: got %d", q.Len())
	}
}

func TestFrameQueue_ConcurrentFIFO(t *testing.T) {
	const total = 20000
	q := audio.NewFrameQueue(16)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint32(0); i < total; {
			if q.TryPush(seqFrame(i)) {
				i++
				continue
			}
			// Full: yield to the consumer and retry the same frame.
			time.Sleep(time.Microsecond)
		}
	}()

	want := uint32(0)
	deadline := time.Now().Add(10 * time.Second)
	for want < total {
		if time.Now().After(deadline) {
			t.Fatalf("timed out after %d frames", want)
		}
		f, ok := q.Pop(50 * time.Millisecond)
		if !ok {
			continue
		}
		if got := frameSeq(f); got != want {
			t.Fatalf("out of order: got seq %d, want %d", got, want)
		}
		want++
	}
	wg.Wait()
}
