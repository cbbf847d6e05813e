package bridge

import "testing"

func TestWarmupHoldsUntilPrimed(t *testing.T) {
	// 250 ms at 20 ms frames: 13 frames to prime.
	w := NewWarmupBuffer(250, 20, true)

	for i := int64(1); i <= 12; i++ {
		if out := w.Add(AudioFrame{Seq: i}); out != nil {
			t.Fatalf("frame %d released before priming: %v", i, out)
		}
	}
	out := w.Add(AudioFrame{Seq: 13})
	if len(out) != 13 {
		t.Fatalf("released %d frames at prime, want 13", len(out))
	}
	for i, f := range out {
		if f.Seq != int64(i+1) {
			t.Fatalf("release order broken at %d: seq %d", i, f.Seq)
		}
	}
	if !w.Primed() {
		t.Error("Primed() = false after release")
	}

	// Passthrough once primed.
	out = w.Add(AudioFrame{Seq: 14})
	if len(out) != 1 || out[0].Seq != 14 {
		t.Errorf("passthrough = %v", out)
	}
}

func TestWarmupFlushShortResponse(t *testing.T) {
	w := NewWarmupBuffer(250, 20, true)
	w.Add(AudioFrame{Seq: 1})
	w.Add(AudioFrame{Seq: 2})

	out := w.Flush()
	if len(out) != 2 || out[0].Seq != 1 || out[1].Seq != 2 {
		t.Fatalf("Flush() = %v", out)
	}
	if !w.Primed() {
		t.Error("Flush should prime the buffer")
	}
}

func TestWarmupDropOnBargeIn(t *testing.T) {
	w := NewWarmupBuffer(250, 20, true)
	w.Add(AudioFrame{Seq: 1})
	w.Add(AudioFrame{Seq: 2})

	if n := w.Drop(); n != 2 {
		t.Fatalf("Drop() = %d, want 2", n)
	}
	if out := w.Add(AudioFrame{Seq: 3}); len(out) != 1 {
		t.Errorf("post-drop frame held: %v", out)
	}
}

func TestWarmupDisabledPassesThrough(t *testing.T) {
	w := NewWarmupBuffer(250, 20, false)
	out := w.Add(AudioFrame{Seq: 1})
	if len(out) != 1 || out[0].Seq != 1 {
		t.Fatalf("disabled warmup held frame: %v", out)
	}
}

func TestWarmupReset(t *testing.T) {
	w := NewWarmupBuffer(40, 20, true) // 2 frames to prime
	w.Add(AudioFrame{Seq: 1})
	w.Add(AudioFrame{Seq: 2})
	if !w.Primed() {
		t.Fatal("not primed")
	}

	w.Reset()
	if w.Primed() {
		t.Fatal("Reset should re-arm")
	}
	if out := w.Add(AudioFrame{Seq: 3}); out != nil {
		t.Errorf("re-armed warmup released immediately: %v", out)
	}
}
