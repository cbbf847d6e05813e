package bridge

// WarmupBuffer absorbs provider connection jitter by holding the first few
// outbound frames until a target depth is reached, then releasing them in
// order and passing everything through. Costs a few hundred milliseconds of
// startup latency, eliminates audible stutter on the first response.
type WarmupBuffer struct {
	target int
	held   []AudioFrame
	primed bool
}

// NewWarmupBuffer sizes the buffer for targetMs of audio at frameMs per
// frame. Disabled (or zero targetMs) means frames pass straight through.
func NewWarmupBuffer(targetMs, frameMs int, enabled bool) *WarmupBuffer {
	if !enabled || targetMs <= 0 || frameMs <= 0 {
		return &WarmupBuffer{primed: true}
	}
	target := (targetMs + frameMs - 1) / frameMs
	return &WarmupBuffer{target: target}
}

// Add offers one frame and returns the frames ready for release, in order.
// While priming it returns nil; the frame that reaches the target releases
// the whole run.
func (w *WarmupBuffer) Add(f AudioFrame) []AudioFrame {
	if w.primed {
		return []AudioFrame{f}
	}
	w.held = append(w.held, f)
	if len(w.held) < w.target {
		return nil
	}
	w.primed = true
	out := w.held
	w.held = nil
	return out
}

// Flush releases whatever is held without waiting for the target, for
// responses shorter than the warm-up window.
func (w *WarmupBuffer) Flush() []AudioFrame {
	w.primed = true
	out := w.held
	w.held = nil
	return out
}

// Drop discards held frames, used on barge-in.
func (w *WarmupBuffer) Drop() int {
	n := len(w.held)
	w.held = nil
	w.primed = true
	return n
}

// Primed reports whether the buffer has released its initial run.
func (w *WarmupBuffer) Primed() bool {
	return w.primed
}

// Reset re-arms the warm-up for a fresh provider connection.
func (w *WarmupBuffer) Reset() {
	w.held = nil
	w.primed = w.target == 0
}
