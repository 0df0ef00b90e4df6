package viewer

import (
	"fmt"
	"sync"
	"time"
)

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, c: make(chan time.Time, 1)}
	c.timers = append(c.timers, t)
	return t
}

// active returns timers that were neither stopped nor fired.
func (c *fakeClock) active() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if t.pending() {
			out = append(out, t)
		}
	}
	return out
}

type fakeTimer struct {
	mu      sync.Mutex
	d       time.Duration
	c       chan time.Time
	stopped bool
	fired   bool
}

func (t *fakeTimer) C() <-chan time.Time { return t.c }

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasPending := !t.stopped && !t.fired
	t.stopped = true
	return wasPending
}

func (t *fakeTimer) pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped && !t.fired
}

func (t *fakeTimer) fire() {
	t.mu.Lock()
	t.fired = true
	t.mu.Unlock()
	t.c <- time.Now()
}

type recordingStage struct {
	mu     sync.Mutex
	events []string
	notify chan string
}

func newRecordingStage() *recordingStage {
	return &recordingStage{notify: make(chan string, 64)}
}

func (s *recordingStage) record(event string) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	select {
	case s.notify <- event:
	default:
	}
}

func (s *recordingStage) Show(asset *Asset) { s.record("show " + asset.Name) }

func (s *recordingStage) PlayOnce(clip Clip, speed float64) {
	s.record(fmt.Sprintf("play %s x%g", clip.Name, speed))
}

func (s *recordingStage) Render(time.Duration) {}

func (s *recordingStage) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	copy(out, s.events)
	return out
}

var (
	baseAsset  = &Asset{Name: "avatar.glb"}
	helloAsset = &Asset{Name: "hello.glb", Clips: []Clip{{Name: "Hello", Duration: 2400 * time.Millisecond}}}
)

func testTriggers() map[string]string {
	return map[string]string{"HELLO_LSF": "hello.glb"}
}
