package gallery

import "sync"

// EventKind names a state transition of the engine.
type EventKind string

const (
	EventLoading    EventKind = "loading"
	EventLoaded     EventKind = "loaded"
	EventLoadFailed EventKind = "load_failed"
	EventChanged    EventKind = "changed"
	EventSaving     EventKind = "saving"
	EventProgress   EventKind = "progress"
	EventSaved      EventKind = "saved"
	EventSaveFailed EventKind = "save_failed"
)

// Event is delivered to subscribers after every state transition.
type Event struct {
	Kind EventKind `json:"kind"`
	View View      `json:"view"`
}

// hub fans events out to subscribers. Sends never block: a subscriber
// whose buffer is full misses the event.
type hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan Event)}
}

func (h *hub) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}

	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once

	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}

	return ch, cancel
}

// publish returns the number of subscribers that missed the event.
func (h *hub) publish(ev Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	dropped := 0

	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			dropped++
		}
	}

	return dropped
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs)
}
