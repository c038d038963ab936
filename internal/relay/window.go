package relay

// window is a bounded set of recently seen message IDs; the oldest ID is
// forgotten first.
type window struct {
	ring []string
	next int
	ids  map[string]struct{}
}

func newWindow(n int) *window {
	return &window{ring: make([]string, n), ids: make(map[string]struct{}, n)}
}

// add reports false if id is already in the window.
func (w *window) add(id string) bool {
	if _, ok := w.ids[id]; ok {
		return false
	}
	if old := w.ring[w.next]; old != "" {
		delete(w.ids, old)
	}
	w.ring[w.next] = id
	w.ids[id] = struct{}{}
	w.next = (w.next + 1) % len(w.ring)
	return true
}
