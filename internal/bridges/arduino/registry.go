package arduino

import "encoding/json"

// HandleID indexes a handle in the registry arena.
type HandleID int

// Handle is a logical device known to the registry. Handles are values;
// the registry owns the arena they are copied from.
type Handle struct {
	ID       HandleID `json:"id"`
	Identity Identity `json:"identity"`
	GUID     string   `json:"guid"`

	// Persisted is true when the handle was restored rather than observed.
	Persisted bool `json:"persisted"`
}

// Registry holds device handles keyed by identity. It is owned by the
// driver goroutine and is not safe for concurrent use.
type Registry struct {
	handles []Handle
	byKey   map[string]HandleID
	sink    EventSink
	writer  func(Identity, json.RawMessage) error
}

func newRegistry(sink EventSink, writer func(Identity, json.RawMessage) error) *Registry {
	return &Registry{
		byKey:  make(map[string]HandleID),
		sink:   sink,
		writer: writer,
	}
}

// Lookup returns the handle for id, if registered.
func (r *Registry) Lookup(id Identity) (Handle, bool) {
	hid, ok := r.byKey[id.Key()]
	if !ok {
		return Handle{}, false
	}
	return r.handles[hid], true
}

// Len returns the number of registered handles.
func (r *Registry) Len() int { return len(r.handles) }

// Handles returns a copy of every handle in registration order.
func (r *Registry) Handles() []Handle {
	out := make([]Handle, len(r.handles))
	copy(out, r.handles)
	return out
}

// ensure returns the handle for id, creating it and emitting a discovered
// event when it is new.
func (r *Registry) ensure(id Identity, persisted bool) (Handle, bool) {
	key := id.Key()
	if hid, ok := r.byKey[key]; ok {
		return r.handles[hid], false
	}

	h := Handle{ID: HandleID(len(r.handles)), Identity: id, GUID: key, Persisted: persisted}
	r.handles = append(r.handles, h)
	r.byKey[key] = h.ID
	r.sink.DeviceDiscovered(h)
	return h, true
}

// Deliver routes an inbound payload to the handle for id.
func (r *Registry) Deliver(id Identity, data json.RawMessage) Handle {
	h, _ := r.ensure(id, false)
	r.sink.DeviceData(h, data)
	return h
}

// Register creates a handle without inbound data. It reports whether the
// handle is new; registering a known identity is a no-op.
func (r *Registry) Register(id Identity) (Handle, bool) {
	return r.ensure(id, false)
}

// RegisterFromPersisted restores previously known devices from G_V_D
// strings. Strings with fewer than three parts are skipped. It returns the
// number of handles created.
func (r *Registry) RegisterFromPersisted(keys []string) (created int, skipped []string) {
	for _, key := range keys {
		id, err := ParseKey(key)
		if err != nil {
			skipped = append(skipped, key)
			continue
		}
		if _, isNew := r.ensure(id, true); isNew {
			created++
		}
	}
	return created, skipped
}

// Write sends data to id through the router, registered or not.
func (r *Registry) Write(id Identity, data json.RawMessage) error {
	return r.writer(id, data)
}
