package ws

// Subscriber abstracts a streaming dashboard client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages service rooms: the sets of live sessions subscribed to one
// logical service's event stream. Rooms are ephemeral; they vanish with the
// process and are rebuilt from live session state.
type Hub struct {
	rooms   map[string]map[Subscriber]struct{}
	join    chan membership
	leave   chan membership
	publish chan event
}

// event couples a payload with the service room it belongs to.
type event struct {
	service string
	payload []byte
}

// membership defines join/leave requests.
type membership struct {
	service string
	client  Subscriber
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		rooms:   make(map[string]map[Subscriber]struct{}),
		join:    make(chan membership),
		leave:   make(chan membership),
		publish: make(chan event),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case m := <-h.join:
			if _, ok := h.rooms[m.service]; !ok {
				h.rooms[m.service] = make(map[Subscriber]struct{})
			}
			h.rooms[m.service][m.client] = struct{}{}
		case m := <-h.leave:
			if room, ok := h.rooms[m.service]; ok {
				delete(room, m.client)
				if len(room) == 0 {
					delete(h.rooms, m.service)
				}
			}
		case ev := <-h.publish:
			if room, ok := h.rooms[ev.service]; ok {
				for c := range room {
					if err := c.Send(ev.payload); err != nil {
						c.Close()
						delete(room, c)
					}
				}
				if len(room) == 0 {
					delete(h.rooms, ev.service)
				}
			}
		}
	}
}

// Join adds a client to a service room.
func (h *Hub) Join(service string, client Subscriber) {
	h.join <- membership{service: service, client: client}
}

// Leave removes a client from a service room.
func (h *Hub) Leave(service string, client Subscriber) {
	h.leave <- membership{service: service, client: client}
}

// Publish delivers payload to every session currently in the service room.
// Delivery is at-most-once and non-durable; there is no replay buffer.
func (h *Hub) Publish(service string, payload []byte) {
	h.publish <- event{service: service, payload: payload}
}
