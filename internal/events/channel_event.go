package events

// ChannelEvent fans a value out to registered channels.
// Delivery never blocks: a listener whose channel is full misses that value,
// so a slow display can never stall a BLE callback or a periodic job.
type ChannelEvent[T any] struct {
	reg registry[chan<- T, T]
}

// NewChannelEvent creates a ChannelEvent. With replayLast set, a channel that
// starts listening after the first Notify immediately receives the latest value.
func NewChannelEvent[T any](replayLast bool) *ChannelEvent[T] {
	return &ChannelEvent[T]{reg: newRegistry[chan<- T, T](replayLast)}
}

// Listen registers ch and returns the function that deregisters it.
// Deregistering more than once is harmless.
func (e *ChannelEvent[T]) Listen(ch chan<- T) func() {
	if ch == nil {
		panic("channel cannot be nil")
	}
	id, last, replay := e.reg.add(ch)
	if replay {
		select {
		case ch <- last:
		default:
		}
	}
	return func() { e.reg.remove(id) }
}

// Notify offers value to every listener without blocking.
func (e *ChannelEvent[T]) Notify(value T) {
	for _, ch := range e.reg.record(value) {
		select {
		case ch <- value:
		default:
		}
	}
}

// Last returns the most recently notified value when replay is enabled.
func (e *ChannelEvent[T]) Last() (T, bool) {
	return e.reg.lastValue()
}

// ListenerCount reports how many channels are registered.
func (e *ChannelEvent[T]) ListenerCount() int {
	return e.reg.count()
}
