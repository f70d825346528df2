package events

// CallbackEvent calls registered functions synchronously on Notify.
// Callbacks run outside the internal lock, so a callback may deregister itself.
type CallbackEvent[T any] struct {
	reg registry[func(T), T]
}

// NewCallbackEvent creates a CallbackEvent. With replayLast set, a callback
// registered after the first Notify is called at once with the latest value.
func NewCallbackEvent[T any](replayLast bool) *CallbackEvent[T] {
	return &CallbackEvent[T]{reg: newRegistry[func(T), T](replayLast)}
}

// Listen registers callback and returns the function that deregisters it.
func (e *CallbackEvent[T]) Listen(callback func(T)) func() {
	if callback == nil {
		panic("callback cannot be nil")
	}
	id, last, replay := e.reg.add(callback)
	if replay {
		callback(last)
	}
	return func() { e.reg.remove(id) }
}

// Notify calls every registered callback with value.
func (e *CallbackEvent[T]) Notify(value T) {
	for _, callback := range e.reg.record(value) {
		callback(value)
	}
}

// ListenerCount reports how many callbacks are registered.
func (e *CallbackEvent[T]) ListenerCount() int {
	return e.reg.count()
}
