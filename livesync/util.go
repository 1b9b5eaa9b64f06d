package livesync

import (
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// makes a copy of the list on update so that `Get` can be iterated without a lock
type CallbackList[T any] struct {
	mutex     sync.Mutex
	nextId    int
	callbacks []*callbackEntry[T]
}

type callbackEntry[T any] struct {
	callbackId int
	callback   T
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{}
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbacks := make([]T, 0, len(self.callbacks))
	for _, entry := range self.callbacks {
		callbacks = append(callbacks, entry.callback)
	}
	return callbacks
}

func (self *CallbackList[T]) Add(callback T) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.nextId += 1
	callbackId := self.nextId
	nextCallbacks := slices.Clone(self.callbacks)
	nextCallbacks = append(nextCallbacks, &callbackEntry[T]{
		callbackId: callbackId,
		callback:   callback,
	})
	self.callbacks = nextCallbacks
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	i := slices.IndexFunc(self.callbacks, func(entry *callbackEntry[T]) bool {
		return entry.callbackId == callbackId
	})
	if i < 0 {
		// not present
		return
	}
	nextCallbacks := slices.Clone(self.callbacks)
	nextCallbacks = slices.Delete(nextCallbacks, i, i+1)
	self.callbacks = nextCallbacks
}

func (self *CallbackList[T]) Len() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.callbacks)
}

func nowUtc() time.Time {
	return time.Now().UTC()
}

type Reconnect struct {
	after <-chan time.Time
}

func NewReconnect(timeout time.Duration) *Reconnect {
	return &Reconnect{
		after: time.After(timeout),
	}
}

func (self *Reconnect) After() <-chan time.Time {
	return self.after
}
