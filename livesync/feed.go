package livesync

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"
)

// MessageFeed holds inbound broadcast messages. append-only from the client's
// perspective, duplicate-suppressed by origin message id, and cleared at local
// wall-clock midnight to bound growth.

type MessageFeed struct {
	mutex    sync.Mutex
	messages []*BroadcastMessage
	seen     map[string]bool

	changeCallbacks *CallbackList[func()]

	// replaceable for tests
	now func() time.Time
}

func NewMessageFeed() *MessageFeed {
	return &MessageFeed{
		seen:            map[string]bool{},
		changeCallbacks: NewCallbackList[func()](),
		now:             time.Now,
	}
}

// the returned func removes the callback
func (self *MessageFeed) AddChangeCallback(change func()) func() {
	callbackId := self.changeCallbacks.Add(change)
	return func() {
		self.changeCallbacks.Remove(callbackId)
	}
}

func (self *MessageFeed) notify() {
	for _, change := range self.changeCallbacks.Get() {
		change()
	}
}

// Add appends a message unless its origin id was already seen.
// redelivery after a reconnect is a no-op.
func (self *MessageFeed) Add(message *BroadcastMessage) {
	if message == nil || message.MessageId == "" {
		glog.V(1).Infof("[feed]drop message with no origin id\n")
		return
	}

	self.mutex.Lock()
	if self.seen[message.MessageId] {
		self.mutex.Unlock()
		return
	}
	self.seen[message.MessageId] = true
	self.messages = append(self.messages, message)
	self.mutex.Unlock()

	self.notify()
}

// Messages returns a fresh slice, newest first
func (self *MessageFeed) Messages() []*BroadcastMessage {
	self.mutex.Lock()
	messages := append([]*BroadcastMessage{}, self.messages...)
	self.mutex.Unlock()

	sort.SliceStable(messages, func(i int, j int) bool {
		return messages[i].ReceivedAt.After(messages[j].ReceivedAt)
	})
	return messages
}

func (self *MessageFeed) Len() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.messages)
}

// Reset clears the feed and the duplicate-suppression set
func (self *MessageFeed) Reset() {
	self.mutex.Lock()
	self.messages = nil
	self.seen = map[string]bool{}
	self.mutex.Unlock()

	self.notify()
}

// Start arms the daily reset timer. the feed clears at the next local
// midnight and every midnight after, until the returned stop func is called
// or ctx is done. arm once per mount and always stop on teardown.
func (self *MessageFeed) Start(ctx context.Context) func() {
	cancelCtx, cancel := context.WithCancel(ctx)
	go func() {
		for {
			now := self.now()
			timer := time.NewTimer(nextMidnight(now).Sub(now))
			select {
			case <-cancelCtx.Done():
				timer.Stop()
				return
			case <-timer.C:
				glog.V(1).Infof("[feed]daily reset\n")
				self.Reset()
			}
		}
	}()
	return cancel
}

func nextMidnight(now time.Time) time.Time {
	year, month, day := now.Date()
	return time.Date(year, month, day+1, 0, 0, 0, 0, now.Location())
}
