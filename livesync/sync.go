package livesync

import (
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"
)

// Synchronizer merges a bulk-fetch snapshot with an at-least-once push stream
// into one ordered, duplicate-free collection per entity type. every view reads
// the same collection. all apply operations are idempotent so that duplicate
// delivery after a reconnect is absorbed silently.

type ChangeKind string

const (
	ChangeSnapshot ChangeKind = "snapshot"
	ChangeCreate   ChangeKind = "create"
	ChangeUpdate   ChangeKind = "update"
	ChangeDelete   ChangeKind = "delete"
	ChangeCounter  ChangeKind = "counter"
)

type ChangeOrigin string

const (
	OriginLocal  ChangeOrigin = "local"
	OriginRemote ChangeOrigin = "remote"
)

type ChangeEvent struct {
	Kind   ChangeKind
	Id     int64
	Origin ChangeOrigin
}

type ChangeFunc = func(event ChangeEvent)

// adapter functions bind a synchronizer to a concrete entity type.
// `Counter`/`WithCounter` are optional; the other three are required.
type SyncAdapter[T any] struct {
	ItemId      func(item T) int64
	CreatedTime func(item T) time.Time
	Merge       func(existing T, update T) T
	Counter     func(item T) int64
	WithCounter func(item T, value int64) T
}

type Synchronizer[T any] struct {
	adapter *SyncAdapter[T]
	stats   *StatCollector

	mutex          sync.Mutex
	snapshotLoaded bool
	// ops that arrived before the first snapshot, replayed in arrival order
	buffered    []func()
	items       map[int64]T
	optimistic  map[string]T
	localWrites map[int64]int
	highlightId int64

	changeCallbacks *CallbackList[ChangeFunc]
}

func NewSynchronizer[T any](adapter *SyncAdapter[T]) *Synchronizer[T] {
	return NewSynchronizerWithStats(adapter, nil)
}

func NewSynchronizerWithStats[T any](adapter *SyncAdapter[T], stats *StatCollector) *Synchronizer[T] {
	if adapter == nil || adapter.ItemId == nil || adapter.CreatedTime == nil || adapter.Merge == nil {
		panic("sync adapter must define ItemId, CreatedTime and Merge")
	}
	return &Synchronizer[T]{
		adapter:         adapter,
		stats:           stats,
		items:           map[int64]T{},
		optimistic:      map[string]T{},
		localWrites:     map[int64]int{},
		changeCallbacks: NewCallbackList[ChangeFunc](),
	}
}

// the returned func removes the callback
func (self *Synchronizer[T]) AddChangeCallback(change ChangeFunc) func() {
	callbackId := self.changeCallbacks.Add(change)
	return func() {
		self.changeCallbacks.Remove(callbackId)
	}
}

func (self *Synchronizer[T]) notify(event ChangeEvent) {
	for _, change := range self.changeCallbacks.Get() {
		change(event)
	}
}

// LoadSnapshot replaces the collection wholesale, then replays any events that
// arrived while the fetch was in flight. a create fired by another session
// during the initial load is not lost to the snapshot overwrite.
func (self *Synchronizer[T]) LoadSnapshot(items []T) {
	self.mutex.Lock()
	nextItems := map[int64]T{}
	for _, item := range items {
		itemId := self.adapter.ItemId(item)
		if itemId == 0 {
			glog.V(1).Infof("[sync]drop snapshot item with no id\n")
			self.stats.RecordMalformed()
			continue
		}
		nextItems[itemId] = item
	}
	self.items = nextItems
	self.snapshotLoaded = true
	buffered := self.buffered
	self.buffered = nil
	for _, apply := range buffered {
		apply()
	}
	self.mutex.Unlock()

	self.stats.RecordApplied(string(ChangeSnapshot))
	self.notify(ChangeEvent{Kind: ChangeSnapshot, Origin: OriginRemote})
}

func (self *Synchronizer[T]) Loaded() bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.snapshotLoaded
}

// ApplyCreate inserts the item unless the id is already present.
// a duplicate is a no-op, not an overwrite.
func (self *Synchronizer[T]) ApplyCreate(item T) {
	itemId := self.adapter.ItemId(item)
	if itemId == 0 {
		glog.V(1).Infof("[sync]drop create with no id\n")
		self.stats.RecordMalformed()
		return
	}

	self.mutex.Lock()
	if !self.snapshotLoaded {
		self.buffered = append(self.buffered, func() {
			self.applyCreateLocked(itemId, item)
		})
		self.mutex.Unlock()
		return
	}
	applied, silent := self.applyCreateLocked(itemId, item)
	self.mutex.Unlock()

	if !applied {
		self.stats.RecordDuplicate()
		return
	}
	self.stats.RecordApplied(string(ChangeCreate))
	if !silent {
		self.notify(ChangeEvent{Kind: ChangeCreate, Id: itemId, Origin: OriginRemote})
	}
}

func (self *Synchronizer[T]) applyCreateLocked(itemId int64, item T) (bool, bool) {
	if _, ok := self.items[itemId]; ok {
		return false, false
	}
	self.items[itemId] = item
	return true, self.consumeLocalWriteLocked(itemId)
}

// ApplyUpdate merges fields into the existing entity. an unknown id is a stale
// event for an entity not yet loaded and is dropped; a later full reload heals.
func (self *Synchronizer[T]) ApplyUpdate(update T) {
	itemId := self.adapter.ItemId(update)
	if itemId == 0 {
		glog.V(1).Infof("[sync]drop update with no id\n")
		self.stats.RecordMalformed()
		return
	}

	self.mutex.Lock()
	if !self.snapshotLoaded {
		self.buffered = append(self.buffered, func() {
			self.applyUpdateLocked(itemId, update)
		})
		self.mutex.Unlock()
		return
	}
	applied, silent := self.applyUpdateLocked(itemId, update)
	self.mutex.Unlock()

	if !applied {
		self.stats.RecordStale()
		return
	}
	self.stats.RecordApplied(string(ChangeUpdate))
	if !silent {
		self.notify(ChangeEvent{Kind: ChangeUpdate, Id: itemId, Origin: OriginRemote})
	}
}

func (self *Synchronizer[T]) applyUpdateLocked(itemId int64, update T) (bool, bool) {
	existing, ok := self.items[itemId]
	if !ok {
		return false, false
	}
	self.items[itemId] = self.adapter.Merge(existing, update)
	return true, self.consumeLocalWriteLocked(itemId)
}

// ApplyUpsert inserts the entity if absent and merges if present. save-style
// events carry the full entity and cannot tell create from update, so the
// decision is made against the state current at apply time. for an event
// buffered before the first snapshot that is the state after the snapshot
// installed, never the empty collection the event arrived into.
func (self *Synchronizer[T]) ApplyUpsert(item T) {
	itemId := self.adapter.ItemId(item)
	if itemId == 0 {
		glog.V(1).Infof("[sync]drop upsert with no id\n")
		self.stats.RecordMalformed()
		return
	}

	self.mutex.Lock()
	if !self.snapshotLoaded {
		self.buffered = append(self.buffered, func() {
			self.applyUpsertLocked(itemId, item)
		})
		self.mutex.Unlock()
		return
	}
	created, silent := self.applyUpsertLocked(itemId, item)
	self.mutex.Unlock()

	kind := ChangeUpdate
	if created {
		kind = ChangeCreate
	}
	self.stats.RecordApplied(string(kind))
	if !silent {
		self.notify(ChangeEvent{Kind: kind, Id: itemId, Origin: OriginRemote})
	}
}

func (self *Synchronizer[T]) applyUpsertLocked(itemId int64, item T) (bool, bool) {
	existing, ok := self.items[itemId]
	if ok {
		self.items[itemId] = self.adapter.Merge(existing, item)
	} else {
		self.items[itemId] = item
	}
	return !ok, self.consumeLocalWriteLocked(itemId)
}

// ApplyDelete removes by id. repeated delete is a no-op.
func (self *Synchronizer[T]) ApplyDelete(itemId int64) {
	if itemId == 0 {
		self.stats.RecordMalformed()
		return
	}

	self.mutex.Lock()
	if !self.snapshotLoaded {
		self.buffered = append(self.buffered, func() {
			self.applyDeleteLocked(itemId)
		})
		self.mutex.Unlock()
		return
	}
	applied := self.applyDeleteLocked(itemId)
	self.mutex.Unlock()

	if !applied {
		self.stats.RecordDuplicate()
		return
	}
	self.stats.RecordApplied(string(ChangeDelete))
	self.notify(ChangeEvent{Kind: ChangeDelete, Id: itemId, Origin: OriginRemote})
}

func (self *Synchronizer[T]) applyDeleteLocked(itemId int64) bool {
	if _, ok := self.items[itemId]; !ok {
		return false
	}
	delete(self.items, itemId)
	if self.highlightId == itemId {
		self.highlightId = 0
	}
	return true
}

// ApplyCounterUpdate sets the monotonic counter field to `value` only if it
// strictly increases. an equal value means duplicate delivery and must not
// re-trigger change notifications.
func (self *Synchronizer[T]) ApplyCounterUpdate(itemId int64, value int64) {
	if self.adapter.Counter == nil || self.adapter.WithCounter == nil {
		glog.Errorf("[sync]counter update on a type with no counter adapter\n")
		return
	}
	if itemId == 0 {
		self.stats.RecordMalformed()
		return
	}

	self.mutex.Lock()
	if !self.snapshotLoaded {
		self.buffered = append(self.buffered, func() {
			self.applyCounterLocked(itemId, value)
		})
		self.mutex.Unlock()
		return
	}
	applied, silent := self.applyCounterLocked(itemId, value)
	self.mutex.Unlock()

	if !applied {
		self.stats.RecordStale()
		return
	}
	self.stats.RecordApplied(string(ChangeCounter))
	if !silent {
		self.notify(ChangeEvent{Kind: ChangeCounter, Id: itemId, Origin: OriginRemote})
	}
}

func (self *Synchronizer[T]) applyCounterLocked(itemId int64, value int64) (bool, bool) {
	existing, ok := self.items[itemId]
	if !ok {
		return false, false
	}
	if value <= self.adapter.Counter(existing) {
		// the echo of a local bump usually arrives with an equal count and is
		// dropped here. consume the suppression mark anyway, so the next
		// genuinely remote counter event is not silenced.
		self.consumeLocalWriteLocked(itemId)
		return false, false
	}
	self.items[itemId] = self.adapter.WithCounter(existing, value)
	return true, self.consumeLocalWriteLocked(itemId)
}

// BumpCounter is the local-origin counter path: the immediate optimistic bump
// when the user opens a detail view. the same monotonic rule applies, and an
// applied bump marks one push echo for silent absorption.
func (self *Synchronizer[T]) BumpCounter(itemId int64, value int64) {
	if self.adapter.Counter == nil || self.adapter.WithCounter == nil {
		glog.Errorf("[sync]counter bump on a type with no counter adapter\n")
		return
	}

	self.mutex.Lock()
	existing, ok := self.items[itemId]
	if !ok || value <= self.adapter.Counter(existing) {
		self.mutex.Unlock()
		return
	}
	self.items[itemId] = self.adapter.WithCounter(existing, value)
	self.localWrites[itemId] += 1
	self.mutex.Unlock()

	self.stats.RecordApplied(string(ChangeCounter))
	self.notify(ChangeEvent{Kind: ChangeCounter, Id: itemId, Origin: OriginLocal})
}

// ApplyOptimistic inserts an item under a temporary key before the server has
// assigned a real id. the item is visible in `Items` immediately.
func (self *Synchronizer[T]) ApplyOptimistic(tempKey string, item T) {
	self.mutex.Lock()
	self.optimistic[tempKey] = item
	self.mutex.Unlock()

	self.stats.RecordApplied(string(ChangeCreate))
	self.notify(ChangeEvent{Kind: ChangeCreate, Origin: OriginLocal})
}

// ReconcileOptimistic replaces the temporary item with the server-confirmed
// entity. if a push event for the same server id arrived first, the two are
// merged rather than duplicated. the push echo that follows a reconcile is
// absorbed silently.
func (self *Synchronizer[T]) ReconcileOptimistic(tempKey string, serverItem T) {
	itemId := self.adapter.ItemId(serverItem)

	self.mutex.Lock()
	delete(self.optimistic, tempKey)
	if itemId == 0 {
		self.mutex.Unlock()
		glog.V(1).Infof("[sync]drop reconcile with no server id\n")
		self.stats.RecordMalformed()
		return
	}
	self.commitLocked(itemId, serverItem)
	self.localWrites[itemId] += 1
	if !self.snapshotLoaded {
		// a first snapshot fetched before this create confirms would
		// overwrite the row. re-commit on replay.
		self.buffered = append(self.buffered, func() {
			self.commitLocked(itemId, serverItem)
		})
	}
	self.mutex.Unlock()

	self.notify(ChangeEvent{Kind: ChangeCreate, Id: itemId, Origin: OriginLocal})
}

func (self *Synchronizer[T]) commitLocked(itemId int64, serverItem T) {
	if existing, ok := self.items[itemId]; ok {
		self.items[itemId] = self.adapter.Merge(existing, serverItem)
	} else {
		self.items[itemId] = serverItem
	}
}

// RollbackOptimistic drops a pending optimistic item after a server rejection
func (self *Synchronizer[T]) RollbackOptimistic(tempKey string) {
	self.mutex.Lock()
	_, ok := self.optimistic[tempKey]
	delete(self.optimistic, tempKey)
	self.mutex.Unlock()

	if !ok {
		return
	}
	self.stats.RecordRollback()
	self.notify(ChangeEvent{Kind: ChangeDelete, Origin: OriginLocal})
}

// Replace swaps a committed entity wholesale. used for local optimistic edits
// and their rollbacks, where merge-by-field would resurrect cleared values.
func (self *Synchronizer[T]) Replace(item T) bool {
	itemId := self.adapter.ItemId(item)

	self.mutex.Lock()
	if _, ok := self.items[itemId]; !ok {
		self.mutex.Unlock()
		return false
	}
	self.items[itemId] = item
	self.mutex.Unlock()

	self.notify(ChangeEvent{Kind: ChangeUpdate, Id: itemId, Origin: OriginLocal})
	return true
}

// Restore puts an entity back regardless of presence. rollback of a local delete.
func (self *Synchronizer[T]) Restore(item T) {
	itemId := self.adapter.ItemId(item)
	if itemId == 0 {
		return
	}

	self.mutex.Lock()
	self.items[itemId] = item
	self.mutex.Unlock()

	self.notify(ChangeEvent{Kind: ChangeUpdate, Id: itemId, Origin: OriginLocal})
}

// MarkLocalWrite marks the next remote event for `itemId` as the echo of a
// self-initiated change. the echo is applied but not re-announced, so the
// caller's own edit does not toast twice.
func (self *Synchronizer[T]) MarkLocalWrite(itemId int64) {
	self.mutex.Lock()
	self.localWrites[itemId] += 1
	self.mutex.Unlock()
}

func (self *Synchronizer[T]) consumeLocalWriteLocked(itemId int64) bool {
	n := self.localWrites[itemId]
	if n == 0 {
		return false
	}
	if n == 1 {
		delete(self.localWrites, itemId)
	} else {
		self.localWrites[itemId] = n - 1
	}
	return true
}

func (self *Synchronizer[T]) Get(itemId int64) (T, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	item, ok := self.items[itemId]
	return item, ok
}

func (self *Synchronizer[T]) Len() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.items) + len(self.optimistic)
}

// Highlight pins exactly one id to the front of `Items` without otherwise
// perturbing the order. used when arriving via a deep link.
func (self *Synchronizer[T]) Highlight(itemId int64) {
	self.mutex.Lock()
	self.highlightId = itemId
	self.mutex.Unlock()
}

func (self *Synchronizer[T]) ClearHighlight() {
	self.mutex.Lock()
	self.highlightId = 0
	self.mutex.Unlock()
}

type syncRow[T any] struct {
	item    T
	itemId  int64
	tempKey string
}

// Items returns a fresh slice ordered by creation time descending, the
// highlighted id first if set. callers own the slice and must not reach back
// into the synchronizer to mutate entries.
func (self *Synchronizer[T]) Items() []T {
	self.mutex.Lock()
	rows := make([]syncRow[T], 0, len(self.items)+len(self.optimistic))
	for itemId, item := range self.items {
		rows = append(rows, syncRow[T]{item: item, itemId: itemId})
	}
	for tempKey, item := range self.optimistic {
		rows = append(rows, syncRow[T]{item: item, tempKey: tempKey})
	}
	highlightId := self.highlightId
	self.mutex.Unlock()

	sort.Slice(rows, func(i int, j int) bool {
		a := rows[i]
		b := rows[j]
		if highlightId != 0 {
			if a.itemId == highlightId {
				return true
			}
			if b.itemId == highlightId {
				return false
			}
		}
		at := self.adapter.CreatedTime(a.item)
		bt := self.adapter.CreatedTime(b.item)
		if !at.Equal(bt) {
			return at.After(bt)
		}
		if a.tempKey != b.tempKey {
			// optimistic rows carry ulid temp keys; newer keys sort first.
			// committed rows ("") sort after optimistic on a tie.
			return b.tempKey < a.tempKey
		}
		return b.itemId < a.itemId
	})

	items := make([]T, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.item)
	}
	return items
}
