package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"bankd/db"
	"bankd/jsonx"
	"bankd/logx"
	"bankd/types"
)

// EventStore is the append-only audit trail. Events are held in memory in
// insertion order (the authoritative sequence for queries) with indexes by
// account id and by kind, and mirrored to the provider for durability.
// The log is never used to recompute balances.
type EventStore struct {
	mu         sync.RWMutex
	dbProvider db.IterableProvider
	events     []*types.Event
	byAccount  map[uint64][]int
	byKind     map[types.EventKind][]int
	nextID     uint64
}

func NewEventStore(dbProvider db.IterableProvider) (*EventStore, error) {
	if dbProvider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}

	es := &EventStore{
		dbProvider: dbProvider,
		byAccount:  make(map[uint64][]int),
		byKind:     make(map[types.EventKind][]int),
	}
	if err := es.load(); err != nil {
		return nil, err
	}
	return es, nil
}

// load rebuilds the in-memory sequence and indexes from the provider.
// Keys are zero-padded ids, so prefix iteration yields insertion order.
func (es *EventStore) load() error {
	err := es.dbProvider.IteratePrefix([]byte(PrefixEvent), func(key, value []byte) bool {
		var event types.Event
		if err := jsonx.Unmarshal(value, &event); err != nil {
			logx.Warn("EVENT_STORE", "Skipping undecodable event record: ", err.Error())
			return true
		}
		es.index(&event)
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to iterate events: %w", err)
	}
	return nil
}

func (es *EventStore) index(event *types.Event) {
	pos := len(es.events)
	es.events = append(es.events, event)
	for _, id := range event.AccountIDs {
		es.byAccount[id] = append(es.byAccount[id], pos)
	}
	es.byKind[event.Kind] = append(es.byKind[event.Kind], pos)
	if event.ID > es.nextID {
		es.nextID = event.ID
	}
}

// Append assigns the next id and timestamp, indexes the event and mirrors
// it to the provider. Once upstream validation has passed the append always
// takes effect in memory; a provider write failure costs durability only
// and is logged, never surfaced.
func (es *EventStore) Append(event *types.Event) *types.Event {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.nextID++
	event.ID = es.nextID
	event.Timestamp = uint64(time.Now().UnixMilli())
	es.index(event)

	eventData, err := jsonx.Marshal(event)
	if err != nil {
		logx.Error("EVENT_STORE", "Failed to marshal event: ", err.Error())
		return event
	}
	if err := es.dbProvider.Put(es.getDbKey(event.ID), eventData); err != nil {
		logx.Error("EVENT_STORE", "Failed to persist event: ", err.Error())
	}
	return event
}

// Size returns the number of events in the log.
func (es *EventStore) Size() int {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return len(es.events)
}

// All returns an iterator over the whole log in append order.
func (es *EventStore) All() *EventIterator {
	es.mu.RLock()
	defer es.mu.RUnlock()

	positions := make([]int, len(es.events))
	for i := range positions {
		positions[i] = i
	}
	return &EventIterator{store: es, positions: positions}
}

// QueryByAccount returns an iterator over all events whose account list
// contains id, in append order.
func (es *EventStore) QueryByAccount(id uint64) *EventIterator {
	es.mu.RLock()
	defer es.mu.RUnlock()

	positions := make([]int, len(es.byAccount[id]))
	copy(positions, es.byAccount[id])
	return &EventIterator{store: es, positions: positions}
}

// QueryByKind returns an iterator over all events of any of the given
// kinds, in append order. Cost is proportional to the number of matches,
// not the log size.
func (es *EventStore) QueryByKind(kinds ...types.EventKind) *EventIterator {
	es.mu.RLock()
	defer es.mu.RUnlock()

	seen := make(map[types.EventKind]bool, len(kinds))
	var positions []int
	for _, kind := range kinds {
		if seen[kind] {
			continue
		}
		seen[kind] = true
		positions = append(positions, es.byKind[kind]...)
	}
	sort.Ints(positions)
	return &EventIterator{store: es, positions: positions}
}

func (es *EventStore) at(pos int) *types.Event {
	es.mu.RLock()
	defer es.mu.RUnlock()

	event := *es.events[pos]
	event.AccountIDs = append([]uint64(nil), event.AccountIDs...)
	return &event
}

func (es *EventStore) getDbKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", PrefixEvent, id))
}

// EventIterator walks a query result lazily in ascending id order. The
// match positions are fixed when the query is made; events are fetched one
// at a time on Next. Reset rewinds to the first match.
type EventIterator struct {
	store     *EventStore
	positions []int
	cursor    int
}

// Next returns the next matching event, or (nil, false) when exhausted.
func (it *EventIterator) Next() (*types.Event, bool) {
	if it.cursor >= len(it.positions) {
		return nil, false
	}
	event := it.store.at(it.positions[it.cursor])
	it.cursor++
	return event, true
}

// Reset rewinds the iterator so the sequence can be replayed.
func (it *EventIterator) Reset() {
	it.cursor = 0
}

// Collect drains the iterator into a slice. Query helpers and tests use it
// when the whole result is wanted anyway.
func (it *EventIterator) Collect() []*types.Event {
	var out []*types.Event
	for {
		event, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, event)
	}
}
