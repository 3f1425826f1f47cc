package eventsourcing

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// MemoryEventStore is an in-process Store used in tests and when
// DATABASE_URL is unset. It gives AuditLogger somewhere to append to
// without requiring a running database, mirroring the role
// persistence.MemoryStore plays for the order/trade gateway.
type MemoryEventStore struct {
	mu        sync.Mutex
	events    map[string][]Event // key: aggregateType + ":" + aggregateID
	snapshots map[string]memorySnapshot
}

type memorySnapshot struct {
	version int
	state   []byte
}

// NewMemoryEventStore creates an empty in-memory event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{
		events:    make(map[string][]Event),
		snapshots: make(map[string]memorySnapshot),
	}
}

func eventStoreKey(aggregateID, aggregateType string) string {
	return aggregateType + ":" + aggregateID
}

func (s *MemoryEventStore) Append(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := eventStoreKey(event.GetAggregateID(), event.GetAggregateType())
	s.events[key] = append(s.events[key], event)
	return nil
}

func (s *MemoryEventStore) LoadEvents(ctx context.Context, aggregateID, aggregateType string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.events[eventStoreKey(aggregateID, aggregateType)]
	out := make([]Event, len(events))
	copy(out, events)
	sort.Slice(out, func(i, j int) bool { return out[i].GetVersion() < out[j].GetVersion() })
	return out, nil
}

func (s *MemoryEventStore) LoadEventsSince(ctx context.Context, aggregateID, aggregateType string, version int) ([]Event, error) {
	all, err := s.LoadEvents(ctx, aggregateID, aggregateType)
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, e := range all {
		if e.GetVersion() > version {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryEventStore) SaveSnapshot(ctx context.Context, aggregateID, aggregateType string, version int, state interface{}) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[eventStoreKey(aggregateID, aggregateType)] = memorySnapshot{version: version, state: stateJSON}
	return nil
}

func (s *MemoryEventStore) LoadSnapshot(ctx context.Context, aggregateID, aggregateType string) (int, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[eventStoreKey(aggregateID, aggregateType)]
	if !ok {
		return 0, nil, nil
	}
	return snap.version, snap.state, nil
}
