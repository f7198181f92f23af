package events

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/md-rashed-zaman/openhours/services/availability-service/internal/cache"
	"github.com/md-rashed-zaman/openhours/services/availability-service/internal/storage"
)

const (
	TopicWindowsChanged = "availability.windows.changed.v1"
	aggregateType       = "availability_entity"
)

var ErrInvalidPayload = errors.New("events: invalid payload")

// WindowsChanged announces that an entity's window set was replaced or
// deleted. Consumers drop every cached result of the entity.
type WindowsChanged struct {
	EntityKind string    `json:"entity_kind"`
	EntityID   string    `json:"entity_id"`
	ChangedAt  time.Time `json:"changed_at"`
}

// OutboxEvent encodes a WindowsChanged for the storage outbox.
func OutboxEvent(kind, id string, changedAt time.Time) (storage.Event, error) {
	payload, err := json.Marshal(WindowsChanged{EntityKind: kind, EntityID: id, ChangedAt: changedAt.UTC()})
	if err != nil {
		return storage.Event{}, err
	}
	return storage.Event{
		AggregateType: aggregateType,
		AggregateID:   cache.EntityPrefix(kind, id),
		EventType:     TopicWindowsChanged,
		Payload:       payload,
	}, nil
}

func DecodeWindowsChanged(raw []byte) (WindowsChanged, error) {
	var evt WindowsChanged
	if err := json.Unmarshal(raw, &evt); err != nil {
		return WindowsChanged{}, errors.Join(ErrInvalidPayload, err)
	}
	if evt.EntityKind == "" || evt.EntityID == "" {
		return WindowsChanged{}, ErrInvalidPayload
	}
	return evt, nil
}
