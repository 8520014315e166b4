package model

import "time"

// EventType names a change notification.
type EventType string

const (
	EventAttributeChanged  EventType = "attribute.changed"
	EventActionPerformed   EventType = "action.performed"
	EventQuestCompleted    EventType = "quest.completed"
	EventSnapshotCreated   EventType = "snapshot.created"
	EventTransferInitiated EventType = "transfer.initiated"
	EventItemCreated       EventType = "item.created"
	EventLootRequested     EventType = "loot.requested"
	EventLootRevealed      EventType = "loot.revealed"
)

// Event is a change notification consumed by external indexers.
type Event struct {
	Type       EventType         `json:"type"`
	Collection string            `json:"collection"`
	ItemID     uint64            `json:"item_id"`
	Actor      string            `json:"actor,omitempty"`
	Name       AttributeName     `json:"name,omitempty"`
	Value      []byte            `json:"value,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	At         time.Time         `json:"at"`
}
