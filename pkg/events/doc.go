/*
Package events provides an in-memory event broker for volume lifecycle
notifications.

The events package implements a lightweight event bus for broadcasting
volume and replica state transitions to interested subscribers. It supports
asynchronous event delivery, enabling loose coupling between the registry,
the quiescence controller, and anything else that wants to observe a
volume's lifecycle (metrics, logging).

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  Publisher → Event Channel (buffer: 100) → Broadcast Loop │
	│                                                  │         │
	│                                                  ▼         │
	│                          Subscriber Channels (buffer: 50)  │
	└────────────────────────────────────────────────────────────┘

# Event Types

Volume Events:
  - volume.online / volume.offline / volume.destroyed

Replica Events:
  - replica.added / replica.removed

Quiescence Events:
  - volume.paused / volume.unpaused

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Printf("%s: %s\n", event.Type, event.Message)
		}
	}()

	broker.Publish(&events.Event{
		Type:    events.EventReplicaAdded,
		Message: "replica added to vol-0",
		Metadata: map[string]string{"volume": "vol-0", "replica": "base-1"},
	})

# Design Notes

Publish blocks while the 100-event channel is full. The broadcast loop
does not block: a full subscriber buffer skips that subscriber rather than
stalling the loop. There is no persistence, replay, or topic filtering —
subscribers filter by Event.Type themselves. It is not a durable audit
log.
*/
package events
