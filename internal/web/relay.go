package web

import (
	"context"
	"fmt"
	"log"

	"Story-Loom/server/internal/interfaces"
)

// Relay forwards notifications published by any instance to the local hub
type Relay struct {
	source interfaces.NotificationSource
	hub    *SessionHub
}

// NewRelay creates a relay from source into hub
func NewRelay(source interfaces.NotificationSource, hub *SessionHub) *Relay {
	return &Relay{
		source: source,
		hub:    hub,
	}
}

// Run subscribes and forwards until ctx ends or the subscription closes
func (r *Relay) Run(ctx context.Context) error {
	notifications, err := r.source.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to notifications: %w", err)
	}
	log.Printf("[Relay] Forwarding notifications to the hub")

	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notifications:
			if !ok {
				log.Printf("[Relay] Notification channel closed")
				return nil
			}
			r.hub.Broadcast(n)
		}
	}
}
