package interfaces

import "context"

// Notification types pushed to session channels
const (
	NotifyUpdated = "updated"
	NotifyError   = "error"
)

// Notification tells the clients of one session that something happened
type Notification struct {
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
}

// Notifier fans notifications out to subscribed client channels
type Notifier interface {
	Publish(ctx context.Context, n Notification) error
}

// NotificationSource delivers notifications published elsewhere
type NotificationSource interface {
	// Subscribe returns a channel closed when ctx ends
	Subscribe(ctx context.Context) (<-chan Notification, error)
}
