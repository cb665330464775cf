package domain

import "time"

// InboxMessage is an in-app notification as stored in a recipient's inbox.
type InboxMessage struct {
	Subject     string    `json:"subject"`
	Message     string    `json:"message"`
	Metadata    Metadata  `json:"metadata,omitempty"`
	DeliveredAt time.Time `json:"deliveredAt"`
}
