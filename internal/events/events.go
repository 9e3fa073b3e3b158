package events

import "context"

// Event topic constants
const (
	TopicSessionCreated = "novapharm.session.created"
	TopicSessionRevoked = "novapharm.session.revoked"
	TopicSaleCreated    = "novapharm.sale.created"
	TopicPricingUpdated = "novapharm.pricing.updated"
)

// Event types

type SessionCreated struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// SessionRevoked is published for each revoked session so that consoles
// holding the token can drop it without waiting for the next request.
type SessionRevoked struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Reason    string `json:"reason"`
}

type SaleCreated struct {
	SaleID     string  `json:"sale_id"`
	PharmacyID string  `json:"pharmacy_id"`
	Total      float64 `json:"total"`
}

type PricingUpdated struct {
	PharmacyID string `json:"pharmacy_id"`
	Count      int    `json:"count"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Subscriber receives events from the event bus.
type Subscriber interface {
	// Subscribe delivers raw event payloads on the returned channel.
	// Call the returned cancel function to unsubscribe and close the channel.
	Subscribe(topic string) (<-chan []byte, func(), error)
	Close() error
}
