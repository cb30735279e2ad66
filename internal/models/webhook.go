package models

import (
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Webhook is a merchant subscription. An empty Events list subscribes to
// every event type.
type Webhook struct {
	BaseModel
	MerchantID uuid.UUID      `gorm:"type:uuid;index" json:"merchant_id"`
	URL        string         `json:"url"`
	Events     datatypes.JSON `json:"events"`
	IsActive   bool           `gorm:"index;default:true" json:"is_active"`
}

// EventList decodes Events; malformed values count as "all events".
func (w *Webhook) EventList() []string {
	if len(w.Events) == 0 {
		return nil
	}
	var events []string
	if err := json.Unmarshal(w.Events, &events); err != nil {
		return nil
	}
	return events
}

// Subscribes reports whether the webhook wants the given event.
func (w *Webhook) Subscribes(event string) bool {
	events := w.EventList()
	if len(events) == 0 {
		return true
	}
	for _, e := range events {
		if e == event {
			return true
		}
	}
	return false
}

const (
	DeliveryDelivered = "delivered"
	DeliveryRetrying  = "retrying"
	DeliveryFailed    = "failed"
)

// WebhookLog is one delivery attempt. StatusCode 0 means the request never
// got an HTTP response.
type WebhookLog struct {
	BaseModel
	MerchantID uuid.UUID      `gorm:"type:uuid;index" json:"merchant_id"`
	DeliveryID string         `gorm:"index" json:"delivery_id"`
	EventType  string         `gorm:"index" json:"event_type"`
	URL        string         `json:"url"`
	Payload    datatypes.JSON `json:"payload"`
	Signature  string         `json:"signature"`
	StatusCode int            `gorm:"index" json:"status_code"`
	Response   string         `json:"response"`
	Attempts   int            `gorm:"default:1" json:"attempts"`
	Outcome    string         `gorm:"size:16" json:"outcome"`
}
