package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookLog is one captured notification. The emitter inserts the row with
// the serialized payload before the event counts as accepted; the shipper
// owns the delivery columns afterwards.
type WebhookLog struct {
	ID            int64
	UUID          uuid.UUID
	AppID         int64
	AccountID     int64
	Folder        string
	UID           uint32
	Payload       []byte
	WebhookURL    string
	StatusCode    *int
	ResponseBody  string
	Attempts      int
	NextAttemptAt time.Time
	DeliveredAt   *time.Time
	CreatedAt     time.Time
}

// WebhookPayload is the envelope posted to an app's webhook URL. The shape
// follows the CloudEvents-flavoured format Nylas emits.
type WebhookPayload struct {
	SpecVersion            string      `json:"specversion"`
	Type                   string      `json:"type"`
	Source                 string      `json:"source"`
	ID                     string      `json:"id"`
	Time                   int64       `json:"time"`
	WebhookDeliveryAttempt int         `json:"webhook_delivery_attempt"`
	Data                   WebhookData `json:"data"`
}

type WebhookData struct {
	ApplicationID string        `json:"application_id"`
	Object        MessageRecord `json:"object"`
}

type EmailName struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// MessageRecord is the envelope-level view of a new message. Bodies and
// attachments are intentionally absent.
type MessageRecord struct {
	ID       string      `json:"id"`
	GrantID  string      `json:"grant_id"`
	Object   string      `json:"object"`
	Folders  []string    `json:"folders"`
	UID      uint32      `json:"uid"`
	Subject  string      `json:"subject"`
	From     []EmailName `json:"from"`
	To       []EmailName `json:"to"`
	Cc       []EmailName `json:"cc,omitempty"`
	Bcc      []EmailName `json:"bcc,omitempty"`
	ReplyTo  []EmailName `json:"reply_to,omitempty"`
	ThreadID string      `json:"thread_id,omitempty"`
	Date     int64       `json:"date"`
	Unread   bool        `json:"unread"`
	Starred  bool        `json:"starred"`
}

