package models

import (
	"time"

	"github.com/google/uuid"
)

// App is a registered third-party application. The UUID is the public
// client_id; the API key and webhook secret are credentials and never
// serialized.
type App struct {
	ID            int64     `json:"-"`
	UUID          uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	APIKey        string    `json:"-"`
	WebhookURL    string    `json:"webhook_url"`
	WebhookSecret string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
