package domain

import "time"

// Client is a consumer of the proxy API, authenticated by an opaque bearer
// token. The optional WebhookURL is copied onto tasks at enqueue time.
type Client struct {
	ID         string
	Username   string
	Token      string
	WebhookURL string
	IsActive   bool
	CreatedAt  time.Time
}
