package email

import "context"

type Message struct {
	To       []string
	Subject  string
	HTMLBody string
}

type Provider interface {
	Send(ctx context.Context, msg Message) error
}

// Factory builds a provider for one mail server. Credentials are resolved per user.
type Factory func(cfg Config) Provider
