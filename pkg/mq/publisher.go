package mq

import "context"

type Publisher interface {
	Publish(ctx context.Context, sessionID string, payload []byte) error
	Close() error
}

// NoopPublisher é usado quando a publicação de sessão está desabilitada.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, []byte) error { return nil }
func (NoopPublisher) Close() error                                  { return nil }
