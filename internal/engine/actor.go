package engine

import "context"

type actorKey struct{}

// WithActor attaches the acting user id recorded on history entries and events.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFrom returns the actor set by WithActor, or "".
func ActorFrom(ctx context.Context) string {
	v, _ := ctx.Value(actorKey{}).(string)
	return v
}

func actorPtr(ctx context.Context) *string {
	a := ActorFrom(ctx)
	if a == "" {
		return nil
	}
	return &a
}
