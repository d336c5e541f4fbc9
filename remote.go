package outbox

import "context"

// RemoteRecord is a record as the remote store returns it.
type RemoteRecord struct {
	ID   string  `json:"id"`
	Data Payload `json:"data,omitempty"`
}

// Remote is the store of record the queue drains into.
//
// Implementations signal a write conflict by returning an error for which
// errors.Is(err, ErrConflict) holds. Any other error is treated as transient.
type Remote interface {
	Insert(ctx context.Context, collection string, payload Payload) (*RemoteRecord, error)
	Update(ctx context.Context, collection, id string, partial Payload) (*RemoteRecord, error)
	Delete(ctx context.Context, collection, id string) error
}

// Fetcher is implemented by remotes that can list a collection.
type Fetcher interface {
	List(ctx context.Context, collection string) ([]RemoteRecord, error)
}

type idempotencyKey struct{}

// WithIdempotencyKey attaches the key identifying one queued write. Replays of
// the same queue item carry the same key.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// IdempotencyKey returns the key attached by WithIdempotencyKey.
func IdempotencyKey(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKey{}).(string)
	return key
}
