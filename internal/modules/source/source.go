package source

import (
	"context"
	"iter"

	msgdomain "github.com/reshetovitsme/tg-vault-export/internal/modules/message/domain"
)

// Entity is a resolved remote chat, channel or user.
type Entity struct {
	ID   int64
	Name string
	Type string
}

// Source is the boundary to the remote messaging service. Implementations
// are not safe for concurrent multiplexed history fetching; callers consume
// one entity's stream at a time. Media fetches may run concurrently under
// the download manager's gate.
type Source interface {
	// Resolve maps an identifier (username, t.me link, numeric ID or "me")
	// to an entity.
	Resolve(ctx context.Context, identifier string) (Entity, error)

	// Messages yields content messages of the entity in ascending ID order,
	// starting after minID. Service records are filtered out and albums
	// arrive merged into a single message. A yielded error terminates the
	// stream: rate limiting and access problems surface as
	// ErrSourceRateLimited / ErrSourceAccessDenied.
	Messages(ctx context.Context, entity Entity, minID int64) iter.Seq2[msgdomain.Message, error]

	// FetchMedia downloads the raw payload of ref into path.
	FetchMedia(ctx context.Context, ref msgdomain.MediaReference, path string) error
}
