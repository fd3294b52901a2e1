package network

import (
	"context"

	"github.com/storefront-io/go-assetkit/media"
)

// Store persists image bytes remotely and removes them by their remote id.
type Store interface {
	Upload(ctx context.Context, file media.File) (media.Asset, error)
	Delete(ctx context.Context, remoteID string) error
}
