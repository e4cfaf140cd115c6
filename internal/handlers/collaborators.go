package handlers

import (
	"context"
	"errors"

	"github.com/scenebridge/scenebridge/pkg/protocol"
)

var ErrAssetNotFound = errors.New("asset not found")

// AssetHandle identifies a loaded asset within the collaborating asset
// service.
type AssetHandle string

// InstanceRef identifies a placed object within the collaborating
// rendering/placement surface.
type InstanceRef string

// AssetLoader is the consumed asset-loading service. LoadAsset returns
// ErrAssetNotFound (possibly wrapped) when the path resolves to nothing.
type AssetLoader interface {
	LoadAsset(ctx context.Context, path string) (AssetHandle, error)
}

// PlacementSurface is the consumed rendering/placement service.
type PlacementSurface interface {
	Place(ctx context.Context, handle AssetHandle, position, rotation protocol.Vec3) (InstanceRef, error)
}
