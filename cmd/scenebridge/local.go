package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/scenebridge/scenebridge/internal/handlers"
	"github.com/scenebridge/scenebridge/pkg/protocol"
)

// localAssets resolves model paths against a directory on disk. It stands in
// for a real asset pipeline when running without a rendering engine.
type localAssets struct {
	dir string
}

func (l *localAssets) LoadAsset(_ context.Context, path string) (handlers.AssetHandle, error) {
	full := filepath.Join(l.dir, filepath.Clean(path))
	if _, err := os.Stat(full); err != nil {
		return "", fmt.Errorf("%s: %w", path, handlers.ErrAssetNotFound)
	}
	return handlers.AssetHandle(full), nil
}

// localSurface accepts every placement and mints an instance reference. The
// sync engine carries the resulting transform; nothing is rendered locally.
type localSurface struct{}

func (l *localSurface) Place(_ context.Context, _ handlers.AssetHandle, _, _ protocol.Vec3) (handlers.InstanceRef, error) {
	return handlers.InstanceRef("inst-" + uuid.NewString()), nil
}
