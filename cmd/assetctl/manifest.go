package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/storefront-io/go-assetkit/media"
	"gopkg.in/yaml.v3"
)

// manifest is the on-disk record of an asset set, in display order.
type manifest struct {
	Profile string        `yaml:"profile,omitempty"`
	Assets  []media.Asset `yaml:"assets"`
}

// readManifest returns an empty manifest when pth does not exist yet.
func readManifest(pth string) (manifest, error) {
	data, err := os.ReadFile(pth)
	if errors.Is(err, os.ErrNotExist) {
		return manifest{}, nil
	}
	if err != nil {
		return manifest{}, fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return manifest{}, fmt.Errorf("parse manifest %s: %w", pth, err)
	}
	return m, nil
}

func writeManifest(pth string, m manifest) error {
	if m.Assets == nil {
		m.Assets = []media.Asset{}
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(pth), 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}

	tmp := pth + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return os.Rename(tmp, pth)
}
