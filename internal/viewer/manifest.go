package viewer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrAssetNotFound is returned for names absent from the manifest.
var ErrAssetNotFound = errors.New("asset not found in manifest")

type manifestFile struct {
	Assets []manifestAsset `yaml:"assets"`
}

type manifestAsset struct {
	Name  string         `yaml:"name"`
	Clips []manifestClip `yaml:"clips"`
}

type manifestClip struct {
	Name     string  `yaml:"name"`
	Duration float64 `yaml:"duration"`
}

// ManifestLoader resolves assets from a YAML manifest listing each asset's clips
// and their durations in seconds.
type ManifestLoader struct {
	path string

	once   sync.Once
	assets map[string]*Asset
	err    error
}

// NewManifestLoader reads the manifest at path on first use.
func NewManifestLoader(path string) *ManifestLoader {
	return &ManifestLoader{path: path}
}

// Load returns the named asset.
func (m *ManifestLoader) Load(ctx context.Context, name string) (*Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.once.Do(m.read)
	if m.err != nil {
		return nil, m.err
	}
	asset, ok := m.assets[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrAssetNotFound)
	}
	return asset, nil
}

func (m *ManifestLoader) read() {
	data, err := os.ReadFile(m.path)
	if err != nil {
		m.err = fmt.Errorf("read asset manifest: %w", err)
		return
	}
	m.assets, m.err = parseManifest(data)
}

func parseManifest(data []byte) (map[string]*Asset, error) {
	var file manifestFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse asset manifest: %w", err)
	}
	assets := make(map[string]*Asset, len(file.Assets))
	for _, a := range file.Assets {
		if a.Name == "" {
			continue
		}
		asset := &Asset{Name: a.Name}
		for _, c := range a.Clips {
			if c.Duration <= 0 {
				return nil, fmt.Errorf("asset %s clip %q: duration must be positive", a.Name, c.Name)
			}
			asset.Clips = append(asset.Clips, Clip{
				Name:     c.Name,
				Duration: time.Duration(c.Duration * float64(time.Second)),
			})
		}
		assets[a.Name] = asset
	}
	return assets, nil
}
