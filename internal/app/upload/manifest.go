package upload

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/rayvision-network/rendersync/internal/domain"
)

// Manifest lists the asset uploads of one batch.
//
//	pool_size: 10
//	record_flag: batch-7
//	uploads:
//	  - jobs/a/upload.json
type Manifest struct {
	PoolSize   int      `yaml:"pool_size"`
	RecordFlag string   `yaml:"record_flag"`
	Uploads    []string `yaml:"uploads"`
}

// LoadManifest reads a manifest. Relative upload paths are resolved against
// the manifest's directory.
func LoadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(m.Uploads) == 0 {
		return m, fmt.Errorf("manifest %s: %w", path, domain.ErrMissingTargets)
	}
	if m.PoolSize < 0 {
		return m, &domain.ConfigError{Field: "pool_size", Value: fmt.Sprint(m.PoolSize)}
	}

	base := filepath.Dir(path)
	for i, p := range m.Uploads {
		if !filepath.IsAbs(p) {
			m.Uploads[i] = filepath.Join(base, p)
		}
	}
	return m, nil
}
