package solite

import (
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"os"
	"time"
)

// Options represents the options that can be set when opening a database.
type Options struct {
	// Timeout is the amount of time to wait to obtain a file lock.
	// When zero, Open fails at once if the file is locked.
	Timeout time.Duration `yaml:"timeout"`

	// Open database in read-only mode. Uses flock(..., LOCK_SH |LOCK_NB) to
	// grab a shared lock (UNIX).
	ReadOnly bool `yaml:"read_only"`

	// Skip fsync() after Sync.
	NoSync bool `yaml:"no_sync"`

	// Collation orders the keys. It must match the one the file was
	// created with. Defaults to natsort.
	Collation string `yaml:"collation"`

	// Compression of new databases. Existing files keep their own.
	Compression CompressAlgorithm `yaml:"compression"`

	// PageSize is the payload size at which pages are split.
	PageSize int `yaml:"page_size"`

	// Registry to look the collation up in. Defaults to DefaultRegistry.
	Registry *Registry `yaml:"-"`
}

var DefaultOptions = &Options{
	Timeout:     0,
	Collation:   CollationNatSort,
	Compression: CompSnappy,
	PageSize:    DefaultPageSize,
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.Collation == "" {
		opts.Collation = CollationNatSort
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	return opts
}

// LoadOptions reads Options from a YAML file.
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read options")
	}
	opts := *DefaultOptions
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return nil, errors.Wrapf(err, "parse options %s", path)
	}
	return &opts, nil
}
