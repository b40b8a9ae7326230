// Package source keeps the pipework root (files and templates) in step
// with a git repository or a local directory before tasks run.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/v2"
	filesource "primamateria.systems/pipework/internal/source/file"
	"primamateria.systems/pipework/internal/source/git"
)

type Source interface {
	Sync(context.Context) error
}

type Config struct {
	URL    string `toml:"url" json:"url" yaml:"url"`
	NoSync bool   `koanf:"no_sync" toml:"no_sync" json:"no_sync" yaml:"no_sync"`
}

func NewConfig(k *koanf.Koanf) *Config {
	return &Config{
		URL:    k.String("source.url"),
		NoSync: k.Bool("source.no_sync"),
	}
}

func (c *Config) String() string {
	return fmt.Sprintf("URL: %v\nNo Sync: %v\n", c.URL, c.NoSync)
}

func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("need source URL")
	}
	if !strings.Contains(c.URL, "://") {
		return fmt.Errorf("source URL %v has no scheme", c.URL)
	}
	return nil
}

// New picks a Source for c.URL that syncs into dir. git:// URLs carry the
// address go-git clones after the scheme; https:// and ssh:// URLs are
// cloned as given. file:// URLs name a local directory.
func New(k *koanf.Koanf, c *Config, dir string) (Source, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	scheme, rest, _ := strings.Cut(c.URL, "://")
	switch scheme {
	case "git", "https", "http", "ssh":
		remote := rest
		if scheme != "git" {
			remote = c.URL
		}
		gc, err := git.NewConfig(k, dir, remote)
		if err != nil {
			return nil, fmt.Errorf("error creating git config: %w", err)
		}
		src, err := git.NewGitSource(gc)
		if err != nil {
			return nil, fmt.Errorf("invalid git source: %w", err)
		}
		return src, nil
	case "file":
		fc, err := filesource.NewConfig(dir, rest)
		if err != nil {
			return nil, fmt.Errorf("error creating file config: %w", err)
		}
		src, err := filesource.NewFileSource(fc)
		if err != nil {
			return nil, fmt.Errorf("invalid file source: %w", err)
		}
		return src, nil
	default:
		return nil, fmt.Errorf("invalid source: %v", scheme)
	}
}
