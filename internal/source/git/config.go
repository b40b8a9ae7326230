package git

import (
	"errors"
	"fmt"

	"github.com/knadh/koanf/v2"
)

type Config struct {
	URL             string `toml:"url" json:"url" yaml:"url"`
	Branch          string `toml:"branch" json:"branch" yaml:"branch"`
	PrivateKey      string `koanf:"private_key" toml:"private_key" json:"private_key" yaml:"private_key"`
	Username        string `toml:"username" json:"username" yaml:"username"`
	Password        string `toml:"password" json:"password" yaml:"password"`
	KnownHosts      string `koanf:"known_hosts" toml:"known_hosts" json:"known_hosts" yaml:"known_hosts"`
	Insecure        bool   `koanf:"insecure" toml:"insecure" json:"insecure" yaml:"insecure"`
	LocalRepository string `toml:"local_repository" json:"local_repository" yaml:"local_repository"`
}

func NewConfig(k *koanf.Koanf, localDir, remoteURL string) (*Config, error) {
	if remoteURL == "" {
		return nil, errors.New("need git remote")
	}
	if localDir == "" {
		return nil, errors.New("need local repository path")
	}
	return &Config{
		URL:             remoteURL,
		Branch:          k.String("git.branch"),
		PrivateKey:      k.String("git.private_key"),
		Username:        k.String("git.username"),
		Password:        k.String("git.password"),
		KnownHosts:      k.String("git.known_hosts"),
		Insecure:        k.Bool("git.insecure"),
		LocalRepository: localDir,
	}, nil
}

func (c *Config) String() string {
	var result string
	result += fmt.Sprintf("Remote: %v\n", c.URL)
	result += fmt.Sprintf("Branch: %v\n", c.Branch)
	result += fmt.Sprintf("KnownHosts: %v\n", c.KnownHosts)
	result += fmt.Sprintf("Allow Insecure: %v\n", c.Insecure)
	if c.PrivateKey != "" {
		result += fmt.Sprintf("PrivateKey file: %v\n", c.PrivateKey)
	}
	if c.Username != "" {
		result += fmt.Sprintf("Username: %v\n", c.Username)
	}
	return result
}
