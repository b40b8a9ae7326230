package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	xssh "golang.org/x/crypto/ssh"
)

// GitSource clones the remote into the pipework root on first sync and
// pulls on later ones.
type GitSource struct {
	remote string
	path   string
	branch string
	auth   transport.AuthMethod
}

func NewGitSource(c *Config) (*GitSource, error) {
	g := &GitSource{
		remote: c.URL,
		path:   c.LocalRepository,
		branch: c.Branch,
	}
	auth, err := authMethod(c)
	if err != nil {
		return nil, err
	}
	g.auth = auth
	return g, nil
}

// authMethod prefers a private key over basic auth. With neither the
// remote is accessed anonymously.
func authMethod(c *Config) (transport.AuthMethod, error) {
	switch {
	case c.PrivateKey != "":
		if _, err := os.Stat(c.PrivateKey); err != nil {
			return nil, err
		}
		publicKeys, err := ssh.NewPublicKeysFromFile("git", c.PrivateKey, c.Password)
		if err != nil {
			return nil, err
		}
		if c.Insecure {
			publicKeys.HostKeyCallback = xssh.InsecureIgnoreHostKey()
			return publicKeys, nil
		}
		knownHosts := c.KnownHosts
		if knownHosts == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, err
			}
			knownHosts = filepath.Join(home, ".ssh", "known_hosts")
		}
		if _, err := os.Stat(knownHosts); err != nil {
			return nil, fmt.Errorf("known hosts file: %w", err)
		}
		cb, err := ssh.NewKnownHostsCallback(knownHosts)
		if err != nil {
			return nil, err
		}
		publicKeys.HostKeyCallback = cb
		return publicKeys, nil
	case c.Username != "":
		return &http.BasicAuth{
			Username: c.Username,
			Password: c.Password,
		}, nil
	default:
		return nil, nil
	}
}

func (g *GitSource) Sync(ctx context.Context) error {
	options := git.CloneOptions{
		URL:      g.remote,
		Progress: os.Stdout,
		Auth:     g.auth,
	}
	pullOptions := git.PullOptions{
		Auth: g.auth,
	}
	if g.branch != "" {
		options.ReferenceName = plumbing.NewBranchReferenceName(g.branch)
		options.SingleBranch = true
		pullOptions.ReferenceName = options.ReferenceName
	}
	_, err := git.PlainCloneContext(ctx, g.path, false, &options)
	if err == nil {
		log.Debug("cloned source", "remote", g.remote, "path", g.path)
		return nil
	}
	if !errors.Is(err, git.ErrRepositoryAlreadyExists) {
		return err
	}
	r, err := git.PlainOpen(g.path)
	if err != nil {
		return err
	}
	w, err := r.Worktree()
	if err != nil {
		return err
	}
	err = w.PullContext(ctx, &pullOptions)
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return err
	}
	log.Debug("pulled source", "remote", g.remote, "path", g.path)
	return nil
}

func (g *GitSource) Clean() error {
	return os.RemoveAll(g.path)
}
