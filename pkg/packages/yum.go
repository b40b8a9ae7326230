// Package packages queues package manager commands for the target host.
package packages

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"primamateria.systems/pipework/pkg/invocation"
	"primamateria.systems/pipework/pkg/stager"
)

const DefaultRepoDir = "/etc/yum.repos.d"

// Repo is a yum repository definition staged from the files directory.
type Repo struct {
	File string `toml:"file"`
	ID   string `toml:"id"`
}

// Yum installs packages only from its own repositories: every other repo
// is disabled for the install so unrelated repos cannot supply packages.
type Yum struct {
	RepoDir string
	Repos   []Repo
}

func Haikanko() *Yum {
	return &Yum{
		RepoDir: DefaultRepoDir,
		Repos: []Repo{
			{File: "fluent-agent-lite-haikanko.repo", ID: "fluent-agent-lite-haikanko"},
			{File: "td.repo", ID: "treasuredata"},
		},
	}
}

func (y *Yum) Validate() error {
	if y.RepoDir == "" {
		return errors.New("need yum repo directory")
	}
	if len(y.Repos) == 0 {
		return errors.New("need at least one yum repo")
	}
	for i, r := range y.Repos {
		if r.File == "" || r.ID == "" {
			return fmt.Errorf("repos[%d] needs both file and id", i)
		}
	}
	return nil
}

func (y *Yum) repoPath(r Repo) string {
	return path.Join(y.RepoDir, path.Base(r.File))
}

// Install stages the repo files, then installs pkg with only those repos
// enabled.
func (y *Yum) Install(inv *invocation.Context, pkg string) error {
	if err := y.Validate(); err != nil {
		return err
	}
	if pkg == "" {
		return errors.New("no package given")
	}
	ids := make([]string, 0, len(y.Repos))
	for _, r := range y.Repos {
		if err := stager.RemoteFile(inv, y.repoPath(r), r.File); err != nil {
			return fmt.Errorf("error staging repo %v: %w", r.ID, err)
		}
		ids = append(ids, r.ID)
	}
	inv.Enqueue(fmt.Sprintf("sudo yum -y --disablerepo='*' --enablerepo=%v install %v", strings.Join(ids, ","), pkg))
	return nil
}

// Remove uninstalls pkg before deleting the repo files so yum can still
// resolve its metadata.
func (y *Yum) Remove(inv *invocation.Context, pkg string) error {
	if err := y.Validate(); err != nil {
		return err
	}
	if pkg == "" {
		return errors.New("no package given")
	}
	inv.Enqueue(fmt.Sprintf("sudo yum -y remove %v", pkg))
	for _, r := range y.Repos {
		stager.RemoveRemoteFile(inv, y.repoPath(r))
	}
	return nil
}
