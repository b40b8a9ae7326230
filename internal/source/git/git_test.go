package git

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xssh "golang.org/x/crypto/ssh"
)

func writeKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := xssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func TestNewConfig(t *testing.T) {
	k := koanf.New(".")
	require.NoError(t, k.Load(confmap.Provider(map[string]any{
		"git.branch":      "main",
		"git.username":    "deploy",
		"git.password":    "hunter2",
		"git.known_hosts": "/tmp/known_hosts",
	}, "."), nil))

	c, err := NewConfig(k, "/srv/pipework", "https://example.com/ops.git")
	require.NoError(t, err)
	assert.Equal(t, "main", c.Branch)
	assert.Equal(t, "deploy", c.Username)
	assert.Equal(t, "/tmp/known_hosts", c.KnownHosts)
	assert.Equal(t, "/srv/pipework", c.LocalRepository)
	assert.NotContains(t, c.String(), "hunter2")

	_, err = NewConfig(k, "/srv/pipework", "")
	assert.Error(t, err)
	_, err = NewConfig(k, "", "https://example.com/ops.git")
	assert.Error(t, err)
}

func TestAuthMethod(t *testing.T) {
	key := writeKey(t)
	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(knownHosts, nil, 0o600))

	auth, err := authMethod(&Config{})
	require.NoError(t, err)
	assert.Nil(t, auth)

	auth, err = authMethod(&Config{Username: "deploy", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, &http.BasicAuth{Username: "deploy", Password: "pw"}, auth)

	auth, err = authMethod(&Config{PrivateKey: key, KnownHosts: knownHosts})
	require.NoError(t, err)
	pk, ok := auth.(*ssh.PublicKeys)
	require.True(t, ok)
	assert.Equal(t, "git", pk.User)
	assert.NotNil(t, pk.HostKeyCallback)

	auth, err = authMethod(&Config{PrivateKey: key, Insecure: true})
	require.NoError(t, err)
	assert.NotNil(t, auth)

	_, err = authMethod(&Config{PrivateKey: key, KnownHosts: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)

	_, err = authMethod(&Config{PrivateKey: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}
