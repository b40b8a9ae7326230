package stager

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"primamateria.systems/pipework/pkg/invocation"
)

func newTestContext(t *testing.T, simulate bool) (*invocation.Context, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "files"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "templates"), 0o755))
	inv, err := invocation.New(&invocation.Config{
		Simulate:     simulate,
		FilesDir:     filepath.Join(root, "files"),
		TemplatesDir: filepath.Join(root, "templates"),
		TempDir:      t.TempDir(),
		LocalHost:    "ops1",
	})
	require.NoError(t, err)
	inv.SetHost("web1")
	return inv, root
}

func TestRemoteFile(t *testing.T) {
	inv, root := newTestContext(t, false)

	require.NoError(t, RemoteFile(inv, "/etc/yum.repos.d/td.repo", "td.repo"))

	src := filepath.Join(root, "files", "td.repo")
	assert.Equal(t, []string{
		"sudo mkdir -p $(dirname /etc/yum.repos.d/td.repo)",
		"sudo rsync -a ops1:" + src + " /etc/yum.repos.d/td.repo",
		"sudo cat /etc/yum.repos.d/td.repo",
	}, inv.Queue.Commands())
	assert.Empty(t, inv.TempFiles())
}

func TestRemoteFileSimulateReadsSource(t *testing.T) {
	inv, root := newTestContext(t, true)
	require.NoError(t, os.WriteFile(filepath.Join(root, "files", "td.repo"), []byte("[treasuredata]\n"), 0o644))

	require.NoError(t, RemoteFile(inv, "/etc/yum.repos.d/td.repo", "td.repo"))

	cmds := inv.Queue.Commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, "cat <<'EOT'\n[treasuredata]\n\nEOT", cmds[2])
	for _, c := range cmds {
		assert.NotContains(t, c, "sudo cat")
	}
}

func TestRemoteFileSimulateMissingSource(t *testing.T) {
	inv, _ := newTestContext(t, true)
	assert.Error(t, RemoteFile(inv, "/etc/foo", "missing"))
}

func TestRemoteContentSimulatePreview(t *testing.T) {
	inv, _ := newTestContext(t, true)
	contents := "<source>\n  type tail\n</source>"

	require.NoError(t, RemoteContent(inv, "/etc/fluent/agent.conf", contents))

	tmp := inv.TempFiles()
	require.Len(t, tmp, 1)
	cmds := inv.Queue.Commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, "sudo rsync -a ops1:"+tmp[0]+" /etc/fluent/agent.conf", cmds[1])
	assert.Contains(t, cmds[2], contents)
	assert.Equal(t, "cat <<'EOT'\n"+contents+"\nEOT", cmds[2])
	assert.True(t, strings.HasSuffix(cmds[2], "\nEOT"))

	b, err := os.ReadFile(tmp[0])
	require.NoError(t, err)
	assert.Equal(t, contents+"\n", string(b))
}

func TestPreviewMarker(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		marker   string
	}{
		{name: "plain", contents: "a=1\nb=2", marker: "EOT"},
		{name: "marker inside a line", contents: "echo EOT\nEOT=1", marker: "EOT"},
		{name: "marker line", contents: "line1\nEOT\necho executed", marker: "EOT_1"},
		{name: "several markers", contents: "EOT\nEOT_1\nEOT_2", marker: "EOT_3"},
		{name: "trailing marker", contents: "x\nEOT\n", marker: "EOT_1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Preview(tt.contents)
			assert.Equal(t, "cat <<'"+tt.marker+"'\n"+tt.contents+"\n"+tt.marker, got)

			// the heredoc body ends only at the final line
			lines := strings.Split(got, "\n")
			for _, l := range lines[1 : len(lines)-1] {
				assert.NotEqual(t, tt.marker, l)
			}
		})
	}
}

func TestRemoteContentSimulateMarkerInContents(t *testing.T) {
	inv, _ := newTestContext(t, true)
	contents := "line1\nEOT\necho EXECUTED"

	require.NoError(t, RemoteContent(inv, "/etc/x", contents))

	cmds := inv.Queue.Commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, "cat <<'EOT_1'\n"+contents+"\nEOT_1", cmds[2])
}

func TestRemoteFileFuncError(t *testing.T) {
	inv, _ := newTestContext(t, false)
	err := RemoteFileFunc(inv, "/etc/foo", func() (string, error) { return "", errors.New("boom") })
	assert.ErrorContains(t, err, "boom")
	assert.True(t, inv.Queue.Empty())
	assert.Empty(t, inv.TempFiles())
}

func TestTemplateFile(t *testing.T) {
	inv, root := newTestContext(t, false)
	require.NoError(t, os.WriteFile(filepath.Join(root, "templates", "agent.conf.tmpl"), []byte("host {{ m_host }} port {{ .port }}"), 0o644))

	require.NoError(t, TemplateFile(inv, "/etc/fluent/agent.conf", "agent.conf", map[string]any{"port": 24224}))

	tmp := inv.TempFiles()
	require.Len(t, tmp, 1)
	b, err := os.ReadFile(tmp[0])
	require.NoError(t, err)
	assert.Equal(t, "host web1 port 24224\n", string(b))
	assert.Equal(t, []string{
		"sudo mkdir -p $(dirname /etc/fluent/agent.conf)",
		"sudo rsync -a ops1:" + tmp[0] + " /etc/fluent/agent.conf",
		"sudo cat /etc/fluent/agent.conf",
	}, inv.Queue.Commands())
}

func TestTemplateFileMissingLocal(t *testing.T) {
	inv, root := newTestContext(t, false)
	require.NoError(t, os.WriteFile(filepath.Join(root, "templates", "agent.conf.tmpl"), []byte("{{ .port }}"), 0o644))
	assert.Error(t, TemplateFile(inv, "/etc/fluent/agent.conf", "agent.conf.tmpl", nil))
}

func TestRemoteDirectory(t *testing.T) {
	inv, root := newTestContext(t, false)
	RemoteDirectory(inv, "/opt/fluent/plugins", "plugins")
	assert.Equal(t, []string{
		"sudo mkdir -p $(dirname /opt/fluent/plugins)",
		"sudo rsync -av --delete --exclude='.git' ops1:" + filepath.Join(root, "files", "plugins") + "/ /opt/fluent/plugins/",
	}, inv.Queue.Commands())
}

func TestExecutableFile(t *testing.T) {
	inv, _ := newTestContext(t, false)
	require.NoError(t, ExecutableFile(inv, "/service/agent/run", "agent/run"))
	cmds := inv.Queue.Commands()
	require.Len(t, cmds, 4)
	assert.Equal(t, "sudo chmod a+x /service/agent/run", cmds[3])

	inv.Queue.Reset()
	require.NoError(t, ExecutableFileFunc(inv, "/service/agent/run", func() (string, error) { return "#!/bin/sh", nil }))
	cmds = inv.Queue.Commands()
	require.Len(t, cmds, 4)
	assert.Equal(t, "sudo chmod a+x /service/agent/run", cmds[3])
}

func TestRemoveRemoteFile(t *testing.T) {
	inv, _ := newTestContext(t, false)
	RemoveRemoteFile(inv, "/etc/foo")
	assert.Equal(t, []string{"sudo rm -f /etc/foo"}, inv.Queue.Commands())
}

func TestRemoteCrondFileOrder(t *testing.T) {
	for _, simulate := range []bool{false, true} {
		inv, root := newTestContext(t, simulate)
		require.NoError(t, os.WriteFile(filepath.Join(root, "files", "agent.cron"), []byte("* * * * * root true\n"), 0o644))

		require.NoError(t, RemoteCrondFile(inv, "/etc/cron.d/agent", "agent.cron"))

		cmds := inv.Queue.Commands()
		require.Len(t, cmds, 6)
		assert.Contains(t, cmds[1], "sudo rsync -a ")
		assert.Equal(t, []string{
			"sudo chmod 644 /etc/cron.d/agent",
			"sudo chown root:root /etc/cron.d/agent",
			"sudo /etc/init.d/crond reload",
		}, cmds[3:])
	}
}

func TestRemoteCrondFileFunc(t *testing.T) {
	inv, _ := newTestContext(t, false)
	require.NoError(t, RemoteCrondFileFunc(inv, "/etc/cron.d/agent", func() (string, error) { return "@daily root true", nil }))
	cmds := inv.Queue.Commands()
	require.Len(t, cmds, 6)
	assert.Equal(t, "sudo /etc/init.d/crond reload", cmds[5])
}

func TestRemoveCrondFile(t *testing.T) {
	inv, _ := newTestContext(t, false)
	RemoveCrondFile(inv, "/etc/cron.d/agent")
	assert.Equal(t, []string{
		`sudo rm -f "/etc/cron.d/agent"`,
		"sudo /etc/init.d/crond reload",
	}, inv.Queue.Commands())
}
