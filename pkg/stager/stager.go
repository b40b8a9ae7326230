// Package stager queues the commands that copy local files, rendered
// templates and directory trees onto the target host. The remote host
// pulls them with rsync from the operator machine.
package stager

import (
	"fmt"
	"os"
	"strings"

	"primamateria.systems/pipework/pkg/invocation"
)

// Producer generates file contents at enqueue time.
type Producer func() (string, error)

const crondReload = "sudo /etc/init.d/crond reload"

// RemoteFile stages a file from the files directory at target.
func RemoteFile(inv *invocation.Context, target, source string) error {
	return stage(inv, target, inv.SourcePath(source), "", false)
}

// RemoteFileFunc stages the output of produce at target through a
// temporary file.
func RemoteFileFunc(inv *invocation.Context, target string, produce Producer) error {
	contents, err := produce()
	if err != nil {
		return fmt.Errorf("error generating contents for %v: %w", target, err)
	}
	return RemoteContent(inv, target, contents)
}

func RemoteContent(inv *invocation.Context, target, contents string) error {
	path, err := inv.CreateTempFile(contents)
	if err != nil {
		return err
	}
	return stage(inv, target, path, contents, true)
}

func stage(inv *invocation.Context, target, source, contents string, haveContents bool) error {
	inv.Enqueue(fmt.Sprintf("sudo mkdir -p $(dirname %v)", target))
	inv.Enqueue(fmt.Sprintf("sudo rsync -a %v:%v %v", inv.LocalHost(), source, target))

	if !inv.Simulate {
		inv.Enqueue(fmt.Sprintf("sudo cat %v", target))
		return nil
	}
	if !haveContents {
		b, err := os.ReadFile(source)
		if err != nil {
			return fmt.Errorf("error reading %v for preview: %w", source, err)
		}
		contents = string(b)
	}
	inv.Enqueue(Preview(contents))
	return nil
}

// Preview is the simulate-mode stand-in for reading the staged file back.
// The heredoc marker never matches a line of contents.
func Preview(contents string) string {
	marker := heredocMarker(contents)
	return fmt.Sprintf("cat <<'%v'\n%v\n%v", marker, contents, marker)
}

func heredocMarker(contents string) string {
	lines := map[string]bool{}
	for _, l := range strings.Split(contents, "\n") {
		lines[l] = true
	}
	marker := "EOT"
	for i := 1; lines[marker]; i++ {
		marker = fmt.Sprintf("EOT_%d", i)
	}
	return marker
}

// TemplateFile renders a template with locals and stages the result.
func TemplateFile(inv *invocation.Context, target, template string, locals map[string]any) error {
	return RemoteFileFunc(inv, target, func() (string, error) {
		return inv.Renderer.Render(template, locals)
	})
}

// RemoteDirectory mirrors a directory tree from the files directory to
// target, deleting remote files that are gone locally.
func RemoteDirectory(inv *invocation.Context, target, source string) {
	inv.Enqueue(fmt.Sprintf("sudo mkdir -p $(dirname %v)", target))
	inv.Enqueue(fmt.Sprintf("sudo rsync -av --delete --exclude='.git' %v:%v/ %v/", inv.LocalHost(), inv.SourcePath(source), target))
}

func ExecutableFile(inv *invocation.Context, target, source string) error {
	if err := RemoteFile(inv, target, source); err != nil {
		return err
	}
	makeExecutable(inv, target)
	return nil
}

func ExecutableFileFunc(inv *invocation.Context, target string, produce Producer) error {
	if err := RemoteFileFunc(inv, target, produce); err != nil {
		return err
	}
	makeExecutable(inv, target)
	return nil
}

func makeExecutable(inv *invocation.Context, target string) {
	inv.Enqueue(fmt.Sprintf("sudo chmod a+x %v", target))
}

func RemoveRemoteFile(inv *invocation.Context, target string) {
	inv.Enqueue(fmt.Sprintf("sudo rm -f %v", target))
}

// RemoteCrondFile stages a cron drop-in. crond must be reloaded after the
// mode and owner are final.
func RemoteCrondFile(inv *invocation.Context, target, source string) error {
	if err := RemoteFile(inv, target, source); err != nil {
		return err
	}
	finishCrond(inv, target)
	return nil
}

func RemoteCrondFileFunc(inv *invocation.Context, target string, produce Producer) error {
	if err := RemoteFileFunc(inv, target, produce); err != nil {
		return err
	}
	finishCrond(inv, target)
	return nil
}

func finishCrond(inv *invocation.Context, target string) {
	inv.Enqueue(fmt.Sprintf("sudo chmod 644 %v", target))
	inv.Enqueue(fmt.Sprintf("sudo chown root:root %v", target))
	inv.Enqueue(crondReload)
}

func RemoveCrondFile(inv *invocation.Context, target string) {
	inv.Enqueue(fmt.Sprintf("sudo rm -f \"%v\"", target))
	inv.Enqueue(crondReload)
}
