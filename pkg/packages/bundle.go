package packages

import (
	"fmt"

	"primamateria.systems/pipework/pkg/invocation"
)

// FluentRubyBin is where fluent-agent packages keep their embedded ruby,
// lib64 on x86_64 hosts.
const FluentRubyBin = `/usr/lib$(uname -i | grep x86_64 > /dev/null && echo 64)/fluent/ruby/bin`

// FluentBundle installs a Gemfile's gems with fluent's embedded bundler.
func FluentBundle(inv *invocation.Context, dir string) {
	inv.Enqueue(fmt.Sprintf("cd %v", dir))
	inv.Enqueue(fmt.Sprintf(`"%v/bundle" install`, FluentRubyBin))
}
