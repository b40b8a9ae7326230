package invocation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/v2"
	"primamateria.systems/pipework/pkg/remote"
)

type Config struct {
	Debug        bool
	UseStdout    bool
	Simulate     bool
	RootDir      string
	SourceURL    string
	SourceDir    string
	FilesDir     string
	TemplatesDir string
	OutputDir    string
	TempDir      string
	LocalHost    string
	Locals       []string
	AgeKeyfile   string
	Hosts        map[string][]string
	SSH          remote.SSHConfig
}

func NewConfig(k *koanf.Koanf) (*Config, error) {
	var c Config
	c.Debug = k.Bool("debug")
	c.UseStdout = k.Bool("stdout")
	c.Simulate = k.Bool("simulate")
	c.RootDir = k.String("root_dir")
	c.SourceURL = k.String("source.url")
	c.SourceDir = k.String("source_dir")
	c.FilesDir = k.String("files_dir")
	c.TemplatesDir = k.String("templates_dir")
	c.OutputDir = k.String("output_dir")
	c.TempDir = k.String("tmp_dir")
	c.LocalHost = k.String("local_host")
	c.Locals = k.Strings("locals")
	c.AgeKeyfile = k.String("age.keyfile")

	c.Hosts = make(map[string][]string)
	for _, ns := range k.MapKeys("hosts") {
		c.Hosts[ns] = k.Strings("hosts." + ns)
	}

	c.SSH = remote.SSHConfig{
		User:          k.String("ssh.user"),
		Port:          k.Int("ssh.port"),
		KeyPath:       k.String("ssh.key"),
		Passphrase:    k.String("ssh.passphrase"),
		KnownHosts:    k.String("ssh.known_hosts"),
		StrictHostKey: true,
		TTY:           k.Bool("ssh.tty"),
		Timeout:       k.Duration("ssh.timeout"),
		ConnTimeout:   k.Duration("ssh.conn_timeout"),
	}
	if k.Exists("ssh.strict_host_key") {
		c.SSH.StrictHostKey = k.Bool("ssh.strict_host_key")
	}

	// calculate defaults
	if c.RootDir == "" {
		c.RootDir = "."
	}
	root, err := filepath.Abs(c.RootDir)
	if err != nil {
		return nil, fmt.Errorf("invalid root dir %v: %w", c.RootDir, err)
	}
	c.RootDir = root
	// a synced source owns its directory, so it gets one of its own
	if c.SourceDir == "" {
		c.SourceDir = c.RootDir
		if c.SourceURL != "" {
			c.SourceDir = filepath.Join(c.RootDir, "source")
		}
	}
	if c.SourceDir, err = filepath.Abs(c.SourceDir); err != nil {
		return nil, fmt.Errorf("invalid source dir: %w", err)
	}
	if c.FilesDir == "" {
		c.FilesDir = filepath.Join(c.SourceDir, "files")
	}
	if c.TemplatesDir == "" {
		c.TemplatesDir = filepath.Join(c.SourceDir, "templates")
	}
	if c.OutputDir == "" {
		c.OutputDir = filepath.Join(c.RootDir, "output")
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	if c.SSH.KnownHosts == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.SSH.KnownHosts = filepath.Join(home, ".ssh", "known_hosts")
		}
	}
	if c.SSH.ConnTimeout == 0 {
		c.SSH.ConnTimeout = 15 * time.Second
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if c.RootDir == "" {
		return errors.New("need root directory")
	}
	if c.FilesDir == "" {
		return errors.New("need files directory")
	}
	if c.TemplatesDir == "" {
		return errors.New("need templates directory")
	}
	if c.SSH.Port < 0 || c.SSH.Port > 65535 {
		return fmt.Errorf("invalid ssh port %v", c.SSH.Port)
	}
	if err := c.validateSourceDir(); err != nil {
		return err
	}
	for ns, hosts := range c.Hosts {
		if len(hosts) == 0 {
			return fmt.Errorf("no hosts listed for %v", ns)
		}
	}
	return nil
}

// validateSourceDir keeps operator state out of the directory a source
// sync replaces.
func (c *Config) validateSourceDir() error {
	if c.SourceURL == "" {
		return nil
	}
	if within(c.SourceDir, c.RootDir) {
		return fmt.Errorf("source dir %v must not contain root dir %v", c.SourceDir, c.RootDir)
	}
	kept := map[string]string{"output dir": c.OutputDir, "age keyfile": c.AgeKeyfile}
	for i, l := range c.Locals {
		kept[fmt.Sprintf("locals[%d]", i)] = l
	}
	for name, p := range kept {
		if p != "" && within(c.SourceDir, p) {
			return fmt.Errorf("%v %v is inside source dir %v, which is replaced on sync", name, p, c.SourceDir)
		}
	}
	return nil
}

// within reports whether p is parent or below it.
func within(parent, p string) bool {
	ap, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(parent, ap)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// HostsFor returns the configured hosts for a task's namespace.
func (c *Config) HostsFor(task string) []string {
	ns, _, _ := strings.Cut(task, ":")
	return c.Hosts[ns]
}

func (c *Config) String() string {
	var result string
	result += fmt.Sprintf("Debug mode: %v\n", c.Debug)
	result += fmt.Sprintf("STDOUT: %v\n", c.UseStdout)
	result += fmt.Sprintf("Simulate: %v\n", c.Simulate)
	result += fmt.Sprintf("Root Dir: %v\n", c.RootDir)
	if c.SourceURL != "" {
		result += fmt.Sprintf("Source: %v\n", c.SourceURL)
	}
	result += fmt.Sprintf("Source Dir: %v\n", c.SourceDir)
	result += fmt.Sprintf("Files Dir: %v\n", c.FilesDir)
	result += fmt.Sprintf("Templates Dir: %v\n", c.TemplatesDir)
	result += fmt.Sprintf("Output Dir: %v\n", c.OutputDir)
	result += fmt.Sprintf("Temp Dir: %v\n", c.TempDir)
	result += fmt.Sprintf("Local Host: %v\n", c.LocalHost)
	result += fmt.Sprintf("Locals: %v\n", c.Locals)
	if c.AgeKeyfile != "" {
		result += fmt.Sprintf("Age Keyfile: %v\n", c.AgeKeyfile)
	}
	result += fmt.Sprintf("Hosts: %v\n", c.Hosts)
	result += "SSH Config: \n"
	result += c.SSH.String()
	return result
}
