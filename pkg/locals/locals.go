// Package locals loads the variables bound into templates. Vault files
// hold global, per-task and per-host values; a host's view layers them
// in that order so host values win.
package locals

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

type Filter struct {
	Host string
	Task string
}

type Vault struct {
	Globals map[string]any            `toml:"globals" yaml:"globals"`
	Tasks   map[string]map[string]any `toml:"tasks" yaml:"tasks"`
	Hosts   map[string]map[string]any `toml:"hosts" yaml:"hosts"`
}

func NewVault() *Vault {
	return &Vault{
		Globals: map[string]any{},
		Tasks:   map[string]map[string]any{},
		Hosts:   map[string]map[string]any{},
	}
}

// Merge copies keys from lower into higher unless higher already has them.
func Merge(higher map[string]any, lower map[string]any) map[string]any {
	if higher == nil {
		higher = map[string]any{}
	}
	for k, v := range lower {
		if _, ok := higher[k]; !ok {
			higher[k] = v
		}
	}
	return higher
}

// Add layers other on top of v.
func (v *Vault) Add(other *Vault) {
	maps.Copy(v.Globals, other.Globals)
	for name, vals := range other.Tasks {
		if v.Tasks[name] == nil {
			v.Tasks[name] = map[string]any{}
		}
		maps.Copy(v.Tasks[name], vals)
	}
	for name, vals := range other.Hosts {
		if v.Hosts[name] == nil {
			v.Hosts[name] = map[string]any{}
		}
		maps.Copy(v.Hosts[name], vals)
	}
}

// For returns the locals visible to a task running on a host. Task values
// match the namespace first and then the full task name.
func (v *Vault) For(f Filter) map[string]any {
	results := maps.Clone(v.Globals)
	if results == nil {
		results = map[string]any{}
	}
	if f.Task != "" {
		ns, _, _ := strings.Cut(f.Task, ":")
		maps.Copy(results, v.Tasks[ns])
		if ns != f.Task {
			maps.Copy(results, v.Tasks[f.Task])
		}
	}
	if f.Host != "" {
		maps.Copy(results, v.Hosts[f.Host])
	}
	return results
}

// Load reads vault files in order, later files overriding earlier ones.
// Files ending in .age are decrypted with identities and parsed as TOML.
func Load(paths []string, identities []age.Identity) (*Vault, error) {
	result := NewVault()
	for _, p := range paths {
		v, err := loadFile(p, identities)
		if err != nil {
			return nil, fmt.Errorf("error loading locals %v: %w", p, err)
		}
		log.Debug("loaded locals", "file", p)
		result.Add(v)
	}
	return result, nil
}

func LoadIdentities(path string) ([]age.Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	idents, err := age.ParseIdentities(f)
	if err != nil {
		return nil, err
	}
	if len(idents) == 0 {
		return nil, errors.New("need at least one identity")
	}
	return idents, nil
}

func loadFile(path string, identities []age.Identity) (*Vault, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	v := NewVault()
	switch filepath.Ext(path) {
	case ".toml":
		err = toml.Unmarshal(data, v)
	case ".yml", ".yaml":
		err = yaml.Unmarshal(data, v)
	case ".age":
		if len(identities) == 0 {
			return nil, errors.New("encrypted locals need an age keyfile")
		}
		decrypted, derr := age.Decrypt(bytes.NewReader(data), identities...)
		if derr != nil {
			return nil, derr
		}
		buf := new(bytes.Buffer)
		if _, derr = buf.ReadFrom(decrypted); derr != nil {
			return nil, derr
		}
		err = toml.Unmarshal(buf.Bytes(), v)
	default:
		return nil, fmt.Errorf("unsupported locals format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}
