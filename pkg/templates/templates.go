// Package templates expands template files from the pipework templates
// directory with bound locals.
package templates

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// Ext is appended to template names that do not already carry it.
const Ext = ".tmpl"

type MacroMap func(vars map[string]any) template.FuncMap

// Facts exposes the invocation state macros may read at render time.
type Facts interface {
	Host() string
	LocalHost() string
}

type Renderer struct {
	Dir    string
	macros MacroMap
}

func NewRenderer(dir string, macros MacroMap) *Renderer {
	if macros == nil {
		macros = func(map[string]any) template.FuncMap { return template.FuncMap{} }
	}
	return &Renderer{Dir: dir, macros: macros}
}

// Resolve returns the on-disk path for a template name.
func (r *Renderer) Resolve(name string) string {
	if filepath.Ext(name) != Ext {
		name += Ext
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(r.Dir, name)
}

func (r *Renderer) Render(name string, locals map[string]any) (string, error) {
	path := r.Resolve(name)
	body, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("error reading template %v: %w", name, err)
	}
	return r.RenderString(filepath.Base(path), string(body), locals)
}

func (r *Renderer) RenderString(name, body string, locals map[string]any) (string, error) {
	if locals == nil {
		locals = map[string]any{}
	}
	tmpl, err := template.New(name).Option("missingkey=error").Funcs(r.macros(locals)).Parse(body)
	if err != nil {
		return "", fmt.Errorf("error parsing template %v: %w", name, err)
	}
	result := bytes.NewBuffer([]byte{})
	if err := tmpl.Execute(result, locals); err != nil {
		return "", fmt.Errorf("error rendering template %v: %w", name, err)
	}
	return result.String(), nil
}

func DefaultMacros(facts Facts, quote func(string) string) MacroMap {
	return func(vars map[string]any) template.FuncMap {
		return template.FuncMap{
			"m_host": func() string {
				return facts.Host()
			},
			"m_localhost": func() string {
				return facts.LocalHost()
			},
			"m_default": func(arg string, def any) any {
				if val, ok := vars[arg]; ok {
					return val
				}
				return def
			},
			"exists": func(arg string) bool {
				_, ok := vars[arg]
				return ok
			},
			"join": func(sep string, items []any) string {
				parts := make([]string, 0, len(items))
				for _, v := range items {
					parts = append(parts, fmt.Sprint(v))
				}
				return strings.Join(parts, sep)
			},
			"shellquote": quote,
		}
	}
}
