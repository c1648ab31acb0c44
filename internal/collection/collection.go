// Package collection loads quail collection files: a yaml document
// describing named requests, shared variables, environments and the
// scripts that run around each request.
package collection

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/quailhq/quail/internal/qerr"
)

// Script holds the three script stages of a request or folder.
type Script struct {
	PreRequest   string `yaml:"pre-request,omitempty"`
	PostResponse string `yaml:"post-response,omitempty"`
	Tests        string `yaml:"tests,omitempty"`
}

// Request is one named request in a collection.
type Request struct {
	Name    string            `yaml:"name"`
	Seq     int               `yaml:"seq,omitempty"`
	Method  string            `yaml:"method,omitempty"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Body    any               `yaml:"body,omitempty"`
	Vars    map[string]any    `yaml:"vars,omitempty"`
	Script  Script            `yaml:"script,omitempty"`
}

// Folder groups requests and contributes folder-level variables and
// scripts that wrap every request inside it.
type Folder struct {
	Name     string         `yaml:"name"`
	Vars     map[string]any `yaml:"vars,omitempty"`
	Script   Script         `yaml:"script,omitempty"`
	Requests []Request      `yaml:"requests"`
}

// Environment is one named set of environment variables, with secrets
// held separately so they stay out of interpolation.
type Environment struct {
	Vars    map[string]any `yaml:"vars,omitempty"`
	Secrets map[string]any `yaml:"secrets,omitempty"`
}

// Collection is a full parsed collection document.
type Collection struct {
	Name         string                 `yaml:"name"`
	Vars         map[string]any         `yaml:"vars,omitempty"`
	Environments map[string]Environment `yaml:"environments,omitempty"`
	Script       Script                 `yaml:"script,omitempty"`
	Folders      []Folder               `yaml:"folders,omitempty"`
	Requests     []Request              `yaml:"requests,omitempty"`

	// Dir is the directory the collection was loaded from.
	Dir string `yaml:"-"`
}

// Load reads and validates a collection file.
func Load(path string) (*Collection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, qerr.Wrapf(qerr.ErrCollectionNotFound, err, "collection file %s not found", path)
		}
		return nil, qerr.Wrapf(qerr.ErrCollectionInvalid, err, "failed to read collection file %s", path)
	}

	var col Collection
	if err := yaml.Unmarshal(data, &col); err != nil {
		return nil, qerr.Wrapf(qerr.ErrCollectionInvalid, err, "failed to parse collection file %s", path).
			WithFile(path, 0)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	col.Dir = filepath.Dir(abs)

	if err := col.validate(); err != nil {
		return nil, err
	}
	return &col, nil
}

func (c *Collection) validate() error {
	if c.Name == "" {
		return qerr.New(qerr.ErrCollectionInvalid, "collection has no name")
	}
	seen := make(map[string]bool)
	check := func(reqs []Request, where string) error {
		for i, req := range reqs {
			if req.Name == "" {
				return qerr.Newf(qerr.ErrCollectionInvalid, "%s request #%d has no name", where, i+1)
			}
			if seen[req.Name] {
				return qerr.Newf(qerr.ErrCollectionInvalid, "duplicate request name %q", req.Name)
			}
			seen[req.Name] = true
			if req.URL == "" {
				return qerr.Newf(qerr.ErrCollectionInvalid, "request %q has no url", req.Name)
			}
		}
		return nil
	}
	if err := check(c.Requests, "top-level"); err != nil {
		return err
	}
	for _, folder := range c.Folders {
		if folder.Name == "" {
			return qerr.New(qerr.ErrCollectionInvalid, "folder has no name")
		}
		if err := check(folder.Requests, fmt.Sprintf("folder %q", folder.Name)); err != nil {
			return err
		}
	}
	return nil
}

// Environment returns the named environment.
func (c *Collection) Environment(name string) (*Environment, error) {
	env, ok := c.Environments[name]
	if !ok {
		names := make([]string, 0, len(c.Environments))
		for n := range c.Environments {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, qerr.Newf(qerr.ErrEnvironmentNotFound, "environment %q not defined", name).
			With("available", fmt.Sprintf("%v", names))
	}
	return &env, nil
}

// Entry is one runnable request together with the folder that owns it,
// nil for top-level requests.
type Entry struct {
	Request *Request
	Folder  *Folder
}

// Sequence returns all requests in execution order: requests with an
// explicit seq run first in ascending seq order, then the remaining
// requests in document order, top-level requests before folders.
func (c *Collection) Sequence() []Entry {
	var sequenced, unsequenced []Entry
	add := func(e Entry) {
		if e.Request.Seq > 0 {
			sequenced = append(sequenced, e)
		} else {
			unsequenced = append(unsequenced, e)
		}
	}
	for i := range c.Requests {
		add(Entry{Request: &c.Requests[i]})
	}
	for fi := range c.Folders {
		folder := &c.Folders[fi]
		for i := range folder.Requests {
			add(Entry{Request: &folder.Requests[i], Folder: folder})
		}
	}
	sort.SliceStable(sequenced, func(a, b int) bool {
		return sequenced[a].Request.Seq < sequenced[b].Request.Seq
	})
	return append(sequenced, unsequenced...)
}

// Find returns the entry with the given request name.
func (c *Collection) Find(name string) (Entry, error) {
	for _, entry := range c.Sequence() {
		if entry.Request.Name == name {
			return entry, nil
		}
	}
	return Entry{}, qerr.Newf(qerr.ErrRequestNotFound, "request %q not defined", name)
}
