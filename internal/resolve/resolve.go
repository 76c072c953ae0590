// Package resolve locates the modules that a module references.
package resolve

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/apex/log"
	"github.com/blacktop/ilcov/pkg/il"
	"github.com/hashicorp/go-version"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

const defaultCacheSize = 128

// Error reports a reference that could not be resolved.
type Error struct {
	Reference string
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("failed to resolve %s", e.Reference)
	}
	return fmt.Sprintf("failed to resolve %s: %v", e.Reference, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Request is one resolution.
type Request struct {
	Ref *il.AssemblyRef
	// From is the path of the referencing module.
	From string
	// Support is the location the support library was copied to, if any.
	Support string
}

// Resolver resolves assembly references with a default search path followed by the
// support library location and the referencing module's directory. Resolved modules are
// cached and shared, so callers must not modify them.
type Resolver struct {
	fs    afero.Fs
	dirs  []string
	log   log.Interface
	cache *lru.Cache[string, *il.Module]
}

// New creates a resolver searching dirs first.
func New(fs afero.Fs, dirs []string, logger log.Interface) (*Resolver, error) {
	cache, err := lru.New[string, *il.Module](defaultCacheSize)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Log
	}
	return &Resolver{fs: fs, dirs: dirs, log: logger, cache: cache}, nil
}

// Resolve returns the module behind req.Ref.
func (r *Resolver) Resolve(req Request) (*il.Module, error) {
	m, err := r.search(req.Ref)
	if err == nil {
		return m, nil
	}
	if req.Support != "" && filepath.Base(req.Support) == req.Ref.Name+".dll" {
		m, serr := r.Load(req.Support)
		if serr == nil && m.Assembly.Version == req.Ref.Version {
			return m, nil
		}
		if serr != nil {
			err = serr
		}
	}
	if req.From != "" {
		path := filepath.Join(filepath.Dir(req.From), req.Ref.Name+".dll")
		r.log.Debugf("Looking for: %s", path)
		m, serr := r.Load(path)
		if serr == nil {
			return m, nil
		}
		if !os.IsNotExist(errors.Cause(serr)) {
			err = serr
		}
	}
	r.log.WithError(err).Errorf("failed to resolve %s for %s", req.Ref.FullName(), req.From)
	return nil, &Error{Reference: req.Ref.FullName(), Err: err}
}

// search is the default resolution: the first search directory holding a module with the
// requested name and a version at least the requested one.
func (r *Resolver) search(ref *il.AssemblyRef) (*il.Module, error) {
	want, err := version.NewVersion(ref.Version)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid reference version %q", ref.Version)
	}
	for _, dir := range r.dirs {
		m, err := r.Load(filepath.Join(dir, ref.Name+".dll"))
		if err != nil {
			continue
		}
		if m.Assembly.Name != ref.Name {
			continue
		}
		got, err := version.NewVersion(m.Assembly.Version)
		if err != nil || got.LessThan(want) {
			continue
		}
		return m, nil
	}
	return nil, os.ErrNotExist
}

// Load decodes the module at path through the cache.
func (r *Resolver) Load(path string) (*il.Module, error) {
	path = filepath.Clean(path)
	if m, ok := r.cache.Get(path); ok {
		return m, nil
	}
	data, err := afero.ReadFile(r.fs, path)
	if err != nil {
		return nil, err
	}
	m, err := il.Decode(data, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}
	r.cache.Add(path, m)
	return m, nil
}

// Forget drops a cached module, e.g. after the file was overwritten.
func (r *Resolver) Forget(path string) {
	r.cache.Remove(filepath.Clean(path))
}
