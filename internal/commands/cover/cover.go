// Package cover instruments batches of modules.
package cover

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/apex/log"
	"github.com/blacktop/ilcov/internal/instrument"
	"github.com/blacktop/ilcov/internal/magic"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// Config is the batch configuration.
type Config struct {
	// Parallel bounds the number of modules processed at once.
	Parallel int
	// Progress, when set, is called once per finished module.
	Progress func()
}

// Status is the outcome of one module of a batch.
type Status int

const (
	NotStarted Status = iota
	Done
	Failed
)

func (s Status) String() string {
	switch s {
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return "not started"
}

// Batch is the outcome of Run, indexed like its input paths.
type Batch struct {
	Paths []string
	// Results is nil where a module failed or was not started.
	Results []*instrument.Result
	Status  []Status
}

// Stats summarizes a batch.
type Stats struct {
	Modules    int
	Skipped    int
	Failed     int
	NotStarted int
	Methods    int
	Points     int
	Supports   []string
}

var moduleExts = []string{".dll", ".exe"}

// Collect expands inputs into module paths. Files are taken as given; directories are
// walked for .dll and .exe files that hold a module.
func Collect(fs afero.Fs, inputs []string) ([]string, error) {
	var paths []string
	for _, in := range inputs {
		fi, err := fs.Stat(in)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to stat %s", in)
		}
		if !fi.IsDir() {
			paths = append(paths, filepath.Clean(in))
			continue
		}
		if err := afero.Walk(fs, in, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() || !slices.Contains(moduleExts, strings.ToLower(filepath.Ext(path))) {
				return nil
			}
			if ok, err := magic.IsModule(fs, path); !ok {
				log.WithError(err).Debugf("skipping %s", path)
				return nil
			}
			paths = append(paths, path)
			return nil
		}); err != nil {
			return nil, errors.Wrapf(err, "failed to walk %s", in)
		}
	}
	return slices.Compact(paths), nil
}

// Run instruments every module in paths with one shared session. A failing module does not
// stop the others; failures are returned together. Once ctx is done no further module is
// started and the remaining ones are reported as NotStarted.
func Run(ctx context.Context, s *instrument.Session, conf *Config, paths []string) (*Batch, error) {
	b := &Batch{
		Paths:   paths,
		Results: make([]*instrument.Result, len(paths)),
		Status:  make([]Status, len(paths)),
	}

	var (
		mu   sync.Mutex
		errs *multierror.Error
	)
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = multierror.Append(errs, err)
	}

	var g errgroup.Group
	if conf != nil && conf.Parallel > 0 {
		g.SetLimit(conf.Parallel)
	}
	for i, path := range paths {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if conf != nil && conf.Progress != nil {
				defer conf.Progress()
			}
			res, err := s.Process(path)
			if err != nil {
				b.Status[i] = Failed
				fail(errors.Wrapf(err, "failed to instrument %s", path))
				return nil
			}
			b.Results[i], b.Status[i] = res, Done
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		if n := b.count(NotStarted); n > 0 {
			fail(errors.Wrapf(err, "%d modules not processed", n))
		}
	}
	return b, errs.ErrorOrNil()
}

func (b *Batch) count(st Status) int {
	n := 0
	for _, s := range b.Status {
		if s == st {
			n++
		}
	}
	return n
}

// Summarize totals a batch.
func Summarize(b *Batch) Stats {
	st := Stats{Failed: b.count(Failed), NotStarted: b.count(NotStarted)}
	for _, res := range b.Results {
		if res == nil {
			continue
		}
		st.Modules++
		if res.Skipped {
			st.Skipped++
			continue
		}
		st.Methods += res.Methods
		st.Points += res.Points
		if res.Support != "" && !slices.Contains(st.Supports, res.Support) {
			st.Supports = append(st.Supports, res.Support)
		}
	}
	return st
}
