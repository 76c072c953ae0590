// Package instrument rewrites method bodies to record which sequence points ran.
package instrument

import (
	"sync"

	"github.com/apex/log"
	"github.com/blacktop/ilcov/internal/resolve"
	"github.com/spf13/afero"
)

// Config is the instrumentation configuration.
type Config struct {
	// Home holds one support library variant per target, <home>/<target>/Ilcov.Support.dll.
	Home string
	// KeyFile is the strong name key used to re-sign signed modules.
	KeyFile     string
	SkipModules []string
	SkipMethods []string
	// SearchDirs are searched first when resolving references.
	SearchDirs []string
	// Output is the output directory. Modules are rewritten in place when empty.
	Output string
}

// Session holds the state shared by every processor of one run.
type Session struct {
	Fs       afero.Fs
	Log      log.Interface
	Resolver *resolve.Resolver

	conf   *Config
	filter *Filter
	copyMu sync.Mutex
}

// NewSession creates a session. A nil logger uses the global apex logger.
func NewSession(fs afero.Fs, conf *Config, logger log.Interface) (*Session, error) {
	if logger == nil {
		logger = log.Log
	}
	if conf == nil {
		conf = &Config{}
	}
	filter, err := NewFilter(conf.SkipModules, conf.SkipMethods)
	if err != nil {
		return nil, err
	}
	r, err := resolve.New(fs, conf.SearchDirs, logger)
	if err != nil {
		return nil, err
	}
	return &Session{
		Fs:       fs,
		Log:      logger,
		Resolver: r,
		conf:     conf,
		filter:   filter,
	}, nil
}

// Config returns the session configuration.
func (s *Session) Config() *Config { return s.conf }

// Process instruments the module at path.
func (s *Session) Process(path string) (*Result, error) {
	p, err := s.NewProcessor(path)
	if err != nil {
		return nil, err
	}
	return p.Process()
}
