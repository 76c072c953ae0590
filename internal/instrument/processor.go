package instrument

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apex/log"
	"github.com/blacktop/ilcov/internal/resolve"
	"github.com/blacktop/ilcov/internal/support"
	"github.com/blacktop/ilcov/pkg/il"
	"github.com/spf13/afero"
)

// Result describes one processed module.
type Result struct {
	Path    string
	Output  string
	Skipped bool
	Reason  string
	Target  support.Target
	// Counters holds the counter length of every method by (type, method) index.
	Counters [][]int
	// Methods is the number of rewritten methods.
	Methods int
	// Points is the number of counters across all rewritten methods.
	Points int
	// Support is where the support library was found or copied to.
	Support string
}

// Processor instruments one module.
type Processor struct {
	s      *Session
	conf   *Config
	path   string
	log    log.Interface
	skip   string
	module *il.Module
}

// NewProcessor loads the module at path and its symbols. Modules on the skip list are not
// loaded and process as skipped.
func (s *Session) NewProcessor(path string) (*Processor, error) {
	p := &Processor{
		s:    s,
		conf: s.conf,
		path: path,
		log:  s.Log.WithField("module", filepath.Base(path)),
	}
	if ok, _ := afero.Exists(s.Fs, path); !ok {
		return nil, fmt.Errorf("module not found in path %s: %w", path, os.ErrNotExist)
	}
	if reason, skip := s.filter.SkipFile(path); skip {
		p.skip = reason
		return p, nil
	}

	data, err := afero.ReadFile(s.Fs, path)
	if err != nil {
		return nil, err
	}
	symPath := il.SymbolsPath(path)
	symbols, err := afero.ReadFile(s.Fs, symPath)
	if err != nil {
		return nil, &MissingDebugInfoError{Path: symPath, Err: err}
	}
	m, err := il.Decode(data, symbols)
	if err != nil {
		if errors.Is(err, il.ErrSymbolsMismatch) {
			return nil, &MissingDebugInfoError{Path: symPath, Err: err}
		}
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	p.module = m
	return p, nil
}

// Module returns the loaded module, nil for a skip listed file.
func (p *Processor) Module() *il.Module { return p.module }

func (p *Processor) skipped(res *Result, reason string) (*Result, error) {
	p.log.Debugf("skipped (%s)", reason)
	res.Skipped = true
	res.Reason = reason
	return res, nil
}

// Process rewrites every eligible method, synthesizes the counter length table, copies the
// support library next to the output and writes the module and its symbols. A module with
// nothing to rewrite is left untouched.
func (p *Processor) Process() (*Result, error) {
	res := &Result{Path: p.path}
	if p.skip != "" {
		return p.skipped(res, p.skip)
	}
	m := p.module
	if reason, skip := p.s.filter.SkipModule(m); skip {
		return p.skipped(res, reason)
	}

	target := ResolveTarget(m, p.log)
	res.Target = target
	sign, err := p.signer(target)
	if err != nil {
		return nil, err
	}

	contract, supportPath, err := p.loadSupport(target)
	if err != nil {
		return nil, err
	}

	ts := m.TypeSystem()
	rw := NewRewriter(contract.Guard(ts, ModuleCoverageRef()), ts)
	syn := NewSynthesizer(m, contract)
	for ti, t := range m.Types {
		p.log.Debugf("\t%s", t.FullName())
		for mi, md := range t.Methods {
			if reason, ok := p.s.filter.Eligible(t, md); !ok {
				p.log.Debugf("\t\t[NO] %s (%s)", md.Name, reason)
				continue
			}
			r, err := rw.Rewrite(md, ti, mi)
			if err != nil {
				return nil, err
			}
			p.log.Debugf("\t\t[YES] %s (%d points)", md.Name, len(r.Counters))
			syn.Record(ti, mi, len(r.Counters))
			res.Points += len(r.Counters)
		}
	}
	res.Counters = syn.Lengths()
	res.Methods = syn.Rewritten()
	if res.Methods == 0 {
		return p.skipped(res, "nothing to instrument")
	}

	if _, err := syn.Build(m); err != nil {
		return nil, &RewriteConsistencyError{Method: ModuleCoverageRef().FullName() + "::.ctor", Err: err}
	}
	if m.Attributes&il.ILLibrary != 0 {
		m.Architecture = il.I386
		m.Attributes &^= il.ILLibrary
		m.Attributes |= il.ILOnly
	}
	m.CustomAttributes = append(m.CustomAttributes, contract.CoveredMarker(ts))

	img, err := il.Encode(m, &il.EncodeOptions{Sign: sign})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", p.path, err)
	}

	out, err := p.outputPath()
	if err != nil {
		return nil, err
	}
	res.Output = out
	if copied := p.copySupport(target, filepath.Dir(out)); copied != "" {
		supportPath = copied
	}
	res.Support = supportPath
	if _, err := p.s.Resolver.Resolve(resolve.Request{Ref: contract.Assembly, From: out, Support: supportPath}); err != nil {
		return nil, err
	}

	if err := p.write(img, out); err != nil {
		return nil, err
	}
	p.log.WithField("target", target).Debugf("instrumented %d methods (%d points)", res.Methods, res.Points)
	return res, nil
}

// loadSupport loads the support library variant for target and checks its contract.
// Without a home directory the library is resolved from the search path and the module's
// directory.
func (p *Processor) loadSupport(target support.Target) (*support.Contract, string, error) {
	var (
		sm   *il.Module
		path string
		err  error
	)
	if p.conf.Home != "" {
		path = support.Path(p.conf.Home, target)
		p.log.Debugf("support library: %s", path)
		sm, err = p.s.Resolver.Load(path)
		if err != nil {
			return nil, "", &ResolutionError{Reference: path, Err: err}
		}
	} else {
		ref := &il.AssemblyRef{Name: support.AssemblyName, Version: "0.0.0.0"}
		sm, err = p.s.Resolver.Resolve(resolve.Request{Ref: ref, From: p.path})
		if err != nil {
			return nil, "", err
		}
		path = filepath.Join(filepath.Dir(p.path), support.FileName)
	}
	c, err := support.Resolve(sm)
	if err != nil {
		return nil, "", &ResolutionError{Reference: sm.Assembly.Ref().FullName(), Err: err}
	}
	return c, path, nil
}

func (p *Processor) outputPath() (string, error) {
	if p.conf.Output == "" {
		return p.path, nil
	}
	if err := p.s.Fs.MkdirAll(p.conf.Output, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", p.conf.Output, err)
	}
	return filepath.Join(p.conf.Output, filepath.Base(p.path)), nil
}
