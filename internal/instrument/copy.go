package instrument

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/blacktop/ilcov/internal/support"
	"github.com/blacktop/ilcov/pkg/il"
	"github.com/hashicorp/go-version"
	"github.com/spf13/afero"
)

// copySupport places the support library variant for target in dir and returns its path.
// Failures are logged and never abort the rewrite; the returned path is empty when no
// usable copy exists in dir.
func (p *Processor) copySupport(target support.Target, dir string) string {
	if p.conf.Home == "" {
		return ""
	}
	src := support.Path(p.conf.Home, target)
	dst := filepath.Join(dir, support.FileName)
	if filepath.Clean(src) == filepath.Clean(dst) {
		return dst
	}

	p.s.copyMu.Lock()
	defer p.s.copyMu.Unlock()

	copied, err := p.s.copyIfNewer(src, dst)
	if err != nil {
		p.log.WithError(&SupportLibraryCopyError{Path: dst, Err: err}).Warn("support library not copied")
		if ok, _ := afero.Exists(p.s.Fs, dst); ok {
			return dst
		}
		return ""
	}
	if copied {
		p.log.Debugf("copied %s to %s", src, dst)
	}
	return dst
}

// copyIfNewer overwrites dst with src, and the symbols companions, when dst is absent,
// unreadable or has a strictly older assembly version. The caller holds copyMu.
func (s *Session) copyIfNewer(src, dst string) (bool, error) {
	data, err := afero.ReadFile(s.Fs, src)
	if err != nil {
		return false, err
	}
	want, err := moduleVersion(data)
	if err != nil {
		return false, err
	}
	if cur, err := afero.ReadFile(s.Fs, dst); err == nil {
		if have, err := moduleVersion(cur); err == nil && !have.LessThan(want) {
			return false, nil
		}
	} else if !os.IsNotExist(err) {
		return false, err
	}

	if err := writeFileAtomic(s.Fs, dst, data); err != nil {
		return false, err
	}
	s.Resolver.Forget(dst)

	symbols, err := afero.ReadFile(s.Fs, il.SymbolsPath(src))
	switch {
	case err == nil:
		if err := writeFileAtomic(s.Fs, il.SymbolsPath(dst), symbols); err != nil {
			return true, err
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return true, err
	}
	return true, nil
}

func moduleVersion(data []byte) (*version.Version, error) {
	m, err := il.Decode(data, nil)
	if err != nil {
		return nil, err
	}
	return version.NewVersion(m.Assembly.Version)
}
