package instrument

import (
	"fmt"
	"path/filepath"

	"github.com/blacktop/ilcov/pkg/il"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
)

const tempSuffix = ".ilcov.tmp"

// writeFileAtomic writes data to a sibling temporary file and renames it over path.
func writeFileAtomic(fs afero.Fs, path string, data []byte) error {
	tmp := path + tempSuffix
	if err := afero.WriteFile(fs, tmp, data, 0o644); err != nil {
		fs.Remove(tmp)
		return err
	}
	if err := fs.Rename(tmp, path); err != nil {
		fs.Remove(tmp)
		return err
	}
	return nil
}

// write replaces the module and its symbols at out. Both are staged first; if the symbols
// cannot be moved into place the previous module is restored.
func (p *Processor) write(img *il.Image, out string) error {
	fs := p.s.Fs
	sym := il.SymbolsPath(out)
	tmpMod, tmpSym := out+tempSuffix, sym+tempSuffix

	cleanup := func(err error) error {
		fs.Remove(tmpMod)
		fs.Remove(tmpSym)
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	if err := afero.WriteFile(fs, tmpMod, img.Module, 0o644); err != nil {
		return cleanup(err)
	}
	if err := afero.WriteFile(fs, tmpSym, img.Symbols, 0o644); err != nil {
		return cleanup(err)
	}

	backup := ""
	if ok, _ := afero.Exists(fs, out); ok {
		backup = filepath.Join(filepath.Dir(out), "."+filepath.Base(out)+".orig")
		if err := fs.Rename(out, backup); err != nil {
			return cleanup(err)
		}
	}
	if err := fs.Rename(tmpMod, out); err != nil {
		var errs error = err
		if backup != "" {
			if rerr := fs.Rename(backup, out); rerr != nil {
				errs = multierror.Append(errs, rerr)
			}
		}
		return cleanup(errs)
	}
	if err := fs.Rename(tmpSym, sym); err != nil {
		var errs error = err
		if backup != "" {
			if rerr := fs.Rename(backup, out); rerr != nil {
				errs = multierror.Append(errs, rerr)
			}
		} else if rerr := fs.Remove(out); rerr != nil {
			errs = multierror.Append(errs, rerr)
		}
		return cleanup(errs)
	}
	if backup != "" {
		fs.Remove(backup)
	}
	return nil
}
