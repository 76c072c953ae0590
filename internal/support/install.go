package support

import (
	"fmt"
	"path/filepath"

	"github.com/apex/log"
	"github.com/blacktop/ilcov/pkg/il"
	"github.com/spf13/afero"
)

// Install writes the given variants of the support library below home, all of them when
// targets is empty. Existing files are overwritten.
func Install(fs afero.Fs, home, version string, targets ...Target) error {
	if len(targets) == 0 {
		targets = Targets
	}
	for _, t := range targets {
		m, err := Build(t, version)
		if err != nil {
			return fmt.Errorf("failed to build %s support library: %w", t, err)
		}
		img, err := il.Encode(m, nil)
		if err != nil {
			return fmt.Errorf("failed to encode %s support library: %w", t, err)
		}
		if err := fs.MkdirAll(filepath.Join(home, t.String()), 0o755); err != nil {
			return err
		}
		if err := afero.WriteFile(fs, Path(home, t), img.Module, 0o644); err != nil {
			return err
		}
		if err := afero.WriteFile(fs, SymbolsPath(home, t), img.Symbols, 0o644); err != nil {
			return err
		}
		log.WithFields(log.Fields{"target": t, "version": version}).Debugf("wrote %s", Path(home, t))
	}
	return nil
}

// Installed returns the assembly version of each variant present below home.
func Installed(fs afero.Fs, home string) (map[Target]string, error) {
	found := make(map[Target]string)
	for _, t := range Targets {
		m, err := il.Open(fs, Path(home, t))
		if err != nil {
			if ok, _ := afero.Exists(fs, Path(home, t)); !ok {
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", Path(home, t), err)
		}
		found[t] = m.Assembly.Version
	}
	return found, nil
}
