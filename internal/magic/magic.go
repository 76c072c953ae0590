// Package magic sniffs the container type of a file.
package magic

import (
	"encoding/binary"
	"fmt"

	"github.com/blacktop/ilcov/pkg/il"
	"github.com/spf13/afero"
)

type Magic uint32

const (
	MagicModule  Magic = Magic(il.Magic)
	MagicSymbols Magic = Magic(il.SymbolsMagic)
)

func (m Magic) String() string {
	switch m {
	case MagicModule:
		return "module"
	case MagicSymbols:
		return "symbols"
	}
	return fmt.Sprintf("unknown(%#08x)", uint32(m))
}

// Read returns the file magic of filePath.
func Read(fs afero.Fs, filePath string) (Magic, error) {
	f, err := fs.Open(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer f.Close()

	var magic [4]byte
	if _, err = f.Read(magic[:]); err != nil {
		return 0, fmt.Errorf("failed to read magic: %w", err)
	}
	return Magic(binary.LittleEndian.Uint32(magic[:])), nil
}

func IsModule(fs afero.Fs, filePath string) (bool, error) {
	m, err := Read(fs, filePath)
	if err != nil {
		return false, err
	}
	switch m {
	case MagicModule:
		return true, nil
	case MagicSymbols:
		return false, fmt.Errorf("symbols file detected (pass the module next to it)")
	default:
		return false, fmt.Errorf("not a module file")
	}
}
