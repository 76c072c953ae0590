package emu

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

type field struct {
	Type  string `yaml:"type"`
	Value any    `yaml:"value"`
}

// State describes a call: the method, its arguments and static fields set beforehand.
type State struct {
	Method  string           `yaml:"method"`
	Args    []field          `yaml:"args,omitempty"`
	Statics map[string]field `yaml:"statics,omitempty"`
}

func ParseState(fs afero.Fs, name string) (*State, error) {
	var state State

	data, err := afero.ReadFile(fs, name)
	if err != nil {
		return nil, fmt.Errorf("error reading state file: %v", err)
	}

	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("error unmarshalling state file: %v", err)
	}

	return &state, nil
}

func (f field) value() (Value, error) {
	switch f.Type {
	case "int32", "int", "":
		return cast.ToInt32E(f.Value)
	case "int64", "long":
		return cast.ToInt64E(f.Value)
	case "bool":
		b, err := cast.ToBoolE(f.Value)
		return boolValue(b), err
	case "float64", "double":
		return cast.ToFloat64E(f.Value)
	case "string":
		if f.Value == nil {
			return nil, nil
		}
		return cast.ToStringE(f.Value)
	case "null":
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported state value type %q", f.Type)
}

// Values converts the arguments.
func (state *State) Values() ([]Value, error) {
	vals := make([]Value, 0, len(state.Args))
	for i, a := range state.Args {
		v, err := a.value()
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		vals = append(vals, v)
	}
	return vals, nil
}

// Apply sets the static fields on e. Keys are `Ns.Type::Field`.
func (state *State) Apply(e *Emulation) error {
	for key, f := range state.Statics {
		typeName, name, ok := strings.Cut(key, "::")
		if !ok {
			return fmt.Errorf("invalid static field %q (expected Type::Field)", key)
		}
		v, err := f.value()
		if err != nil {
			return fmt.Errorf("static %s: %w", key, err)
		}
		e.SetStatic(typeName, name, v)
	}
	return nil
}

// Run applies the state and calls its method.
func (state *State) Run(e *Emulation) (Value, error) {
	if err := state.Apply(e); err != nil {
		return nil, err
	}
	args, err := state.Values()
	if err != nil {
		return nil, err
	}
	return e.Call(state.Method, args...)
}

func (state *State) DumpYaml(w io.Writer) error {
	data, err := yaml.Marshal(state)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s", data)
	return err
}
