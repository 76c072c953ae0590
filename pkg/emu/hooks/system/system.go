// Package system provides host implementations of common core library methods.
package system

import (
	"fmt"
	"strings"

	"github.com/blacktop/ilcov/pkg/emu"
)

// Register hooks the System.Console, System.String and System.Math members on e.
func Register(e *emu.Emulation) {
	e.Hook("System.Console", "WriteLine", writeLine)
	e.Hook("System.Console", "Write", write)
	e.Hook("System.String", "Concat", concat)
	e.Hook("System.String", "get_Length", length)
	e.Hook("System.String", "IsNullOrEmpty", isNullOrEmpty)
	e.Hook("System.Math", "Max", minMax(func(a, b int64) bool { return a > b }))
	e.Hook("System.Math", "Min", minMax(func(a, b int64) bool { return a < b }))
	e.Hook("System.Math", "Abs", abs)
}

func format(v emu.Value) string {
	switch x := v.(type) {
	case nil:
		return ""
	case *emu.Boxed:
		return format(x.Value)
	case *emu.Exception:
		return x.Error()
	}
	return fmt.Sprint(v)
}

func writeLine(c *emu.CallContext, args []emu.Value) (emu.Value, error) {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, format(a))
	}
	_, err := fmt.Fprintln(c.Emulation.Output(), strings.Join(parts, ""))
	return nil, err
}

func write(c *emu.CallContext, args []emu.Value) (emu.Value, error) {
	for _, a := range args {
		if _, err := fmt.Fprint(c.Emulation.Output(), format(a)); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func concat(_ *emu.CallContext, args []emu.Value) (emu.Value, error) {
	var sb strings.Builder
	for _, a := range args {
		sb.WriteString(format(a))
	}
	return sb.String(), nil
}

func length(_ *emu.CallContext, args []emu.Value) (emu.Value, error) {
	s, ok := args[0].(string)
	if !ok {
		return nil, emu.NewException("System.NullReferenceException", "Object reference not set to an instance of an object.")
	}
	return int32(len([]rune(s))), nil
}

func isNullOrEmpty(_ *emu.CallContext, args []emu.Value) (emu.Value, error) {
	s, _ := args[0].(string)
	if s == "" {
		return int32(1), nil
	}
	return int32(0), nil
}

func toInt(v emu.Value) (int64, bool) {
	switch x := v.(type) {
	case int32:
		return int64(x), true
	case int64:
		return x, true
	}
	return 0, false
}

func minMax(pick func(a, b int64) bool) emu.HostFunc {
	return func(c *emu.CallContext, args []emu.Value) (emu.Value, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("%s expects 2 arguments", c.Method.Name)
		}
		a, ok1 := toInt(args[0])
		b, ok2 := toInt(args[1])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%s on %T and %T is not supported", c.Method.Name, args[0], args[1])
		}
		r := b
		if pick(a, b) {
			r = a
		}
		if _, ok := args[0].(int32); ok {
			return int32(r), nil
		}
		return r, nil
	}
}

func abs(_ *emu.CallContext, args []emu.Value) (emu.Value, error) {
	switch x := args[0].(type) {
	case int32:
		if x == -x && x != 0 {
			return nil, emu.NewException("System.OverflowException", "Negating the minimum value of a twos complement number is invalid.")
		}
		if x < 0 {
			return -x, nil
		}
		return x, nil
	case int64:
		if x < 0 {
			return -x, nil
		}
		return x, nil
	case float64:
		if x < 0 {
			return -x, nil
		}
		return x, nil
	}
	return nil, fmt.Errorf("abs of %T is not supported", args[0])
}
