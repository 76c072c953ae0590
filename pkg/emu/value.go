package emu

import (
	"fmt"

	"github.com/blacktop/ilcov/pkg/il"
)

// Value is an evaluation stack, local or field value: int32, int64, float64, string, nil,
// *Object, *Array, *Pointer or *Boxed.
type Value any

// Object is a heap object with named fields.
type Object struct {
	Type   string
	Fields map[string]Value

	class *loadedType
}

func NewObject(typeName string) *Object {
	return &Object{Type: typeName, Fields: make(map[string]Value)}
}

func (o *Object) String() string { return o.Type }

// Array is a single dimension zero based array.
type Array struct {
	Elem  *il.TypeRef
	Items []Value
}

// NewArray allocates n zeroed elements of type elem.
func NewArray(elem *il.TypeRef, n int) *Array {
	a := &Array{Elem: elem, Items: make([]Value, n)}
	for i := range a.Items {
		a.Items[i] = Zero(elem)
	}
	return a
}

// Int32s returns a copy of the elements of an int32 array.
func (a *Array) Int32s() []int32 {
	out := make([]int32, len(a.Items))
	for i, v := range a.Items {
		out[i], _ = v.(int32)
	}
	return out
}

// Pointer is a managed reference to a local, argument, field or array element.
type Pointer struct {
	Load  func() Value
	Store func(Value)
}

// Boxed is a boxed value type instance.
type Boxed struct {
	Type  *il.TypeRef
	Value Value
}

// Exception is a thrown managed exception.
type Exception struct {
	Object *Object
}

func (e *Exception) Error() string {
	if msg, ok := e.Object.Fields["Message"].(string); ok && msg != "" {
		return fmt.Sprintf("%s: %s", e.Object.Type, msg)
	}
	return e.Object.Type
}

// Type returns the exception's runtime type name.
func (e *Exception) Type() string { return e.Object.Type }

// NewException creates an exception object of typeName with message.
func NewException(typeName, message string) *Exception {
	o := NewObject(typeName)
	o.Fields["Message"] = message
	return &Exception{Object: o}
}

// Zero returns the default value of a local, field or element of type t.
func Zero(t *il.TypeRef) Value {
	if t == nil || t.Kind != il.KindNamed || t.Namespace != "System" {
		return nil
	}
	switch t.Name {
	case "Boolean", "Char", "SByte", "Byte", "Int16", "UInt16", "Int32", "UInt32":
		return int32(0)
	case "Int64", "UInt64", "IntPtr", "UIntPtr":
		return int64(0)
	case "Single", "Double":
		return float64(0)
	}
	return nil
}

func truthy(v Value) bool {
	switch x := v.(type) {
	case nil:
		return false
	case int32:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	}
	return true
}

func boolValue(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// built in exception hierarchy
var exceptionBase = map[string]string{
	"System.Exception":                 "System.Object",
	"System.SystemException":           "System.Exception",
	"System.ArithmeticException":       "System.SystemException",
	"System.DivideByZeroException":     "System.ArithmeticException",
	"System.OverflowException":         "System.ArithmeticException",
	"System.NullReferenceException":    "System.SystemException",
	"System.IndexOutOfRangeException":  "System.SystemException",
	"System.InvalidCastException":      "System.SystemException",
	"System.InvalidOperationException": "System.SystemException",
	"System.ArgumentException":         "System.SystemException",
	"System.ArgumentNullException":     "System.ArgumentException",
	"System.NotSupportedException":     "System.SystemException",
	"System.Attribute":                 "System.Object",
}

func nullReference() error {
	return NewException("System.NullReferenceException", "Object reference not set to an instance of an object.")
}
