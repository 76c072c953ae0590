package emu

import (
	"fmt"
	"math"

	"github.com/blacktop/ilcov/pkg/il"
)

type exitKind uint8

const (
	exitReturn exitKind = iota
	exitEndFinally
	exitEndFilter
)

func (k exitKind) String() string {
	switch k {
	case exitReturn:
		return "ret"
	case exitEndFinally:
		return "endfinally"
	case exitEndFilter:
		return "endfilter"
	}
	return fmt.Sprintf("exit(%d)", uint8(k))
}

type frame struct {
	method *il.MethodDef
	mod    *il.Module
	body   *il.Body
	args   []Value
	locals []Value
	stack  []Value
	caught map[*il.ExceptionRegion]*Exception
}

func newFrame(md *il.MethodDef, mod *il.Module, args []Value) *frame {
	f := &frame{
		method: md,
		mod:    mod,
		body:   md.Body,
		args:   args,
		locals: make([]Value, len(md.Body.Locals)),
		caught: make(map[*il.ExceptionRegion]*Exception),
	}
	for i, t := range md.Body.Locals {
		f.locals[i] = Zero(t)
	}
	return f
}

func (f *frame) push(v Value) { f.stack = append(f.stack, v) }

func (f *frame) pop() (Value, error) {
	if len(f.stack) == 0 {
		return nil, fmt.Errorf("%s: evaluation stack underflow", f.method.FullName())
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v, nil
}

func (f *frame) popN(n int) ([]Value, error) {
	if len(f.stack) < n {
		return nil, fmt.Errorf("%s: evaluation stack underflow", f.method.FullName())
	}
	vals := make([]Value, n)
	copy(vals, f.stack[len(f.stack)-n:])
	f.stack = f.stack[:len(f.stack)-n]
	return vals, nil
}

// pos maps a handle to its program position; the end of body maps to Len.
func (f *frame) pos(id il.InstrID) int {
	if id == il.NoInstr {
		return f.body.Len()
	}
	p, ok := f.body.Position(id)
	if !ok {
		return -1
	}
	return p
}

func (f *frame) in(pc int, start, end il.InstrID) bool {
	return f.pos(start) <= pc && pc < f.pos(end)
}

// span is a half open range of program positions.
type span struct{ lo, hi int }

func (s *span) contains(f *frame, r *il.ExceptionRegion) bool {
	if s == nil {
		return true
	}
	return s.lo <= f.pos(r.TryStart) && f.pos(r.TryEnd) <= s.hi
}

// run executes f from pc until it returns or, for handler code, reaches endfinally or
// endfilter. Exceptions are only caught by regions inside scope.
func (e *Emulation) run(f *frame, pc int, scope *span) (exitKind, Value, error) {
	limit := e.conf.MaxSteps
	if limit == 0 {
		limit = defaultMaxSteps
	}
	for {
		if pc < 0 || pc >= f.body.Len() {
			return 0, nil, fmt.Errorf("%s: control left the body at position %d", f.method.FullName(), pc)
		}
		e.steps++
		if e.steps > limit {
			return 0, nil, fmt.Errorf("%w: %d", ErrStepLimit, limit)
		}
		id := f.body.At(pc)
		in := f.body.Instr(id)
		if e.conf.Verbose {
			e.trace(f, id)
		}
		next, done, err := e.step(f, pc, in)
		if err != nil {
			exc, ok := err.(*Exception)
			if !ok {
				return 0, nil, err
			}
			if pc, err = e.handle(f, pc, exc, scope); err != nil {
				return 0, nil, err
			}
			continue
		}
		if done != nil {
			return done.kind, done.value, nil
		}
		pc = next
	}
}

type exit struct {
	kind  exitKind
	value Value
}

// handle finds the handler for exc thrown at pc. Finally and fault handlers of the regions
// being left run after filters were evaluated and before control reaches the catch handler.
func (e *Emulation) handle(f *frame, pc int, exc *Exception, scope *span) (int, error) {
	var unwind []*il.ExceptionRegion
	for _, r := range f.body.Regions {
		if !scope.contains(f, r) || !f.in(pc, r.TryStart, r.TryEnd) {
			continue
		}
		switch r.Kind {
		case il.HandlerFinally, il.HandlerFault:
			unwind = append(unwind, r)
			continue
		case il.HandlerCatch:
			if !e.IsInstance(exc.Object, r.CatchType) {
				continue
			}
		case il.HandlerFilter:
			ok, err := e.filter(f, r, exc)
			if err != nil {
				return 0, err
			}
			if !ok {
				continue
			}
		}
		if err := e.unwind(f, unwind); err != nil {
			return 0, err
		}
		f.stack = append(f.stack[:0], exc.Object)
		f.caught[r] = exc
		return f.pos(r.HandlerStart), nil
	}
	if err := e.unwind(f, unwind); err != nil {
		return 0, err
	}
	return 0, exc
}

func (e *Emulation) filter(f *frame, r *il.ExceptionRegion, exc *Exception) (bool, error) {
	f.stack = append(f.stack[:0], exc.Object)
	kind, v, err := e.run(f, f.pos(r.FilterStart), &span{f.pos(r.FilterStart), f.pos(r.HandlerStart)})
	if err != nil {
		if _, ok := err.(*Exception); ok {
			return false, nil
		}
		return false, err
	}
	if kind != exitEndFilter {
		return false, fmt.Errorf("%s: filter ended with %s", f.method.FullName(), kind)
	}
	return truthy(v), nil
}

// unwind runs finally and fault handlers in order.
func (e *Emulation) unwind(f *frame, regions []*il.ExceptionRegion) error {
	for _, r := range regions {
		f.stack = f.stack[:0]
		kind, _, err := e.run(f, f.pos(r.HandlerStart), &span{f.pos(r.HandlerStart), f.pos(r.HandlerEnd)})
		if err != nil {
			return err
		}
		if kind != exitEndFinally {
			return fmt.Errorf("%s: %s handler ended with %s", f.method.FullName(), r.Kind, kind)
		}
	}
	return nil
}

// leave exits every protected block containing pc but not target, running their finally
// handlers innermost first.
func (e *Emulation) leave(f *frame, pc, target int) error {
	var finally []*il.ExceptionRegion
	for _, r := range f.body.Regions {
		if f.in(pc, r.HandlerStart, r.HandlerEnd) && !f.in(target, r.HandlerStart, r.HandlerEnd) {
			delete(f.caught, r)
		}
		if r.Kind == il.HandlerFinally && f.in(pc, r.TryStart, r.TryEnd) && !f.in(target, r.TryStart, r.TryEnd) {
			finally = append(finally, r)
		}
	}
	return e.unwind(f, finally)
}

func (e *Emulation) rethrow(f *frame, pc int) error {
	for _, r := range f.body.Regions {
		if exc, ok := f.caught[r]; ok && f.in(pc, r.HandlerStart, r.HandlerEnd) {
			return exc
		}
	}
	return fmt.Errorf("%s: rethrow outside a catch handler", f.method.FullName())
}

func slot(operand any) int {
	switch v := operand.(type) {
	case il.Local:
		return int(v)
	case il.Arg:
		return int(v)
	case int:
		return v
	case int32:
		return int(v)
	}
	return -1
}

func (f *frame) arg(n int) (*Value, error) {
	if n < 0 || n >= len(f.args) {
		return nil, fmt.Errorf("%s: argument %d out of range", f.method.FullName(), n)
	}
	return &f.args[n], nil
}

func (f *frame) local(n int) (*Value, error) {
	if n < 0 || n >= len(f.locals) {
		return nil, fmt.Errorf("%s: local %d out of range", f.method.FullName(), n)
	}
	return &f.locals[n], nil
}

func ref(p *Value) *Pointer {
	return &Pointer{Load: func() Value { return *p }, Store: func(v Value) { *p = v }}
}

func (e *Emulation) step(f *frame, pc int, in *il.Instruction) (int, *exit, error) {
	next := pc + 1
	op := in.OpCode
	if op.IsShortBranch() {
		op = op.Long()
	}
	switch op {
	case il.Nop:

	case il.Ldarg0, il.Ldarg1, il.Ldarg2, il.Ldarg3, il.LdargS, il.Ldarg:
		n := int(op - il.Ldarg0)
		if op == il.LdargS || op == il.Ldarg {
			n = slot(in.Operand)
		}
		p, err := f.arg(n)
		if err != nil {
			return 0, nil, err
		}
		f.push(*p)
	case il.LdargaS, il.Ldarga:
		p, err := f.arg(slot(in.Operand))
		if err != nil {
			return 0, nil, err
		}
		f.push(ref(p))
	case il.StargS, il.Starg:
		p, err := f.arg(slot(in.Operand))
		if err != nil {
			return 0, nil, err
		}
		if *p, err = f.pop(); err != nil {
			return 0, nil, err
		}

	case il.Ldloc0, il.Ldloc1, il.Ldloc2, il.Ldloc3, il.LdlocS, il.Ldloc:
		n := int(op - il.Ldloc0)
		if op == il.LdlocS || op == il.Ldloc {
			n = slot(in.Operand)
		}
		p, err := f.local(n)
		if err != nil {
			return 0, nil, err
		}
		f.push(*p)
	case il.LdlocaS, il.Ldloca:
		p, err := f.local(slot(in.Operand))
		if err != nil {
			return 0, nil, err
		}
		f.push(ref(p))
	case il.Stloc0, il.Stloc1, il.Stloc2, il.Stloc3, il.StlocS, il.Stloc:
		n := int(op - il.Stloc0)
		if op == il.StlocS || op == il.Stloc {
			n = slot(in.Operand)
		}
		p, err := f.local(n)
		if err != nil {
			return 0, nil, err
		}
		if *p, err = f.pop(); err != nil {
			return 0, nil, err
		}

	case il.Ldnull:
		f.push(nil)
	case il.LdcI4M1, il.LdcI40, il.LdcI41, il.LdcI42, il.LdcI43, il.LdcI44, il.LdcI45, il.LdcI46, il.LdcI47, il.LdcI48:
		f.push(int32(op) - int32(il.LdcI40))
	case il.LdcI4S, il.LdcI4, il.LdcI8, il.LdcR4, il.LdcR8:
		f.push(normalize(in.Operand))
	case il.Ldstr:
		f.push(in.Operand)

	case il.Dup:
		v, err := f.pop()
		if err != nil {
			return 0, nil, err
		}
		f.push(v)
		f.push(v)
	case il.Pop:
		if _, err := f.pop(); err != nil {
			return 0, nil, err
		}

	case il.Ret:
		var v Value
		if len(f.stack) > 0 {
			v, _ = f.pop()
		}
		return 0, &exit{kind: exitReturn, value: v}, nil
	case il.Endfinally:
		return 0, &exit{kind: exitEndFinally}, nil
	case il.Endfilter:
		v, err := f.pop()
		if err != nil {
			return 0, nil, err
		}
		return 0, &exit{kind: exitEndFilter, value: v}, nil

	case il.Br:
		return f.pos(il.InstrID(in.Operand.(il.Target))), nil, nil
	case il.Leave:
		target := f.pos(il.InstrID(in.Operand.(il.Target)))
		if err := e.leave(f, pc, target); err != nil {
			return 0, nil, err
		}
		f.stack = f.stack[:0]
		return target, nil, nil
	case il.Brfalse, il.Brtrue:
		v, err := f.pop()
		if err != nil {
			return 0, nil, err
		}
		if truthy(v) == (op == il.Brtrue) {
			return f.pos(il.InstrID(in.Operand.(il.Target))), nil, nil
		}
	case il.Beq, il.Bge, il.Bgt, il.Ble, il.Blt, il.BneUn, il.BgeUn, il.BgtUn, il.BleUn, il.BltUn:
		vals, err := f.popN(2)
		if err != nil {
			return 0, nil, err
		}
		taken, err := branchCompare(op, vals[0], vals[1])
		if err != nil {
			return 0, nil, err
		}
		if taken {
			return f.pos(il.InstrID(in.Operand.(il.Target))), nil, nil
		}
	case il.Switch:
		v, err := f.pop()
		if err != nil {
			return 0, nil, err
		}
		targets := in.Operand.(il.Targets)
		if i, ok := toInt(v); ok && i >= 0 && i < int64(len(targets)) {
			return f.pos(targets[i]), nil, nil
		}

	case il.Add, il.Sub, il.Mul, il.Div, il.Rem, il.And, il.Or, il.Xor, il.Shl, il.Shr:
		vals, err := f.popN(2)
		if err != nil {
			return 0, nil, err
		}
		v, err := arith(op, vals[0], vals[1])
		if err != nil {
			return 0, nil, err
		}
		f.push(v)
	case il.Neg, il.Not:
		v, err := f.pop()
		if err != nil {
			return 0, nil, err
		}
		r, err := unary(op, v)
		if err != nil {
			return 0, nil, err
		}
		f.push(r)
	case il.Ceq, il.Cgt, il.CgtUn, il.Clt, il.CltUn:
		vals, err := f.popN(2)
		if err != nil {
			return 0, nil, err
		}
		r, err := compare(op, vals[0], vals[1])
		if err != nil {
			return 0, nil, err
		}
		f.push(boolValue(r))
	case il.ConvI4, il.ConvI8:
		v, err := f.pop()
		if err != nil {
			return 0, nil, err
		}
		r, err := convert(op, v)
		if err != nil {
			return 0, nil, err
		}
		f.push(r)

	case il.Call, il.Callvirt:
		mr := in.Operand.(*il.MethodRef)
		n := len(mr.Params)
		if mr.HasThis {
			n++
		}
		args, err := f.popN(n)
		if err != nil {
			return 0, nil, err
		}
		if op == il.Callvirt && mr.HasThis && args[0] == nil {
			return 0, nil, nullReference()
		}
		v, err := e.call(f.mod, mr, args, op == il.Callvirt)
		if err != nil {
			return 0, nil, err
		}
		if !isVoid(mr.Return) {
			f.push(normalize(v))
		}
	case il.Newobj:
		mr := in.Operand.(*il.MethodRef)
		args, err := f.popN(len(mr.Params))
		if err != nil {
			return 0, nil, err
		}
		o, err := e.New(f.mod, mr, args)
		if err != nil {
			return 0, nil, err
		}
		f.push(o)
	case il.Throw:
		v, err := f.pop()
		if err != nil {
			return 0, nil, err
		}
		o, ok := v.(*Object)
		if !ok {
			return 0, nil, nullReference()
		}
		return 0, nil, &Exception{Object: o}
	case il.Rethrow:
		return 0, nil, e.rethrow(f, pc)

	case il.Castclass, il.Isinst:
		v, err := f.pop()
		if err != nil {
			return 0, nil, err
		}
		t := in.Operand.(*il.TypeRef)
		switch {
		case v == nil || e.IsInstance(v, t):
			f.push(v)
		case op == il.Isinst:
			f.push(nil)
		default:
			return 0, nil, NewException("System.InvalidCastException", fmt.Sprintf("Unable to cast object to type '%s'.", t.FullName()))
		}
	case il.Box:
		v, err := f.pop()
		if err != nil {
			return 0, nil, err
		}
		switch v.(type) {
		case int32, int64, float64:
			f.push(&Boxed{Type: in.Operand.(*il.TypeRef), Value: v})
		default:
			f.push(v)
		}
	case il.UnboxAny:
		v, err := f.pop()
		if err != nil {
			return 0, nil, err
		}
		t := in.Operand.(*il.TypeRef)
		switch x := v.(type) {
		case *Boxed:
			if typeKey(x.Type) != typeKey(t) {
				return 0, nil, NewException("System.InvalidCastException", fmt.Sprintf("Unable to cast object to type '%s'.", t.FullName()))
			}
			f.push(x.Value)
		case nil:
			if Zero(t) != nil {
				return 0, nil, nullReference()
			}
			f.push(nil)
		default:
			if !e.IsInstance(v, t) {
				return 0, nil, NewException("System.InvalidCastException", fmt.Sprintf("Unable to cast object to type '%s'.", t.FullName()))
			}
			f.push(v)
		}

	case il.Ldfld, il.Stfld:
		var v Value
		if op == il.Stfld {
			var err error
			if v, err = f.pop(); err != nil {
				return 0, nil, err
			}
		}
		target, err := f.pop()
		if err != nil {
			return 0, nil, err
		}
		fr := in.Operand.(*il.FieldRef)
		o, ok := target.(*Object)
		if !ok {
			if target == nil {
				return 0, nil, nullReference()
			}
			return 0, nil, fmt.Errorf("%s: %s on %T", f.method.FullName(), op, target)
		}
		if op == il.Stfld {
			o.Fields[fr.Name] = v
			break
		}
		fv, ok := o.Fields[fr.Name]
		if !ok {
			fv = Zero(fr.Type)
		}
		f.push(fv)
	case il.Ldsfld:
		fr := in.Operand.(*il.FieldRef)
		v, ok := e.statics[typeKey(fr.DeclaringType)+"::"+fr.Name]
		if !ok {
			v = Zero(fr.Type)
		}
		f.push(v)
	case il.Stsfld:
		v, err := f.pop()
		if err != nil {
			return 0, nil, err
		}
		fr := in.Operand.(*il.FieldRef)
		e.statics[typeKey(fr.DeclaringType)+"::"+fr.Name] = v

	case il.Newarr:
		v, err := f.pop()
		if err != nil {
			return 0, nil, err
		}
		n, ok := toInt(v)
		if !ok {
			return 0, nil, fmt.Errorf("%s: newarr length is %T", f.method.FullName(), v)
		}
		if n < 0 {
			return 0, nil, NewException("System.OverflowException", "Arithmetic operation resulted in an overflow.")
		}
		f.push(NewArray(in.Operand.(*il.TypeRef), int(n)))
	case il.Ldlen:
		v, err := f.pop()
		if err != nil {
			return 0, nil, err
		}
		a, err := asArray(v)
		if err != nil {
			return 0, nil, err
		}
		f.push(int32(len(a.Items)))
	case il.Ldelema, il.LdelemI4, il.LdelemRef:
		vals, err := f.popN(2)
		if err != nil {
			return 0, nil, err
		}
		a, i, err := element(vals[0], vals[1])
		if err != nil {
			return 0, nil, err
		}
		if op == il.Ldelema {
			f.push(ref(&a.Items[i]))
		} else {
			f.push(a.Items[i])
		}
	case il.StelemI4, il.StelemRef:
		vals, err := f.popN(3)
		if err != nil {
			return 0, nil, err
		}
		a, i, err := element(vals[0], vals[1])
		if err != nil {
			return 0, nil, err
		}
		a.Items[i] = vals[2]
	case il.LdindI4, il.LdindRef:
		v, err := f.pop()
		if err != nil {
			return 0, nil, err
		}
		p, err := asPointer(v)
		if err != nil {
			return 0, nil, err
		}
		f.push(p.Load())
	case il.StindI4, il.StindRef:
		vals, err := f.popN(2)
		if err != nil {
			return 0, nil, err
		}
		p, err := asPointer(vals[0])
		if err != nil {
			return 0, nil, err
		}
		p.Store(vals[1])

	default:
		return 0, nil, fmt.Errorf("%s: unsupported opcode %s", f.method.FullName(), in.OpCode)
	}
	return next, nil, nil
}

func isVoid(t *il.TypeRef) bool {
	return t == nil || t.FullName() == "System.Void"
}

func asArray(v Value) (*Array, error) {
	switch a := v.(type) {
	case *Array:
		return a, nil
	case nil:
		return nil, nullReference()
	}
	return nil, fmt.Errorf("expected array, got %T", v)
}

func asPointer(v Value) (*Pointer, error) {
	switch p := v.(type) {
	case *Pointer:
		return p, nil
	case nil:
		return nil, nullReference()
	}
	return nil, fmt.Errorf("expected managed pointer, got %T", v)
}

func element(av, iv Value) (*Array, int, error) {
	a, err := asArray(av)
	if err != nil {
		return nil, 0, err
	}
	i, ok := toInt(iv)
	if !ok {
		return nil, 0, fmt.Errorf("array index is %T", iv)
	}
	if i < 0 || i >= int64(len(a.Items)) {
		return nil, 0, NewException("System.IndexOutOfRangeException", "Index was outside the bounds of the array.")
	}
	return a, int(i), nil
}

func toInt(v Value) (int64, bool) {
	switch x := v.(type) {
	case int32:
		return int64(x), true
	case int64:
		return x, true
	}
	return 0, false
}

func overflow() error {
	return NewException("System.OverflowException", "Arithmetic operation resulted in an overflow.")
}

func divideByZero() error {
	return NewException("System.DivideByZeroException", "Attempted to divide by zero.")
}

func arith(op il.OpCode, a, b Value) (Value, error) {
	if x, ok := a.(int32); ok {
		if y, ok := b.(int32); ok {
			return arith32(op, x, y)
		}
	}
	if fa, ok := a.(float64); ok {
		fb, ok := b.(float64)
		if !ok {
			return nil, fmt.Errorf("%s on float64 and %T", op, b)
		}
		switch op {
		case il.Add:
			return fa + fb, nil
		case il.Sub:
			return fa - fb, nil
		case il.Mul:
			return fa * fb, nil
		case il.Div:
			return fa / fb, nil
		case il.Rem:
			return math.Mod(fa, fb), nil
		}
		return nil, fmt.Errorf("%s on float64", op)
	}
	x, ok1 := toInt(a)
	y, ok2 := toInt(b)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%s on %T and %T", op, a, b)
	}
	switch op {
	case il.Add:
		return x + y, nil
	case il.Sub:
		return x - y, nil
	case il.Mul:
		return x * y, nil
	case il.Div, il.Rem:
		if y == 0 {
			return nil, divideByZero()
		}
		if x == math.MinInt64 && y == -1 {
			return nil, overflow()
		}
		if op == il.Div {
			return x / y, nil
		}
		return x % y, nil
	case il.And:
		return x & y, nil
	case il.Or:
		return x | y, nil
	case il.Xor:
		return x ^ y, nil
	case il.Shl:
		return x << (uint64(y) & 63), nil
	case il.Shr:
		return x >> (uint64(y) & 63), nil
	}
	return nil, fmt.Errorf("unsupported arithmetic %s", op)
}

func arith32(op il.OpCode, x, y int32) (Value, error) {
	switch op {
	case il.Add:
		return x + y, nil
	case il.Sub:
		return x - y, nil
	case il.Mul:
		return x * y, nil
	case il.Div, il.Rem:
		if y == 0 {
			return nil, divideByZero()
		}
		if x == math.MinInt32 && y == -1 {
			return nil, overflow()
		}
		if op == il.Div {
			return x / y, nil
		}
		return x % y, nil
	case il.And:
		return x & y, nil
	case il.Or:
		return x | y, nil
	case il.Xor:
		return x ^ y, nil
	case il.Shl:
		return x << (uint32(y) & 31), nil
	case il.Shr:
		return x >> (uint32(y) & 31), nil
	}
	return nil, fmt.Errorf("unsupported arithmetic %s", op)
}

func unary(op il.OpCode, v Value) (Value, error) {
	switch x := v.(type) {
	case int32:
		if op == il.Neg {
			return -x, nil
		}
		return ^x, nil
	case int64:
		if op == il.Neg {
			return -x, nil
		}
		return ^x, nil
	case float64:
		if op == il.Neg {
			return -x, nil
		}
	}
	return nil, fmt.Errorf("%s on %T", op, v)
}

func convert(op il.OpCode, v Value) (Value, error) {
	var i int64
	switch x := v.(type) {
	case int32:
		i = int64(x)
	case int64:
		i = x
	case float64:
		i = int64(x)
	default:
		return nil, fmt.Errorf("%s on %T", op, v)
	}
	if op == il.ConvI4 {
		return int32(i), nil
	}
	return i, nil
}

// order compares two numeric values; unordered is set when either is NaN.
func order(a, b Value, unsigned bool) (cmp int, unordered bool, err error) {
	if fa, ok := a.(float64); ok {
		fb, ok := b.(float64)
		if !ok {
			return 0, false, fmt.Errorf("comparison of float64 and %T", b)
		}
		switch {
		case math.IsNaN(fa) || math.IsNaN(fb):
			return 0, true, nil
		case fa < fb:
			return -1, false, nil
		case fa > fb:
			return 1, false, nil
		}
		return 0, false, nil
	}
	x, ok1 := toInt(a)
	y, ok2 := toInt(b)
	if !ok1 || !ok2 {
		return 0, false, fmt.Errorf("comparison of %T and %T", a, b)
	}
	if unsigned {
		ux, uy := uint64(x), uint64(y)
		if _, ok := a.(int32); ok {
			ux = uint64(uint32(x))
		}
		if _, ok := b.(int32); ok {
			uy = uint64(uint32(y))
		}
		switch {
		case ux < uy:
			return -1, false, nil
		case ux > uy:
			return 1, false, nil
		}
		return 0, false, nil
	}
	switch {
	case x < y:
		return -1, false, nil
	case x > y:
		return 1, false, nil
	}
	return 0, false, nil
}

func numeric(v Value) bool {
	switch v.(type) {
	case int32, int64, float64:
		return true
	}
	return false
}

func equal(a, b Value) bool {
	if numeric(a) && numeric(b) {
		c, unordered, err := order(a, b, false)
		return err == nil && !unordered && c == 0
	}
	return a == b
}

func compare(op il.OpCode, a, b Value) (bool, error) {
	if op == il.Ceq {
		return equal(a, b), nil
	}
	if !numeric(a) || !numeric(b) {
		// object references only compare against null
		if op == il.CgtUn {
			return a != b, nil
		}
		return false, fmt.Errorf("%s on %T and %T", op, a, b)
	}
	unsigned := op == il.CgtUn || op == il.CltUn
	c, unordered, err := order(a, b, unsigned)
	if err != nil {
		return false, err
	}
	if unordered {
		return unsigned, nil
	}
	if op == il.Cgt || op == il.CgtUn {
		return c > 0, nil
	}
	return c < 0, nil
}

func branchCompare(op il.OpCode, a, b Value) (bool, error) {
	switch op {
	case il.Beq:
		return equal(a, b), nil
	case il.BneUn:
		return !equal(a, b), nil
	}
	unsigned := op == il.BgeUn || op == il.BgtUn || op == il.BleUn || op == il.BltUn
	c, unordered, err := order(a, b, unsigned)
	if err != nil {
		return false, err
	}
	if unordered {
		return unsigned, nil
	}
	switch op {
	case il.Bge, il.BgeUn:
		return c >= 0, nil
	case il.Bgt, il.BgtUn:
		return c > 0, nil
	case il.Ble, il.BleUn:
		return c <= 0, nil
	}
	return c < 0, nil
}
