package script

import (
	"errors"
	"fmt"

	"statecraft.ai/internal/vars"
)

// Typed execution failures. Commands that fail leave the tree untouched and
// never stop the rest of the batch.
var (
	ErrTypeMismatch = errors.New("type mismatch")
	ErrPath         = errors.New("path error")
)

// Result captures the outcome of one executed command.
type Result struct {
	Cmd Command
	OK  bool
	Old *vars.Value
	New *vars.Value
	Err error
}

// Execute applies one command to the tree, mutating it only on success.
func Execute(tree *vars.Value, cmd Command) Result {
	res := Result{Cmd: cmd}
	if !tree.IsObject() {
		res.Err = fmt.Errorf("%w: root is not an object", ErrPath)
		return res
	}
	segs, err := vars.SplitPath(cmd.Path)
	if err != nil {
		res.Err = fmt.Errorf("%w: %q", ErrPath, cmd.Path)
		return res
	}

	cur, exists := vars.GetPath(tree, cmd.Path)
	if exists {
		res.Old = cur.Clone()
	}

	switch cmd.Op {
	case OpSet, OpInit:
		res.New = cmd.Value.Clone()

	case OpAdd, OpSub, OpMul, OpDiv:
		// Metadata nodes are bookkeeping, never arithmetic targets.
		if vars.IsMetaKey(segs[len(segs)-1]) {
			res.Err = fmt.Errorf("%w: arithmetic on metadata key %q", ErrPath, cmd.Path)
			return res
		}
		n, ok := cur.AsNumber()
		if !ok {
			res.Err = fmt.Errorf("%w: %s on %s at %q", ErrTypeMismatch, cmd.Op, cur.Kind(), cmd.Path)
			return res
		}
		switch cmd.Op {
		case OpAdd:
			n += cmd.Operand
		case OpSub:
			n -= cmd.Operand
		case OpMul:
			n *= cmd.Operand
		case OpDiv:
			if cmd.Operand == 0 {
				res.Err = fmt.Errorf("%w: division by zero at %q", ErrTypeMismatch, cmd.Path)
				return res
			}
			n /= cmd.Operand
		}
		res.New = vars.Number(n)

	case OpAppend:
		switch cur.Kind() {
		case vars.KindArray:
			next := cur.Clone()
			next.Append(cmd.Value.Clone())
			res.New = next
		case vars.KindText:
			add, ok := cmd.Value.AsText()
			if !ok {
				res.Err = fmt.Errorf("%w: APPEND %s to text at %q", ErrTypeMismatch, cmd.Value.Kind(), cmd.Path)
				return res
			}
			s, _ := cur.AsText()
			res.New = vars.Text(s + add)
		default:
			res.Err = fmt.Errorf("%w: APPEND on %s at %q", ErrTypeMismatch, cur.Kind(), cmd.Path)
			return res
		}

	case OpRemove:
		if cmd.Value == nil {
			res.New = clearedValue(cur)
			break
		}
		if cur.Kind() != vars.KindArray {
			res.Err = fmt.Errorf("%w: REMOVE target on %s at %q", ErrTypeMismatch, cur.Kind(), cmd.Path)
			return res
		}
		var kept []*vars.Value
		for _, it := range cur.Items() {
			if vars.Equal(it, cmd.Value) {
				continue
			}
			kept = append(kept, it.Clone())
		}
		next := vars.NewArray()
		next.SetItems(kept)
		res.New = next

	case OpClear:
		res.New = clearedValue(cur)

	case OpToggle:
		b, ok := cur.AsBool()
		if !ok {
			res.Err = fmt.Errorf("%w: TOGGLE on %s at %q", ErrTypeMismatch, cur.Kind(), cmd.Path)
			return res
		}
		res.New = vars.Bool(!b)

	default:
		res.Err = fmt.Errorf("%w: unknown op %d", ErrTypeMismatch, cmd.Op)
		return res
	}

	if err := vars.SetPath(tree, cmd.Path, res.New); err != nil {
		res.New = nil
		res.Err = fmt.Errorf("%w: intermediate segment of %q is not an object", ErrPath, cmd.Path)
		return res
	}
	res.OK = true
	return res
}

// clearedValue resets a value to the empty form of its current type.
func clearedValue(cur *vars.Value) *vars.Value {
	switch cur.Kind() {
	case vars.KindArray:
		return vars.NewArray()
	case vars.KindObject:
		return vars.NewObject()
	case vars.KindText:
		return vars.Text("")
	case vars.KindNumber:
		return vars.Number(0)
	default:
		return vars.Null()
	}
}

// ExecuteBatch runs every command of a batch in order, collecting results.
// Failures do not stop later commands.
func ExecuteBatch(tree *vars.Value, batch Batch) []Result {
	results := make([]Result, 0, len(batch.Commands))
	for _, cmd := range batch.Commands {
		results = append(results, Execute(tree, cmd))
	}
	return results
}
