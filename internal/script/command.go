// Package script implements the textual mutation language embedded in
// generated messages: parsing statements into typed commands and applying
// those commands to a variable tree.
package script

import (
	"statecraft.ai/internal/vars"
)

// Op identifies a command verb.
type Op int

const (
	OpSet Op = iota
	OpInit
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpAppend
	OpRemove
	OpClear
	OpToggle
)

func (o Op) String() string {
	switch o {
	case OpSet:
		return "SET"
	case OpInit:
		return "INIT"
	case OpAdd:
		return "ADD"
	case OpSub:
		return "SUB"
	case OpMul:
		return "MUL"
	case OpDiv:
		return "DIV"
	case OpAppend:
		return "APPEND"
	case OpRemove:
		return "REMOVE"
	case OpClear:
		return "CLEAR"
	case OpToggle:
		return "TOGGLE"
	}
	return "UNKNOWN"
}

// Command is one parsed mutation statement.
type Command struct {
	Op   Op
	Path string

	// Value carries the payload of SET/INIT/APPEND and the match target of
	// REMOVE. Nil for the other verbs.
	Value *vars.Value

	// Operand carries the numeric argument of ADD/SUB/MUL/DIV.
	Operand float64

	// Comment is the human note attached via //, if any.
	Comment string

	// Raw is the statement text the command was parsed from.
	Raw string
}

// Diagnostic records one statement the parser had to skip.
type Diagnostic struct {
	Fragment string
	Reason   string
}

// Batch is the ordered result of parsing one text block. Parsing never
// fails outright; bad statements land in Diagnostics.
type Batch struct {
	Commands    []Command
	Statements  int // statements seen in the input
	Parsed      int // statements successfully parsed
	Diagnostics []Diagnostic
}

func (b *Batch) diag(fragment, reason string) {
	b.Diagnostics = append(b.Diagnostics, Diagnostic{Fragment: fragment, Reason: reason})
}
