package script

import (
	"encoding/json"
	"strconv"
	"strings"

	"statecraft.ai/internal/vars"
)

// Sentinel tags delimiting a command block inside a generated message.
const (
	BlockStart = "<update_variables>"
	BlockEnd   = "</update_variables>"
)

// ExtractBlocks returns the delimited command blocks of a message. A message
// with no start tag is treated as one undelimited block.
func ExtractBlocks(text string) []string {
	if !strings.Contains(text, BlockStart) {
		return []string{text}
	}
	var blocks []string
	rest := text
	for {
		i := strings.Index(rest, BlockStart)
		if i < 0 {
			break
		}
		rest = rest[i+len(BlockStart):]
		j := strings.Index(rest, BlockEnd)
		if j < 0 {
			// Unterminated block: take everything after the tag.
			blocks = append(blocks, rest)
			break
		}
		blocks = append(blocks, rest[:j])
		rest = rest[j+len(BlockEnd):]
	}
	return blocks
}

// ParseMessage extracts every command block of a message and parses them
// into one batch.
func ParseMessage(text string) Batch {
	var out Batch
	for _, block := range ExtractBlocks(text) {
		b := Parse(block)
		out.Commands = append(out.Commands, b.Commands...)
		out.Statements += b.Statements
		out.Parsed += b.Parsed
		out.Diagnostics = append(out.Diagnostics, b.Diagnostics...)
	}
	return out
}

// Parse scans a block into an ordered command batch. It never fails:
// statements it cannot understand are recorded as diagnostics and skipped.
func Parse(text string) Batch {
	var (
		batch   Batch
		st      scanState
		buf     strings.Builder
		comment string
	)

	flush := func() {
		stmt := strings.TrimSpace(buf.String())
		buf.Reset()
		st = scanState{}
		if stmt == "" {
			comment = ""
			return
		}
		batch.Statements++
		if cmd, reason := parseStatement(stmt, comment); reason == "" {
			batch.Commands = append(batch.Commands, *cmd)
			batch.Parsed++
		} else {
			batch.diag(stmt, reason)
		}
		comment = ""
	}

	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimRight(rawLine, "\r")
		trimmed := strings.TrimSpace(line)

		if buf.Len() == 0 {
			if trimmed == "" {
				continue
			}
			// A standalone comment line becomes the note for the next
			// statement.
			if strings.HasPrefix(trimmed, "//") {
				comment = strings.TrimSpace(trimmed[2:])
				continue
			}
		}

		clean, inline := st.consumeLine(line)
		if inline != "" && comment == "" {
			comment = inline
		}
		if strings.TrimSpace(clean) == "" {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(clean)

		if st.settled() {
			end := strings.TrimSpace(buf.String())
			if strings.HasSuffix(end, ")") || strings.HasSuffix(end, ");") {
				flush()
			}
		}
	}

	if strings.TrimSpace(buf.String()) != "" {
		batch.Statements++
		batch.diag(strings.TrimSpace(buf.String()), "unterminated statement")
	}
	return batch
}

// scanState tracks quoting and nesting across the lines of one statement so
// separators inside string or JSON literals are not misread.
type scanState struct {
	brace   int
	bracket int
	quote   rune
}

func (s *scanState) settled() bool {
	return s.quote == 0 && s.brace == 0 && s.bracket == 0
}

// consumeLine advances the state over one line, stripping a trailing //
// comment when it occurs outside any string or JSON context.
func (s *scanState) consumeLine(line string) (clean, inline string) {
	runes := []rune(line)
	escaped := false
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if s.quote != 0 {
			if escaped {
				escaped = false
				continue
			}
			switch r {
			case '\\':
				escaped = true
			case s.quote:
				s.quote = 0
			}
			continue
		}
		switch r {
		case '\'', '"':
			s.quote = r
		case '{':
			s.brace++
		case '}':
			if s.brace > 0 {
				s.brace--
			}
		case '[':
			s.bracket++
		case ']':
			if s.bracket > 0 {
				s.bracket--
			}
		case '/':
			if s.brace == 0 && s.bracket == 0 && i+1 < len(runes) && runes[i+1] == '/' {
				return string(runes[:i]), strings.TrimSpace(string(runes[i+2:]))
			}
		}
	}
	// An unterminated quote does not carry across lines; treat it as closed
	// so one bad literal cannot swallow the rest of the block.
	if s.quote != 0 {
		s.quote = 0
	}
	return line, ""
}

// Recognized forms. The namespace of the method syntax is not interpreted;
// `_.set(...)` and `vars.set(...)` are the same call.
var verbOps = map[string]Op{
	"SET":    OpSet,
	"INIT":   OpInit,
	"ADD":    OpAdd,
	"SUB":    OpSub,
	"MUL":    OpMul,
	"DIV":    OpDiv,
	"APPEND": OpAppend,
	"REMOVE": OpRemove,
	"CLEAR":  OpClear,
	"TOGGLE": OpToggle,
}

func parseStatement(stmt, comment string) (*Command, string) {
	s := strings.TrimSpace(stmt)
	s = strings.TrimSuffix(s, ";")
	if !strings.HasSuffix(s, ")") {
		return nil, "statement does not end in a call"
	}
	open := strings.Index(s, "(")
	if open < 0 {
		return nil, "no opening parenthesis"
	}
	head := strings.TrimSpace(s[:open])
	argSrc := s[open+1 : len(s)-1]
	args := splitArgs(argSrc)

	if head == "" {
		return nil, "missing verb"
	}

	var cmd *Command
	var reason string
	if dot := strings.LastIndex(head, "."); dot >= 0 {
		method := strings.ToLower(strings.TrimSpace(head[dot+1:]))
		cmd, reason = mapMethod(method, args)
	} else {
		op, ok := verbOps[strings.ToUpper(head)]
		if !ok {
			return nil, "unknown verb " + head
		}
		cmd, reason = mapVerb(op, args)
	}
	if reason != "" {
		return nil, reason
	}
	cmd.Comment = comment
	cmd.Raw = stmt
	return cmd, ""
}

func mapMethod(method string, args []string) (*Command, string) {
	switch method {
	case "set":
		if len(args) != 2 && len(args) != 3 {
			return nil, "set expects 2 or 3 arguments"
		}
		path, ok := pathArg(args[0])
		if !ok {
			return nil, "bad path argument"
		}
		// With three arguments the middle one is the expected old value;
		// only the last is applied.
		return &Command{Op: OpSet, Path: path, Value: parseLiteral(args[len(args)-1])}, ""
	case "assign":
		if len(args) != 3 {
			return nil, "assign expects 3 arguments"
		}
		path, ok := pathArg(args[0])
		if !ok {
			return nil, "bad path argument"
		}
		key, ok := pathArg(args[1])
		if !ok {
			return nil, "bad key argument"
		}
		return &Command{Op: OpSet, Path: vars.JoinPath(path, key), Value: parseLiteral(args[2])}, ""
	case "add":
		if len(args) != 1 && len(args) != 2 {
			return nil, "add expects 1 or 2 arguments"
		}
		path, ok := pathArg(args[0])
		if !ok {
			return nil, "bad path argument"
		}
		delta := 1.0
		if len(args) == 2 {
			d, ok := numberArg(args[1])
			if !ok {
				return nil, "add operand is not a number"
			}
			delta = d
		}
		return &Command{Op: OpAdd, Path: path, Operand: delta}, ""
	case "remove":
		if len(args) != 1 && len(args) != 2 {
			return nil, "remove expects 1 or 2 arguments"
		}
		path, ok := pathArg(args[0])
		if !ok {
			return nil, "bad path argument"
		}
		if len(args) == 1 {
			return &Command{Op: OpClear, Path: path}, ""
		}
		return &Command{Op: OpRemove, Path: path, Value: parseLiteral(args[1])}, ""
	}
	return nil, "unknown method " + method
}

func mapVerb(op Op, args []string) (*Command, string) {
	if len(args) == 0 {
		return nil, "missing path argument"
	}
	path, ok := pathArg(args[0])
	if !ok {
		return nil, "bad path argument"
	}
	switch op {
	case OpSet:
		if len(args) != 2 && len(args) != 3 {
			return nil, "SET expects 2 or 3 arguments"
		}
		return &Command{Op: op, Path: path, Value: parseLiteral(args[len(args)-1])}, ""
	case OpInit, OpAppend:
		if len(args) != 2 {
			return nil, op.String() + " expects 2 arguments"
		}
		return &Command{Op: op, Path: path, Value: parseLiteral(args[1])}, ""
	case OpAdd, OpSub, OpMul, OpDiv:
		if len(args) != 2 {
			return nil, op.String() + " expects 2 arguments"
		}
		n, ok := numberArg(args[1])
		if !ok {
			return nil, op.String() + " operand is not a number"
		}
		return &Command{Op: op, Path: path, Operand: n}, ""
	case OpRemove:
		if len(args) == 1 {
			return &Command{Op: op, Path: path}, ""
		}
		if len(args) == 2 {
			return &Command{Op: op, Path: path, Value: parseLiteral(args[1])}, ""
		}
		return nil, "REMOVE expects 1 or 2 arguments"
	case OpClear, OpToggle:
		if len(args) != 1 {
			return nil, op.String() + " expects 1 argument"
		}
		return &Command{Op: op, Path: path}, ""
	}
	return nil, "unknown verb"
}

// splitArgs splits on top-level commas, ignoring separators inside quotes or
// nested braces/brackets/parens.
func splitArgs(src string) []string {
	if strings.TrimSpace(src) == "" {
		return nil
	}
	var (
		args    []string
		depth   int
		quote   rune
		escaped bool
		start   int
	)
	runes := []rune(src)
	for i, r := range runes {
		if quote != 0 {
			if escaped {
				escaped = false
				continue
			}
			switch r {
			case '\\':
				escaped = true
			case quote:
				quote = 0
			}
			continue
		}
		switch r {
		case '\'', '"':
			quote = r
		case '{', '[', '(':
			depth++
		case '}', ']', ')':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(string(runes[start:i])))
				start = i + 1
			}
		}
	}
	args = append(args, strings.TrimSpace(string(runes[start:])))
	return args
}

// parseLiteral turns one raw argument into a Value: null and booleans,
// numbers, quoted text, JSON objects/arrays (with a single-quote
// normalization retry), and finally bare text.
func parseLiteral(raw string) *vars.Value {
	t := strings.TrimSpace(raw)
	switch t {
	case "", "null", "undefined":
		return vars.Null()
	case "true":
		return vars.Bool(true)
	case "false":
		return vars.Bool(false)
	}
	if n, err := strconv.ParseFloat(t, 64); err == nil {
		return vars.Number(n)
	}
	if len(t) >= 2 {
		if t[0] == '"' && t[len(t)-1] == '"' {
			var s string
			if err := json.Unmarshal([]byte(t), &s); err == nil {
				return vars.Text(s)
			}
			return vars.Text(t[1 : len(t)-1])
		}
		if t[0] == '\'' && t[len(t)-1] == '\'' {
			return vars.Text(unescapeSingle(t[1 : len(t)-1]))
		}
	}
	if len(t) > 0 && (t[0] == '{' || t[0] == '[') {
		if v, err := vars.FromJSON([]byte(t)); err == nil {
			return v
		}
		// Generated text often uses single quotes inside JSON literals; one
		// normalization retry before giving up.
		if v, err := vars.FromJSON([]byte(strings.ReplaceAll(t, "'", `"`))); err == nil {
			return v
		}
	}
	return vars.Text(t)
}

func unescapeSingle(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var out strings.Builder
	escaped := false
	for _, r := range s {
		if escaped {
			switch r {
			case 'n':
				out.WriteByte('\n')
			case 't':
				out.WriteByte('\t')
			default:
				out.WriteRune(r)
			}
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		out.WriteRune(r)
	}
	return out.String()
}

func pathArg(raw string) (string, bool) {
	v := parseLiteral(raw)
	s, ok := v.AsText()
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

func numberArg(raw string) (float64, bool) {
	v := parseLiteral(raw)
	if n, ok := v.AsNumber(); ok {
		return n, true
	}
	// Tolerate a quoted number.
	if s, ok := v.AsText(); ok {
		if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return n, true
		}
	}
	return 0, false
}
