package ir

import (
	"fmt"
	"strings"
)

// The printer renders the tree in a C-like form for tracing. The output is
// purely diagnostic; nothing parses it back.

func (t Type) String() string {
	if t.IsPtr() {
		return "ptr"
	}
	if t.Lanes == 1 {
		return strings.ToLower(t.DType.String())
	}
	return fmt.Sprintf("%sx%d", strings.ToLower(t.DType.String()), t.Lanes)
}

func (v *Var) String() string { return v.Name }

func (e *Extern) String() string { return "$" + e.Name }

func (e *IntImm) String() string { return fmt.Sprintf("%d", e.Value) }

func (e *FloatImm) String() string { return fmt.Sprintf("%g", e.Value) }

func (e *Binary) String() string {
	if e.Op == OpMin || e.Op == OpMax {
		return fmt.Sprintf("%s(%s, %s)", e.Op, e.X, e.Y)
	}
	return fmt.Sprintf("(%s %s %s)", e.X, e.Op, e.Y)
}

func (e *Cast) String() string { return fmt.Sprintf("%s(%s)", e.To, e.X) }

func (e *Broadcast) String() string { return fmt.Sprintf("bcast%d(%s)", e.Lanes, e.X) }

func (e *LaneIndex) String() string { return fmt.Sprintf("lane%d", e.Lanes) }

func (e *Select) String() string {
	return fmt.Sprintf("sel(%s, %s, %s)", e.Cond, e.X, e.Y)
}

func (e *Load) String() string {
	if e.Mask != nil {
		return fmt.Sprintf("load.%s(%s + %s, %s)", e.T, e.Buf, e.Off, e.Mask)
	}
	return fmt.Sprintf("load.%s(%s + %s)", e.T, e.Buf, e.Off)
}

type printer struct {
	sb     strings.Builder
	indent int
}

func (p *printer) line(format string, args ...any) {
	p.sb.WriteString(strings.Repeat("  ", p.indent))
	fmt.Fprintf(&p.sb, format, args...)
	p.sb.WriteByte('\n')
}

func (p *printer) stmt(s Stmt) {
	switch s := s.(type) {
	case nil:
	case *Seq:
		for _, sub := range s.Stmts {
			p.stmt(sub)
		}
	case *Store:
		if s.Mask != nil {
			p.line("store.%s %s + %s = %s if %s", s.Value.Type(), s.Buf, s.Off, s.Value, s.Mask)
		} else {
			p.line("store.%s %s + %s = %s", s.Value.Type(), s.Buf, s.Off, s.Value)
		}
	case *Let:
		p.line("let %s: %s = %s {", s.V, s.V.T, s.Value)
		p.block(s.Body)
	case *If:
		p.line("if %s {", s.Cond)
		p.block(s.Then)
		if s.Else != nil {
			p.line("} else {")
			p.block(s.Else)
		}
	case *For:
		p.line("for %s in 0..%d {", s.V, s.Bound)
		p.block(s.Body)
	case *Alloc:
		kind := "grf"
		if s.Kind == AllocGlobal {
			kind = "global"
		}
		p.line("alloc %s: %s[%d] {", s.Buf, kind, s.Size)
		p.block(s.Body)
	case *Group:
		p.line("group %q {", s.Label)
		p.block(s.Body)
	case *Send:
		op := "send.load"
		if s.Op == SendStore {
			op = "send.store"
		}
		mask := ""
		if s.Mask != nil {
			mask = fmt.Sprintf(" if %s", s.Mask)
		}
		p.line("%s.%s %s + %s <-> %s + %s%s", op, s.T, s.Addr, s.AddrOff, s.Reg, s.RegOff, mask)
	default:
		p.line("<unknown stmt %T>", s)
	}
}

func (p *printer) block(body Stmt) {
	p.indent++
	p.stmt(body)
	p.indent--
	p.line("}")
}

func printStmt(s Stmt) string {
	var p printer
	p.stmt(s)
	return p.sb.String()
}

func (s *Seq) String() string   { return printStmt(s) }
func (s *Store) String() string { return printStmt(s) }
func (s *Let) String() string   { return printStmt(s) }
func (s *If) String() string    { return printStmt(s) }
func (s *For) String() string   { return printStmt(s) }
func (s *Alloc) String() string { return printStmt(s) }
func (s *Group) String() string { return printStmt(s) }
func (s *Send) String() string  { return printStmt(s) }
