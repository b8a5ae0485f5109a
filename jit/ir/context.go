package ir

import "fmt"

// Context carries the per-attempt build state shared between the assembler
// and the lowering passes: the device capability descriptor, a factory for
// uniquely-named temporaries and the set of global (kernel-argument)
// buffers. A Context lives for exactly one build attempt.
type Context struct {
	exec    ExecConfig
	counter map[string]int
	globals map[*Var]bool
	externs []LetPair
}

// NewContext creates a build context for one attempt.
func NewContext(exec ExecConfig) *Context {
	exec.Validate()
	return &Context{
		exec:    exec,
		counter: make(map[string]int),
		globals: make(map[*Var]bool),
	}
}

// Exec returns the device capability descriptor.
func (c *Context) Exec() ExecConfig { return c.exec }

// NewTmpVar returns a fresh variable named prefix_N.
func (c *Context) NewTmpVar(t Type, prefix string) *Var {
	n := c.counter[prefix]
	c.counter[prefix]++
	return NewVar(fmt.Sprintf("%s_%d", prefix, n), t)
}

// MarkGlobal records v as a kernel-argument buffer; accesses to it are
// materialized as sends by the lowering pipeline.
func (c *Context) MarkGlobal(v *Var) { c.globals[v] = true }

// IsGlobal reports whether v is a kernel-argument buffer.
func (c *Context) IsGlobal(v *Var) bool { return c.globals[v] }

// RegisterExternLet records a binding of a variable to an
// environment-provided value (hardware index registers and the like), to be
// injected around the finished body.
func (c *Context) RegisterExternLet(v *Var, value Expr) {
	c.externs = append(c.externs, LetPair{V: v, Value: value})
}

// InjectExternLets wraps stmt in the recorded environment bindings.
func (c *Context) InjectExternLets(stmt Stmt) Stmt {
	return InjectLets(stmt, c.externs)
}
