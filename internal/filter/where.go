package filter

import (
	"errors"

	"github.com/google/cel-go/cel"

	"github.com/user/wahub/internal/types"
)

var errNotBool = errors.New("expression must evaluate to a bool")

// celProgram is a compiled boolean CEL expression over one record.
type celProgram struct {
	prog cel.Program
}

func compileWhere(expr string) (*celProgram, error) {
	env, err := cel.NewEnv(
		cel.Variable("ts", cel.IntType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("peer", cel.StringType),
		cel.Variable("text", cel.StringType),
		cel.Variable("status", cel.StringType),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errNotBool
	}
	prog, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	return &celProgram{prog: prog}, nil
}

// eval reports false for evaluation errors.
func (p *celProgram) eval(ev *types.Event) bool {
	out, _, err := p.prog.Eval(map[string]any{
		"ts":     ev.TS,
		"kind":   string(ev.Kind),
		"peer":   ev.Peer,
		"text":   ev.Text,
		"status": ev.Status,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
