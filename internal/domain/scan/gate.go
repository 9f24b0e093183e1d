package scan

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"stockscan/internal/core/apperror"
	"stockscan/pkg/logger"
)

// Gate evaluates an operator-configured CEL expression against every resolved
// scan before it mutates the operation. A false result rejects the scan with a
// warning; an evaluation error rejects it too, on the side of caution.
//
// The expression sees the resolved scan as flat variables:
//
//	barcode         string
//	model           string  ("product", "location", "package", "lot", "action" or "")
//	product_name    string
//	tracking        string  ("none", "lot", "serial")
//	quantity        double
//	has_lot         bool
//	has_package     bool
//	from_urn        bool
type Gate struct {
	expr    string
	program cel.Program
}

// NewGate compiles the expression once. An empty expression yields a nil gate,
// which admits everything.
func NewGate(expr string) (*Gate, error) {
	if expr == "" {
		return nil, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("barcode", cel.StringType),
		cel.Variable("model", cel.StringType),
		cel.Variable("product_name", cel.StringType),
		cel.Variable("tracking", cel.StringType),
		cel.Variable("quantity", cel.DoubleType),
		cel.Variable("has_lot", cel.BoolType),
		cel.Variable("has_package", cel.BoolType),
		cel.Variable("from_urn", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("gate env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("gate expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("gate expression must evaluate to bool, got %s", ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("gate program: %w", err)
	}
	return &Gate{expr: expr, program: program}, nil
}

// Admit checks a resolved scan against the gate.
func (g *Gate) Admit(ctx context.Context, bd *BarcodeData) error {
	if g == nil {
		return nil
	}
	out, _, err := g.program.Eval(g.activation(bd))
	if err != nil {
		logger.Warn(ctx, "gate evaluation failed", "expression", g.expr, "error", err)
		return apperror.NewGateRejected(bd.Barcode, "The scan rule could not be evaluated for this barcode")
	}
	allowed, ok := out.Value().(bool)
	if !ok || !allowed {
		return apperror.NewGateRejected(bd.Barcode,
			fmt.Sprintf("Barcode %q was rejected by the scan rule", bd.Barcode))
	}
	return nil
}

func (g *Gate) activation(bd *BarcodeData) map[string]any {
	act := map[string]any{
		"barcode":      bd.Barcode,
		"model":        "",
		"product_name": "",
		"tracking":     "",
		"quantity":     0.0,
		"has_lot":      bd.Lot != nil || bd.LotName != "",
		"has_package":  bd.Package != nil || bd.PackageName != "",
		"from_urn":     bd.FromURN,
	}
	switch {
	case bd.Action != nil:
		act["model"] = "action"
	case bd.Product != nil || bd.Packaging != nil:
		act["model"] = "product"
	case bd.Location != nil || bd.LocationDest != nil:
		act["model"] = "location"
	case bd.Package != nil || bd.PackageName != "":
		act["model"] = "package"
	case bd.Lot != nil || bd.LotName != "":
		act["model"] = "lot"
	}
	if bd.Product != nil {
		act["product_name"] = bd.Product.Name
		act["tracking"] = string(bd.Product.Tracking)
	}
	if bd.QuantitySet {
		act["quantity"], _ = bd.Quantity.Decimal().Float64()
	}
	return act
}
