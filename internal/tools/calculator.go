// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package tools

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"strconv"
	"strings"
)

// Calculator evaluates arithmetic expressions by walking the parsed AST.
// Only numeric literals and basic operators are accepted; nothing is ever
// executed.
type Calculator struct{}

// NewCalculator creates the calculator tool.
func NewCalculator() *Calculator { return &Calculator{} }

func (c *Calculator) Name() string { return "calculator" }

func (c *Calculator) Description() string {
	return "Evaluate a mathematical expression and return the result. " +
		"Use this tool when you need to perform calculations. Supports standard " +
		"arithmetic operations: +, -, *, /, %, and parentheses."
}

func (c *Calculator) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": `A mathematical expression to evaluate, e.g. "2 + 3 * 4"`,
			},
		},
		"required": []any{"expression"},
	}
}

func (c *Calculator) Execute(_ context.Context, args map[string]any) (string, error) {
	expression := strings.TrimSpace(stringArg(args, "expression"))
	if expression == "" {
		return "Error evaluating expression: expression is empty", nil
	}

	expr, err := parser.ParseExpr(expression)
	if err != nil {
		return fmt.Sprintf("Error evaluating expression: %v", err), nil
	}

	result, err := evalExpr(expr)
	if err != nil {
		return fmt.Sprintf("Error evaluating expression: %v", err), nil
	}

	return strconv.FormatFloat(result, 'f', -1, 64), nil
}

func evalExpr(node ast.Expr) (float64, error) {
	switch n := node.(type) {
	case *ast.ParenExpr:
		return evalExpr(n.X)

	case *ast.BasicLit:
		if n.Kind != token.INT && n.Kind != token.FLOAT {
			return 0, fmt.Errorf("unsupported literal %q, only numbers are allowed", n.Value)
		}
		return strconv.ParseFloat(n.Value, 64)

	case *ast.UnaryExpr:
		operand, err := evalExpr(n.X)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.SUB:
			return -operand, nil
		case token.ADD:
			return operand, nil
		default:
			return 0, fmt.Errorf("unsupported unary operator %q", n.Op)
		}

	case *ast.BinaryExpr:
		left, err := evalExpr(n.X)
		if err != nil {
			return 0, err
		}
		right, err := evalExpr(n.Y)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.ADD:
			return left + right, nil
		case token.SUB:
			return left - right, nil
		case token.MUL:
			return left * right, nil
		case token.QUO:
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return left / right, nil
		case token.REM:
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return math.Mod(left, right), nil
		default:
			return 0, fmt.Errorf("unsupported operator %q, only +, -, *, /, %% are allowed", n.Op)
		}

	default:
		return 0, fmt.Errorf("unsupported expression element, only numbers and arithmetic operators are allowed")
	}
}
