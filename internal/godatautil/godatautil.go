package godatautil

import (
	"fmt"
	"strconv"
	"strings"

	sb "fknsrs.biz/p/sqlbuilder"
	"github.com/gost/godata"

	"fknsrs.biz/p/feedsync/internal/sqlbuilderutil"
)

var (
	ErrFieldNotFound = fmt.Errorf("field not found")
)

func MakeCondition(q *godata.GoDataQuery, table *sqlbuilderutil.Table) (sb.AsExpr, error) {
	if q == nil || q.Filter == nil {
		return nil, nil
	}

	expr, err := makeCondition(q.Filter.Tree, table)
	if err != nil {
		return nil, fmt.Errorf("godatautil.MakeCondition: %w", err)
	}

	return expr, nil
}

var comparisonOperators = map[string]string{
	"eq": "=",
	"ne": "!=",
	"gt": ">",
	"ge": ">=",
	"lt": "<",
	"le": "<=",
}

func makeCondition(n *godata.ParseNode, table *sqlbuilderutil.Table) (sb.AsExpr, error) {
	switch n.Token.Type {
	case godata.FilterTokenLogical:
		if op, ok := comparisonOperators[strings.ToLower(n.Token.Value)]; ok {
			return makeComparison(op, n, table)
		}

		var a []sb.AsExpr
		for _, e := range n.Children {
			expr, err := makeCondition(e, table)
			if err != nil {
				return nil, fmt.Errorf("godatautil.makeCondition: %w", err)
			}
			a = append(a, expr)
		}
		switch v := strings.ToLower(n.Token.Value); v {
		case "and", "or":
			return sb.BooleanOperator(v, a...), nil
		default:
			return nil, fmt.Errorf("godatautil.makeCondition: unrecognised logical filter type %q", n.Token.Value)
		}
	case godata.FilterTokenFunc:
		switch n.Token.Value {
		case "substringof", "contains":
			if len(n.Children) != 2 {
				return nil, fmt.Errorf("godatautil.makeCondition: %s must have exactly two arguments; instead had %d", n.Token.Value, len(n.Children))
			}

			field, needle := n.Children[0], n.Children[1]
			if n.Token.Value == "substringof" {
				needle, field = field, needle
			}

			if tokenType := field.Token.Type; tokenType != godata.FilterTokenLiteral {
				return nil, fmt.Errorf("godatautil.makeCondition: %s field argument must be Literal; was instead %s", n.Token.Value, filterTokenName(tokenType))
			}
			if tokenType := needle.Token.Type; tokenType != godata.FilterTokenString {
				return nil, fmt.Errorf("godatautil.makeCondition: %s search argument must be String; was instead %s", n.Token.Value, filterTokenName(tokenType))
			}

			c := table.C(field.Token.Value)
			if c == nil {
				return nil, fmt.Errorf("godatautil.makeCondition: unrecognised field %s: %w", field.Token.Value, ErrFieldNotFound)
			}

			return sb.Ne(
				sb.Func(
					"instr",
					c,
					sb.Bind(unquote(needle.Token.Value)),
				),
				sb.Literal("0"),
			), nil
		default:
			return nil, fmt.Errorf("godatautil.makeCondition: unrecognised function %s", n.Token.Value)
		}
	default:
		return nil, fmt.Errorf("godatautil.makeCondition: unrecognised token type %d (%s)", n.Token.Type, filterTokenName(n.Token.Type))
	}
}

func makeComparison(op string, n *godata.ParseNode, table *sqlbuilderutil.Table) (sb.AsExpr, error) {
	if len(n.Children) != 2 {
		return nil, fmt.Errorf("godatautil.makeComparison: %s must have exactly two operands; instead had %d", n.Token.Value, len(n.Children))
	}

	field, value := n.Children[0], n.Children[1]
	if field.Token.Type != godata.FilterTokenLiteral {
		return nil, fmt.Errorf("godatautil.makeComparison: left operand must be Literal; was instead %s", filterTokenName(field.Token.Type))
	}

	c := table.C(field.Token.Value)
	if c == nil {
		return nil, fmt.Errorf("godatautil.makeComparison: unrecognised field %s: %w", field.Token.Value, ErrFieldNotFound)
	}

	switch value.Token.Type {
	case godata.FilterTokenString:
		return sb.BinaryOperator(op, c, sb.Bind(unquote(value.Token.Value))), nil
	case godata.FilterTokenInteger:
		v, err := strconv.ParseInt(value.Token.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("godatautil.makeComparison: %w", err)
		}
		return sb.BinaryOperator(op, c, sb.Bind(v)), nil
	case godata.FilterTokenBoolean:
		return sb.BinaryOperator(op, c, sb.Bind(strings.EqualFold(value.Token.Value, "true"))), nil
	case godata.FilterTokenNull:
		switch op {
		case "=":
			return sb.BinaryOperator("is", c, sb.Literal("null")), nil
		case "!=":
			return sb.BinaryOperator("is not", c, sb.Literal("null")), nil
		}
		return nil, fmt.Errorf("godatautil.makeComparison: null can only be compared with eq or ne")
	default:
		return nil, fmt.Errorf("godatautil.makeComparison: unsupported right operand %s", filterTokenName(value.Token.Type))
	}
}

func filterTokenName(tokenType int) string {
	switch tokenType {
	case godata.FilterTokenOpenParen: // 0
		return "OpenParen"
	case godata.FilterTokenCloseParen: // 1
		return "CloseParen"
	case godata.FilterTokenWhitespace: // 2
		return "Whitespace"
	case godata.FilterTokenNav: // 3
		return "Nav"
	case godata.FilterTokenColon: // 4
		return "Colon"
	case godata.FilterTokenComma: // 5
		return "Comma"
	case godata.FilterTokenLogical: // 6
		return "Logical"
	case godata.FilterTokenOp: // 7
		return "Op"
	case godata.FilterTokenFunc: // 8
		return "Func"
	case godata.FilterTokenLambda: // 9
		return "Lambda"
	case godata.FilterTokenNull: // 10
		return "Null"
	case godata.FilterTokenIt: // 11
		return "It"
	case godata.FilterTokenRoot: // 12
		return "Root"
	case godata.FilterTokenFloat: // 13
		return "Float"
	case godata.FilterTokenInteger: // 14
		return "Integer"
	case godata.FilterTokenString: // 15
		return "String"
	case godata.FilterTokenDate: // 16
		return "Date"
	case godata.FilterTokenTime: // 17
		return "Time"
	case godata.FilterTokenDateTime: // 18
		return "DateTime"
	case godata.FilterTokenBoolean: // 19
		return "Boolean"
	case godata.FilterTokenLiteral: // 20
		return "Literal"
	case godata.FilterTokenGeography: // 21
		return "Geography"
	default:
		return "???" // ??
	}
}

func MakeOrders(q *godata.GoDataQuery, table *sqlbuilderutil.Table, defaultOrders ...sb.AsOrderingTerm) ([]sb.AsOrderingTerm, error) {
	if q == nil || q.OrderBy == nil {
		return defaultOrders, nil
	}

	var a []sb.AsOrderingTerm

	for _, item := range q.OrderBy.OrderByItems {
		c := table.C(item.Field.Value)
		if c == nil {
			return nil, fmt.Errorf("godatautil.MakeOrders: could not find field %q: %w", item.Field.Value, ErrFieldNotFound)
		}

		switch item.Order {
		case "asc":
			a = append(a, sb.OrderAsc(c))
		case "desc":
			a = append(a, sb.OrderDesc(c))
		}
	}

	return a, nil
}

// MakeOffsetLimit applies $skip and $top, falling back to the defaults and
// capping $top at maxTop.
func MakeOffsetLimit(q *godata.GoDataQuery, defaultSkip, defaultTop, maxTop int) *sb.OffsetLimitClause {
	skip := defaultSkip
	if q != nil && q.Skip != nil && int(*q.Skip) >= 0 {
		skip = int(*q.Skip)
	}

	top := defaultTop
	if q != nil && q.Top != nil && int(*q.Top) > 0 {
		top = int(*q.Top)
	}
	if maxTop > 0 && top > maxTop {
		top = maxTop
	}

	return sb.OffsetLimit(sb.Bind(skip), sb.Bind(top))
}

func unquote(s string) string {
	return strings.Replace(s[1:len(s)-1], "''", "'", -1)
}
