package sqlbuilderutil

import (
	"fmt"
	"strings"

	"fknsrs.biz/p/reflectutil"
	"fknsrs.biz/p/sqlbuilder"

	"fknsrs.biz/p/feedsync/internal/stringutil"
)

// Table is a sqlbuilder table derived from a model struct. Columns can be
// looked up by any name a client or a query might use for them: the Go field
// name, the column name, or the field's json name.
type Table struct {
	*sqlbuilder.Table
	columns []string
	names   map[string]string
}

func (t *Table) Column(name string) (string, bool) {
	if c, ok := t.names[name]; ok {
		return c, true
	}

	c, ok := t.names[strings.ToLower(name)]

	return c, ok
}

// C returns nil for names the table doesn't have.
func (t *Table) C(name string) *sqlbuilder.BasicColumn {
	columnName, ok := t.Column(name)
	if !ok {
		return nil
	}

	return t.Table.C(columnName)
}

func (t *Table) Has(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// Columns lists column names in field order.
func (t *Table) Columns() []string {
	return append([]string(nil), t.columns...)
}

func MakeTable(v interface{}) (*Table, error) {
	s, err := reflectutil.GetDescription(v)
	if err != nil {
		return nil, fmt.Errorf("sqlbuilderutil.MakeTable: could not get struct description: %w", err)
	}

	t := Table{names: make(map[string]string)}

	var tableName string

	for _, f := range s.Fields().WithoutTagValue("sql", "-") {
		columnName := stringutil.PascalToSnake(f.Name())

		sqlTag := f.Tag("sql")
		if sqlTag != nil {
			if sqlTag.Value() != "" {
				columnName = sqlTag.Value()
			}
			if p := sqlTag.Parameter("table"); p != nil {
				tableName = p.Value()
			}
		}

		if _, ok := t.names[columnName]; ok {
			return nil, fmt.Errorf("sqlbuilderutil.MakeTable: column %q defined more than once", columnName)
		}

		t.columns = append(t.columns, columnName)

		aliases := []string{f.Name(), columnName}
		if jsonTag := f.Tag("json"); jsonTag != nil && jsonTag.Value() != "" && jsonTag.Value() != "-" {
			aliases = append(aliases, jsonTag.Value())
		}

		for _, alias := range aliases {
			t.names[alias] = columnName
			t.names[strings.ToLower(alias)] = columnName
		}
	}

	if tableName == "" {
		tableName = stringutil.PascalToSnake(s.Name())
	}

	t.Table = sqlbuilder.NewTable(tableName, t.columns...)

	return &t, nil
}

func MustMakeTable(v interface{}) *Table {
	t, err := MakeTable(v)
	if err != nil {
		panic(err)
	}
	return t
}
