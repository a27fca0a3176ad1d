package precompute

import (
	"fmt"
	"strings"

	"zonalcore/internal/faults"
	"zonalcore/internal/geo"
	"zonalcore/internal/query"
	"zonalcore/internal/raster"
)

// Build renders the SQL for one admin unit and query against a precompute
// table: hierarchy columns for the unit's depth plus the declared group-bys,
// filtered by exact equality on present hierarchy levels and any explicit
// filters, grouped and ordered by the same column list. The builder is pure;
// session/credential handling belongs to the executor.
func Build(t Table, adm geo.AdminUnit, q query.DatasetQuery, reg *raster.Registry) (string, []any, error) {
	selectCols := []string{"country"}
	if adm.Region != nil {
		selectCols = append(selectCols, "region")
	}
	if adm.Subregion != nil {
		selectCols = append(selectCols, "subregion")
	}
	for _, d := range q.GroupBys {
		desc, err := reg.MustLookup(d)
		if err != nil {
			return "", nil, err
		}
		selectCols = append(selectCols, desc.Field)
	}

	aggExprs := make([]string, 0, len(q.Aggregates))
	for _, d := range q.Aggregates {
		desc, err := reg.MustLookup(d)
		if err != nil {
			return "", nil, err
		}
		if d == raster.PixelCount {
			aggExprs = append(aggExprs, fmt.Sprintf("COUNT(*) AS %s", desc.Field))
			continue
		}
		aggExprs = append(aggExprs, fmt.Sprintf("SUM(%s) AS %s", desc.Field, desc.Field))
	}

	where := []string{"country = ?"}
	args := []any{adm.Country}
	if adm.Region != nil {
		where = append(where, "region = ?")
		args = append(args, *adm.Region)
	}
	if adm.Subregion != nil {
		where = append(where, "subregion = ?")
		args = append(args, *adm.Subregion)
	}
	for _, f := range q.Filters {
		desc, err := reg.MustLookup(f.Dataset)
		if err != nil {
			return "", nil, err
		}
		clause, clauseArgs, err := filterClause(desc.Field, f)
		if err != nil {
			return "", nil, err
		}
		where = append(where, clause)
		args = append(args, clauseArgs...)
	}

	groupCols := strings.Join(selectCols, ", ")
	sql := fmt.Sprintf(
		"SELECT %s, %s FROM %s WHERE %s GROUP BY %s ORDER BY %s",
		groupCols,
		strings.Join(aggExprs, ", "),
		t.TableName,
		strings.Join(where, " AND "),
		groupCols,
		groupCols,
	)
	return sql, args, nil
}

func filterClause(field string, f query.Filter) (string, []any, error) {
	switch f.Op {
	case query.OpEq, query.OpNe, query.OpLt, query.OpLe, query.OpGt, query.OpGe:
		return fmt.Sprintf("%s %s ?", field, sqlOp(f.Op)), []any{f.Value}, nil
	case query.OpIn:
		vals, ok := f.Value.([]any)
		if !ok || len(vals) == 0 {
			return "", nil, faults.New(faults.KindValidation, "filter on %s: 'in' requires a non-empty list", field)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(vals)), ", ")
		return fmt.Sprintf("%s IN (%s)", field, placeholders), vals, nil
	default:
		return "", nil, faults.New(faults.KindValidation, "unknown filter operator %q", f.Op)
	}
}

func sqlOp(op query.Op) string {
	if op == query.OpNe {
		return "<>"
	}
	return string(op)
}
