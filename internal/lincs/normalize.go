package lincs

import (
	"sort"

	"lincsquery/internal/models"
)

// Column names as they appear in the upstream table payload.
const (
	colPerturbagen    = "Perturbagen"
	colCDCoefficient  = "CD Coefficient"
	colFoldChange     = "Fold Change"
	colLog2FoldChange = "Log2(Fold Change)"
	colDose           = "Dose"
	colCellLine       = "Cell Line"
	colTimepoint      = "Timepoint"
)

// hasColumn reports whether any row in the payload carries the column. The
// upstream API omits a column from every row when it is absent from the
// underlying table, so a payload where no row has it fails the schema check.
func hasColumn(raw []map[string]interface{}, column string) bool {
	for _, row := range raw {
		if _, ok := row[column]; ok {
			return true
		}
	}
	return false
}

// normalizeRows coerces the loosely-typed payload rows into typed records.
// Numeric cells that cannot be coerced become missing markers for that field
// in that row; rows are never dropped here.
func normalizeRows(raw []map[string]interface{}) []models.PerturbagenRecord {
	rows := make([]models.PerturbagenRecord, 0, len(raw))
	for _, r := range raw {
		rows = append(rows, models.PerturbagenRecord{
			Perturbagen:    models.CoerceString(r[colPerturbagen]),
			CDCoefficient:  models.CoerceFloat(r[colCDCoefficient]),
			FoldChange:     models.CoerceFloat(r[colFoldChange]),
			Log2FoldChange: models.CoerceFloat(r[colLog2FoldChange]),
			Dose:           models.CoerceString(r[colDose]),
			CellLine:       models.CoerceString(r[colCellLine]),
			Timepoint:      models.CoerceString(r[colTimepoint]),
		})
	}
	return rows
}

// sortByCDCoefficient orders rows by CD coefficient descending. Rows with a
// missing coefficient sort after every row with a present value; the sort is
// stable so ties and missing rows keep their arrival order.
func sortByCDCoefficient(rows []models.PerturbagenRecord) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].CDCoefficient, rows[j].CDCoefficient
		if a.Valid != b.Valid {
			return a.Valid
		}
		if !a.Valid {
			return false
		}
		return a.Float64 > b.Float64
	})
}

// truncateRows caps the row set at limit rows.
func truncateRows(rows []models.PerturbagenRecord, limit int) []models.PerturbagenRecord {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}
