package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Direction selects which regulation sense a query asks for.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// ParseDirection normalises free-form input into a Direction.
func ParseDirection(raw string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "up":
		return DirectionUp, nil
	case "down":
		return DirectionDown, nil
	default:
		return "", fmt.Errorf("unknown direction %q (want \"up\" or \"down\")", raw)
	}
}

// Label returns the display form used in headings and export filenames,
// e.g. "Up-regulating".
func (d Direction) Label() string {
	switch d {
	case DirectionUp:
		return "Up-regulating"
	case DirectionDown:
		return "Down-regulating"
	default:
		return string(d)
	}
}

// NullFloat is the missing-value marker for numeric columns. A cell that is
// absent, null or not coercible to a number carries Valid=false; the row
// itself is always kept.
type NullFloat struct {
	Float64 float64
	Valid   bool
}

// Float wraps a present value.
func Float(v float64) NullFloat {
	return NullFloat{Float64: v, Valid: true}
}

// Or returns the value when present and def otherwise.
func (n NullFloat) Or(def float64) float64 {
	if n.Valid {
		return n.Float64
	}
	return def
}

// MarshalJSON encodes missing values as null.
func (n NullFloat) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Float64)
}

// UnmarshalJSON accepts JSON numbers, numeric strings and null. Anything
// else leaves the value marked missing instead of failing the row.
func (n *NullFloat) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*n = NullFloat{}
		return nil
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		*n = NullFloat{}
		return nil
	}
	*n = CoerceFloat(v)
	return nil
}

// CoerceFloat converts a decoded JSON cell into a NullFloat. Numbers and
// numeric strings coerce; everything else is the missing marker.
func CoerceFloat(v any) NullFloat {
	switch val := v.(type) {
	case float64:
		return Float(val)
	case float32:
		return Float(float64(val))
	case int:
		return Float(float64(val))
	case int64:
		return Float(float64(val))
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return Float(f)
		}
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return NullFloat{}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return Float(f)
		}
	}
	return NullFloat{}
}

// CoerceString renders a decoded JSON cell as display text. Missing and
// unrepresentable cells become the empty string.
func CoerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	default:
		return ""
	}
}

// PerturbagenRecord is one experimental observation of a compound's effect
// on the queried gene.
type PerturbagenRecord struct {
	Perturbagen    string    `json:"perturbagen"`
	CDCoefficient  NullFloat `json:"cd_coefficient"`
	FoldChange     NullFloat `json:"fold_change"`
	Log2FoldChange NullFloat `json:"log2_fold_change"`
	Dose           string    `json:"dose"`
	CellLine       string    `json:"cell_line"`
	Timepoint      string    `json:"timepoint"`
}

// RowSet is the normalised result of one query. Every row shares the queried
// gene and direction, rows are ordered by CD coefficient descending with
// missing coefficients after all present ones, and the length never exceeds
// the requested limit.
type RowSet struct {
	Gene      string              `json:"gene"`
	Direction Direction           `json:"direction"`
	Rows      []PerturbagenRecord `json:"rows"`
	FetchedAt time.Time           `json:"fetched_at"`
	Attempts  int                 `json:"attempts"`
}

// Len reports the number of rows.
func (rs *RowSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rows)
}

// IsEmpty reports whether the query matched no compounds. An empty set is a
// successful result, distinct from every error kind.
func (rs *RowSet) IsEmpty() bool {
	return rs.Len() == 0
}
