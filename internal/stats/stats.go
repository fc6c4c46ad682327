// Package stats computes the aggregate views shown alongside a result table:
// headline summary numbers, group-by means over the context columns and the
// fold-change chart series.
package stats

import (
	"sort"
	"strconv"
	"strings"

	"lincsquery/internal/models"
)

// Summary holds the headline numbers for one direction's result table.
// Numeric aggregates are missing when no row carries the underlying value.
type Summary struct {
	Gene           string           `json:"gene"`
	Direction      models.Direction `json:"direction"`
	Total          int              `json:"total"`
	WithCD         int              `json:"with_cd"`
	MaxCD          models.NullFloat `json:"max_cd"`
	MinCD          models.NullFloat `json:"min_cd"`
	MeanCD         models.NullFloat `json:"mean_cd"`
	MeanFoldChange models.NullFloat `json:"mean_fold_change"`
}

// Summarize aggregates a row set. Rows without a CD coefficient count toward
// Total but not toward the coefficient aggregates; the fold-change mean runs
// over present values only.
func Summarize(rs *models.RowSet) Summary {
	s := Summary{}
	if rs == nil {
		return s
	}
	s.Gene = rs.Gene
	s.Direction = rs.Direction
	s.Total = rs.Len()

	var cdSum, fcSum float64
	fcCount := 0
	for _, row := range rs.Rows {
		if row.CDCoefficient.Valid {
			v := row.CDCoefficient.Float64
			if s.WithCD == 0 {
				s.MaxCD = models.Float(v)
				s.MinCD = models.Float(v)
			} else {
				if v > s.MaxCD.Float64 {
					s.MaxCD = models.Float(v)
				}
				if v < s.MinCD.Float64 {
					s.MinCD = models.Float(v)
				}
			}
			cdSum += v
			s.WithCD++
		}
		if row.FoldChange.Valid {
			fcSum += row.FoldChange.Float64
			fcCount++
		}
	}

	if s.WithCD > 0 {
		s.MeanCD = models.Float(cdSum / float64(s.WithCD))
	}
	if fcCount > 0 {
		s.MeanFoldChange = models.Float(fcSum / float64(fcCount))
	}
	return s
}

// GroupField selects the context column MeanCDBy groups on.
type GroupField string

const (
	GroupCellLine  GroupField = "cell_line"
	GroupDose      GroupField = "dose"
	GroupTimepoint GroupField = "timepoint"
)

// GroupMean is one group's mean CD coefficient.
type GroupMean struct {
	Key    string  `json:"key"`
	Count  int     `json:"count"`
	MeanCD float64 `json:"mean_cd"`
}

// MeanCDBy groups rows by the chosen context column and returns each group's
// mean CD coefficient, sorted by mean descending with ties broken by key.
// Rows with an empty group value or a missing coefficient do not contribute.
func MeanCDBy(rs *models.RowSet, field GroupField) []GroupMean {
	if rs == nil {
		return nil
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, row := range rs.Rows {
		key := groupKey(row, field)
		if key == "" || !row.CDCoefficient.Valid {
			continue
		}
		sums[key] += row.CDCoefficient.Float64
		counts[key]++
	}

	groups := make([]GroupMean, 0, len(sums))
	for key, sum := range sums {
		groups = append(groups, GroupMean{
			Key:    key,
			Count:  counts[key],
			MeanCD: sum / float64(counts[key]),
		})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].MeanCD != groups[j].MeanCD {
			return groups[i].MeanCD > groups[j].MeanCD
		}
		return groups[i].Key < groups[j].Key
	})
	return groups
}

func groupKey(row models.PerturbagenRecord, field GroupField) string {
	switch field {
	case GroupCellLine:
		return row.CellLine
	case GroupDose:
		return row.Dose
	case GroupTimepoint:
		return row.Timepoint
	default:
		return ""
	}
}

// ChartPoint is one bar of the fold-change chart.
type ChartPoint struct {
	Perturbagen    string           `json:"perturbagen"`
	Log2FoldChange float64          `json:"log2_fold_change"`
	CDCoefficient  models.NullFloat `json:"cd_coefficient"`
}

// TopByLog2FoldChange returns the n rows with the largest log2 fold change.
// Rows lacking the value are excluded from the chart entirely; ties keep the
// row set's order.
func TopByLog2FoldChange(rs *models.RowSet, n int) []ChartPoint {
	if rs == nil || n <= 0 {
		return nil
	}

	points := make([]ChartPoint, 0, rs.Len())
	for _, row := range rs.Rows {
		if !row.Log2FoldChange.Valid {
			continue
		}
		points = append(points, ChartPoint{
			Perturbagen:    row.Perturbagen,
			Log2FoldChange: row.Log2FoldChange.Float64,
			CDCoefficient:  row.CDCoefficient,
		})
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Log2FoldChange > points[j].Log2FoldChange
	})
	if len(points) > n {
		points = points[:n]
	}
	return points
}

// ParseDoseValue extracts the numeric magnitude from a free-form dose string
// such as "10 uM" or "0.37µM". The second return is false when the string
// does not start with a number.
func ParseDoseValue(dose string) (float64, bool) {
	s := strings.TrimSpace(dose)
	if s == "" {
		return 0, false
	}

	end := 0
	if s[end] == '+' || s[end] == '-' {
		end++
	}
	seenDigit, seenDot := false, false
	for end < len(s) {
		c := s[end]
		if c >= '0' && c <= '9' {
			seenDigit = true
		} else if c == '.' && !seenDot {
			seenDot = true
		} else {
			break
		}
		end++
	}
	if !seenDigit {
		return 0, false
	}

	v, err := strconv.ParseFloat(strings.TrimSuffix(s[:end], "."), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
