package models

import (
	"encoding/json"
	"testing"
)

func TestParseDirection(t *testing.T) {
	cases := []struct {
		in      string
		want    Direction
		wantErr bool
	}{
		{"up", DirectionUp, false},
		{"DOWN", DirectionDown, false},
		{"  Up  ", DirectionUp, false},
		{"sideways", "", true},
		{"", "", true},
	}
	for _, c := range cases {
		got, err := ParseDirection(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseDirection(%q) expected error, got %q", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDirection(%q) returned error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseDirection(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestDirectionLabel(t *testing.T) {
	if got := DirectionUp.Label(); got != "Up-regulating" {
		t.Errorf("up label = %q", got)
	}
	if got := DirectionDown.Label(); got != "Down-regulating" {
		t.Errorf("down label = %q", got)
	}
}

func TestCoerceFloat(t *testing.T) {
	cases := []struct {
		name  string
		in    any
		want  float64
		valid bool
	}{
		{"number", 0.42, 0.42, true},
		{"negative number", -1.5, -1.5, true},
		{"numeric string", "3.14", 3.14, true},
		{"padded numeric string", " 2.5 ", 2.5, true},
		{"empty string", "", 0, false},
		{"word", "n/a", 0, false},
		{"nil", nil, 0, false},
		{"bool", true, 0, false},
		{"object", map[string]any{"v": 1}, 0, false},
	}
	for _, c := range cases {
		got := CoerceFloat(c.in)
		if got.Valid != c.valid {
			t.Errorf("%s: valid = %v, want %v", c.name, got.Valid, c.valid)
			continue
		}
		if c.valid && got.Float64 != c.want {
			t.Errorf("%s: value = %v, want %v", c.name, got.Float64, c.want)
		}
	}
}

func TestNullFloatJSON(t *testing.T) {
	rec := PerturbagenRecord{
		Perturbagen:   "vemurafenib",
		CDCoefficient: Float(0.91),
		Dose:          "10 µM",
	}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out PerturbagenRecord
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.CDCoefficient.Valid || out.CDCoefficient.Float64 != 0.91 {
		t.Fatalf("cd coefficient did not round trip: %+v", out.CDCoefficient)
	}
	if out.FoldChange.Valid {
		t.Fatalf("missing fold change became valid: %+v", out.FoldChange)
	}

	// Uncoercible cells mark the field missing instead of failing the row.
	var n NullFloat
	if err := json.Unmarshal([]byte(`"not-a-number"`), &n); err != nil {
		t.Fatalf("unmarshal junk: %v", err)
	}
	if n.Valid {
		t.Fatalf("junk cell coerced to %v", n.Float64)
	}
}

func TestNullFloatOr(t *testing.T) {
	if got := Float(2).Or(7); got != 2 {
		t.Errorf("present Or = %v", got)
	}
	if got := (NullFloat{}).Or(7); got != 7 {
		t.Errorf("missing Or = %v", got)
	}
}

func TestRowSetLen(t *testing.T) {
	var nilSet *RowSet
	if nilSet.Len() != 0 || !nilSet.IsEmpty() {
		t.Fatal("nil row set should be empty")
	}
	rs := &RowSet{Rows: []PerturbagenRecord{{Perturbagen: "a"}}}
	if rs.Len() != 1 || rs.IsEmpty() {
		t.Fatalf("unexpected len: %d", rs.Len())
	}
}
