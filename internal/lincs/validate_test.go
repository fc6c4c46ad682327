package lincs

import "testing"

func TestValidateGeneSymbol(t *testing.T) {
	cases := []struct {
		name  string
		gene  string
		valid bool
	}{
		{"plain symbol", "STAT3", true},
		{"lower case", "braf", true},
		{"mixed case with digits", "Tp53", true},
		{"hyphen", "HLA-A", true},
		{"underscore", "GENE_1", true},
		{"surrounding whitespace", "  BRAF  ", true},
		{"single character", "A", true},
		{"empty", "", false},
		{"whitespace only", "   ", false},
		{"punctuation", "TP53!", false},
		{"interior space", "TP 53", false},
		{"slash", "BRAF/V600E", false},
		{"accented letter", "GÈNE", false},
		{"url metacharacters", "../etc", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidateGeneSymbol(tc.gene); got != tc.valid {
				t.Errorf("ValidateGeneSymbol(%q) = %v, want %v", tc.gene, got, tc.valid)
			}
		})
	}
}
