package evaluation

import (
	"reflect"
	"testing"

	"github.com/docfold/docbench/internal/engine"
)

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"same", "same", 0},
	}

	for _, tt := range tests {
		if got := editDistance([]rune(tt.a), []rune(tt.b)); got != tt.want {
			t.Errorf("editDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := normalize("  Hello \t  WORLD\n"); got != "hello world" {
		t.Errorf("normalize() = %q, want %q", got, "hello world")
	}
}

func TestAlignTables(t *testing.T) {
	a := [][]string{{"a", "b"}, {"c", "d"}}
	b := [][]string{{"x", "y"}}
	aPartial := [][]string{{"a", "b"}, {"c", "z"}}

	tests := []struct {
		name string
		pred [][][]string
		ref  [][][]string
		want []tablePair
	}{
		{
			name: "best pair first",
			pred: [][][]string{aPartial, a},
			ref:  [][][]string{a},
			want: []tablePair{{pred: 1, ref: 0}},
		},
		{
			name: "tie goes to lower predicted index",
			pred: [][][]string{a, a},
			ref:  [][][]string{a},
			want: []tablePair{{pred: 0, ref: 0}},
		},
		{
			name: "tie goes to lower reference index",
			pred: [][][]string{a},
			ref:  [][][]string{a, a},
			want: []tablePair{{pred: 0, ref: 0}},
		},
		{
			name: "zero score never pairs",
			pred: [][][]string{b},
			ref:  [][][]string{a},
			want: nil,
		},
		{
			name: "crossed pairs",
			pred: [][][]string{b, a},
			ref:  [][][]string{a, b},
			want: []tablePair{{pred: 1, ref: 0}, {pred: 0, ref: 1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := alignTables(tt.pred, tt.ref); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("alignTables() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchHeadings_FirstMatchWins(t *testing.T) {
	// "Summary" consumes the first "summary"; the second reference stays unmatched.
	got := matchHeadings([]string{"Summary", "Other"}, []string{"summary", "SUMMARY"})
	if got != 1 {
		t.Errorf("matchHeadings() = %d, want 1", got)
	}
}

func TestKendallTauB(t *testing.T) {
	tests := []struct {
		name   string
		x, y   []float64
		want   float64
		wantOK bool
	}{
		{"perfect", []float64{1, 2, 3, 4}, []float64{1, 2, 3, 4}, 1, true},
		{"inverse", []float64{1, 2, 3, 4}, []float64{4, 3, 2, 1}, -1, true},
		{"too short", []float64{1}, []float64{1}, 0, false},
		{"all tied", []float64{1, 1, 1}, []float64{1, 2, 3}, 0, false},
		// n0=3, ties in y=1, C=2, D=0: 2/sqrt(3*2)
		{"ties corrected", []float64{1, 2, 3}, []float64{1, 1, 2}, 2 / 2.449489742783178, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := kendallTauB(tt.x, tt.y)
			if ok != tt.wantOK {
				t.Fatalf("kendallTauB() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !approx(got, tt.want) {
				t.Errorf("kendallTauB() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHypothesisDerivation(t *testing.T) {
	t.Run("markdown headings", func(t *testing.T) {
		got := hypothesisHeadings(&engine.Outcome{Content: "# Title\ntext\n## Section 2 ##\n#not a heading"})
		want := []string{"Title", "Section 2"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("hypothesisHeadings() = %v, want %v", got, want)
		}
	})

	t.Run("paragraph reading order", func(t *testing.T) {
		got := hypothesisReadingOrder(&engine.Outcome{Content: "# Title\nfirst line\nsecond line\n\nnext block\n"})
		want := []string{"Title", "first line second line", "next block"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("hypothesisReadingOrder() = %v, want %v", got, want)
		}
	})

	t.Run("explicit headings win", func(t *testing.T) {
		got := hypothesisHeadings(&engine.Outcome{Content: "# Ignored", Headings: []string{"Kept"}})
		if !reflect.DeepEqual(got, []string{"Kept"}) {
			t.Errorf("hypothesisHeadings() = %v, want [Kept]", got)
		}
	})
}
