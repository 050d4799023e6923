package evaluation

import (
	"math"
	"testing"
)

const eps = 1e-9

func approx(a, b float64) bool { return math.Abs(a-b) < eps }

func TestCER(t *testing.T) {
	tests := []struct {
		name string
		hyp  string
		ref  string
		opts ErrorRateOptions
		want float64
	}{
		{"identical", "hello world", "hello world", ErrorRateOptions{}, 0},
		{"both empty", "", "", ErrorRateOptions{}, 0},
		{"empty reference", "abc", "", ErrorRateOptions{}, 1},
		{"empty hypothesis", "", "abcd", ErrorRateOptions{}, 1},
		{"one substitution", "Invoice 124. Total: $50.", "Invoice 123. Total: $50.", ErrorRateOptions{}, 1.0 / 24},
		{"multibyte runes", "naïve", "naive", ErrorRateOptions{}, 1.0 / 5},
		{"uncapped", "abcdef", "ab", ErrorRateOptions{}, 2},
		{"clamped", "abcdef", "ab", ErrorRateOptions{Clamp: true}, 1},
		{"case sensitive", "ABC", "abc", ErrorRateOptions{}, 1},
		{"fold case", "ABC", "abc", ErrorRateOptions{FoldCase: true}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CER(tt.hyp, tt.ref, tt.opts); !approx(got, tt.want) {
				t.Errorf("CER(%q, %q) = %v, want %v", tt.hyp, tt.ref, got, tt.want)
			}
		})
	}
}

func TestWER(t *testing.T) {
	tests := []struct {
		name string
		hyp  string
		ref  string
		opts ErrorRateOptions
		want float64
	}{
		{"identical", "the quick fox", "the quick fox", ErrorRateOptions{}, 0},
		{"whitespace insensitive", "the  quick\nfox", "the quick fox", ErrorRateOptions{}, 0},
		{"both empty", "", "  ", ErrorRateOptions{}, 0},
		{"empty reference", "word", "", ErrorRateOptions{}, 1},
		{"one substitution", "the slow fox", "the quick fox", ErrorRateOptions{}, 1.0 / 3},
		{"deletion", "the fox", "the quick fox", ErrorRateOptions{}, 1.0 / 3},
		{"case sensitive by default", "The Fox", "the fox", ErrorRateOptions{}, 1},
		{"fold case", "The Fox", "the fox", ErrorRateOptions{FoldCase: true}, 0},
		{"insertions uncapped", "a b c d", "a", ErrorRateOptions{}, 3},
		{"insertions clamped", "a b c d", "a", ErrorRateOptions{Clamp: true}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WER(tt.hyp, tt.ref, tt.opts); !approx(got, tt.want) {
				t.Errorf("WER(%q, %q) = %v, want %v", tt.hyp, tt.ref, got, tt.want)
			}
		})
	}
}

func TestErrorRateIdentity(t *testing.T) {
	inputs := []string{"", "a", "Invoice 123", "  spaced   out  ", "ünïcödé текст", "line\nbreaks\tand tabs"}
	for _, s := range inputs {
		if got := CER(s, s, ErrorRateOptions{}); got != 0 {
			t.Errorf("CER(%q, %q) = %v, want 0", s, s, got)
		}
		if got := WER(s, s, ErrorRateOptions{}); got != 0 {
			t.Errorf("WER(%q, %q) = %v, want 0", s, s, got)
		}
	}
}

func TestTableF1(t *testing.T) {
	tests := []struct {
		name string
		pred [][][]string
		ref  [][][]string
		want float64
	}{
		{"both empty", nil, nil, 1},
		{"empty reference", [][][]string{{{"a"}}}, nil, 0},
		{"empty prediction", nil, [][][]string{{{"a"}}}, 0},
		{"tables without rows", [][][]string{{}}, [][][]string{{}}, 1},
		{"rows without cells", [][][]string{{{}}}, [][][]string{{{}}}, 1},
		{
			"case insensitive cells",
			[][][]string{{{"item", "qty"}, {"Widget", "10"}}},
			[][][]string{{{"Item", "Qty"}, {"Widget", "10"}}},
			1,
		},
		{
			"whitespace collapsed",
			[][][]string{{{" Unit   price "}}},
			[][][]string{{{"unit price"}}},
			1,
		},
		{
			// tp=3, fp=1, fn=1
			"one wrong cell",
			[][][]string{{{"Item", "Qty"}, {"Widget", "11"}}},
			[][][]string{{{"Item", "Qty"}, {"Widget", "10"}}},
			0.75,
		},
		{
			// tp=2, fp=0, fn=2: P=1, R=0.5
			"missing row",
			[][][]string{{{"Item", "Qty"}}},
			[][][]string{{{"Item", "Qty"}, {"Widget", "10"}}},
			2.0 / 3,
		},
		{
			// matched pair is perfect (tp=2); extra predicted table adds fp=1
			"extra predicted table",
			[][][]string{{{"x"}}, {{"a", "b"}}},
			[][][]string{{{"a", "b"}}},
			0.8,
		},
		{
			// no overlap: tables stay unmatched, tp=0
			"no overlap",
			[][][]string{{{"x"}}},
			[][][]string{{{"y"}}},
			0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TableF1(tt.pred, tt.ref); !approx(got, tt.want) {
				t.Errorf("TableF1() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHeadingF1(t *testing.T) {
	tests := []struct {
		name string
		pred []string
		ref  []string
		want float64
	}{
		{"case insensitive multiset", []string{"Intro", "Total"}, []string{"INTRO", "total"}, 1},
		{"both empty", nil, []string{}, 1},
		{"empty prediction", nil, []string{"Intro"}, 0},
		{"empty reference", []string{"Intro"}, nil, 0},
		{"whitespace normalized", []string{"  Terms   and\tConditions "}, []string{"terms and conditions"}, 1},
		// one "Notes" in ref can be consumed once: P=1/2, R=1
		{"duplicates consumed once", []string{"Notes", "Notes"}, []string{"notes"}, 2.0 / 3},
		// P=1/3, R=1/2
		{"partial", []string{"A", "X", "Y"}, []string{"a", "b"}, 0.4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HeadingF1(tt.pred, tt.ref); !approx(got, tt.want) {
				t.Errorf("HeadingF1(%v, %v) = %v, want %v", tt.pred, tt.ref, got, tt.want)
			}
		})
	}
}

func TestReadingOrderScore(t *testing.T) {
	tests := []struct {
		name   string
		pred   []string
		ref    []string
		want   float64
		wantOK bool
	}{
		{"identical", []string{"A", "B", "C"}, []string{"A", "B", "C"}, 1, true},
		{"reversed", []string{"C", "B", "A"}, []string{"A", "B", "C"}, -1, true},
		{"one common element", []string{"A", "X"}, []string{"A", "B", "C"}, 0, false},
		{"no common elements", []string{"X", "Y"}, []string{"A", "B"}, 0, false},
		{"empty prediction", nil, []string{"A", "B"}, 0, false},
		{"normalized match", []string{"  first block", "SECOND block"}, []string{"First Block", "second block"}, 1, true},
		// pairs: (A,B) concordant, (A,C) concordant, (B,C) discordant
		{"one swap", []string{"A", "C", "B"}, []string{"A", "B", "C"}, 1.0 / 3, true},
		{"extra predicted elements ignored", []string{"X", "A", "Y", "B"}, []string{"A", "B"}, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ReadingOrderScore(tt.pred, tt.ref)
			if ok != tt.wantOK {
				t.Fatalf("ReadingOrderScore() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !approx(got, tt.want) {
				t.Errorf("ReadingOrderScore() = %v, want %v", got, tt.want)
			}
		})
	}
}
