package evaluation

import (
	"strings"
)

// ErrorRateOptions tunes CER and WER.
type ErrorRateOptions struct {
	// Clamp caps the rate at 1.0. Without it, a hypothesis much longer than
	// the reference can score above 1.
	Clamp bool

	// FoldCase compares case-insensitively. Off by default.
	FoldCase bool
}

func errorRate[T comparable](hyp, ref []T, opts ErrorRateOptions) float64 {
	if len(ref) == 0 {
		if len(hyp) == 0 {
			return 0
		}
		return 1
	}
	rate := float64(editDistance(hyp, ref)) / float64(len(ref))
	if opts.Clamp && rate > 1 {
		return 1
	}
	return rate
}

// CER is the character error rate: rune-level edit distance divided by the
// rune length of ref.
func CER(hyp, ref string, opts ErrorRateOptions) float64 {
	if opts.FoldCase {
		hyp, ref = strings.ToLower(hyp), strings.ToLower(ref)
	}
	return errorRate([]rune(hyp), []rune(ref), opts)
}

// WER is the word error rate over whitespace-delimited tokens.
func WER(hyp, ref string, opts ErrorRateOptions) float64 {
	if opts.FoldCase {
		hyp, ref = strings.ToLower(hyp), strings.ToLower(ref)
	}
	return errorRate(strings.Fields(hyp), strings.Fields(ref), opts)
}

// f1 returns the harmonic mean of precision and recall, or 0 when both are 0.
func f1(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

// TableF1 is the micro-averaged cell F1 over aligned tables.
// Two empty sets score 1; exactly one empty set scores 0. Tables without any
// cells on either side also score 1.
func TableF1(pred, ref [][][]string) float64 {
	if len(pred) == 0 && len(ref) == 0 {
		return 1
	}
	if len(pred) == 0 || len(ref) == 0 {
		return 0
	}

	c := tableCounts(pred, ref)
	if c.tp+c.fp+c.fn == 0 {
		return 1
	}
	var precision, recall float64
	if c.tp+c.fp > 0 {
		precision = float64(c.tp) / float64(c.tp+c.fp)
	}
	if c.tp+c.fn > 0 {
		recall = float64(c.tp) / float64(c.tp+c.fn)
	}
	return f1(precision, recall)
}

// HeadingF1 scores detected headings as a case-insensitive multiset match.
func HeadingF1(pred, ref []string) float64 {
	if len(pred) == 0 && len(ref) == 0 {
		return 1
	}
	if len(pred) == 0 || len(ref) == 0 {
		return 0
	}

	matched := float64(matchHeadings(pred, ref))
	return f1(matched/float64(len(pred)), matched/float64(len(ref)))
}

// ReadingOrderScore is Kendall's tau-b between the reference order and the
// predicted order of the elements both sequences share. ok is false when
// fewer than two elements are shared.
func ReadingOrderScore(pred, ref []string) (score float64, ok bool) {
	refRanks, predRanks := commonRanks(pred, ref)
	return kendallTauB(refRanks, predRanks)
}
