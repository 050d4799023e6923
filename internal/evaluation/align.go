package evaluation

import (
	"math"
	"strings"
)

// normalize lower-cases s and collapses runs of whitespace to single spaces.
func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// editDistance is the Levenshtein distance between a and b with unit costs.
func editDistance[T comparable](a, b []T) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// cellCounts holds micro-averaged cell match counts.
type cellCounts struct {
	tp, fp, fn int
}

func (c *cellCounts) add(o cellCounts) {
	c.tp += o.tp
	c.fp += o.fp
	c.fn += o.fn
}

func cellAt(t [][]string, row, col int) (string, bool) {
	if row >= len(t) || col >= len(t[row]) {
		return "", false
	}
	return t[row][col], true
}

func cellCount(t [][]string) int {
	n := 0
	for _, row := range t {
		n += len(row)
	}
	return n
}

// overlapScore counts normalized cell matches at positions present in both tables.
func overlapScore(pred, ref [][]string) int {
	score := 0
	rows := min(len(pred), len(ref))
	for i := 0; i < rows; i++ {
		cols := min(len(pred[i]), len(ref[i]))
		for j := 0; j < cols; j++ {
			if normalize(pred[i][j]) == normalize(ref[i][j]) {
				score++
			}
		}
	}
	return score
}

// compareCells scores a matched table pair position by position. A cell
// present on only one side is a false positive (pred) or false negative (ref);
// a mismatched cell present on both sides counts as one of each.
func compareCells(pred, ref [][]string) cellCounts {
	var c cellCounts
	rows := max(len(pred), len(ref))
	for i := 0; i < rows; i++ {
		var pl, rl int
		if i < len(pred) {
			pl = len(pred[i])
		}
		if i < len(ref) {
			rl = len(ref[i])
		}
		for j := 0; j < max(pl, rl); j++ {
			p, hasP := cellAt(pred, i, j)
			r, hasR := cellAt(ref, i, j)
			switch {
			case hasP && hasR && normalize(p) == normalize(r):
				c.tp++
			case hasP && hasR:
				c.fp++
				c.fn++
			case hasP:
				c.fp++
			default:
				c.fn++
			}
		}
	}
	return c
}

// tablePair is an aligned (predicted, reference) table index pair.
type tablePair struct {
	pred, ref int
}

// alignTables greedily pairs predicted and reference tables by overlap score.
// Each round takes the highest-scoring unmatched pair, ties going to the lower
// predicted index and then the lower reference index. Alignment stops when
// either side is exhausted or the best remaining score is zero. This is a
// local approximation and does not maximise total overlap.
func alignTables(pred, ref [][][]string) []tablePair {
	scores := make([][]int, len(pred))
	for i := range pred {
		scores[i] = make([]int, len(ref))
		for j := range ref {
			scores[i][j] = overlapScore(pred[i], ref[j])
		}
	}

	usedPred := make([]bool, len(pred))
	usedRef := make([]bool, len(ref))
	var pairs []tablePair

	for len(pairs) < min(len(pred), len(ref)) {
		best, bi, bj := 0, -1, -1
		for i := range pred {
			if usedPred[i] {
				continue
			}
			for j := range ref {
				if usedRef[j] {
					continue
				}
				if scores[i][j] > best {
					best, bi, bj = scores[i][j], i, j
				}
			}
		}
		if bi < 0 {
			break
		}
		usedPred[bi], usedRef[bj] = true, true
		pairs = append(pairs, tablePair{pred: bi, ref: bj})
	}
	return pairs
}

// tableCounts aligns the two table sets and accumulates cell counts, with
// unmatched tables contributing every cell to the opposite false count.
func tableCounts(pred, ref [][][]string) cellCounts {
	var total cellCounts
	matchedPred := make([]bool, len(pred))
	matchedRef := make([]bool, len(ref))

	for _, p := range alignTables(pred, ref) {
		matchedPred[p.pred], matchedRef[p.ref] = true, true
		total.add(compareCells(pred[p.pred], ref[p.ref]))
	}
	for i, t := range pred {
		if !matchedPred[i] {
			total.fp += cellCount(t)
		}
	}
	for j, t := range ref {
		if !matchedRef[j] {
			total.fn += cellCount(t)
		}
	}
	return total
}

// matchHeadings counts one-to-one matches between pred and ref. Predicted
// headings are visited in order and each consumes the first unused reference
// heading with the same normalized text.
func matchHeadings(pred, ref []string) int {
	refNorm := make([]string, len(ref))
	for i, r := range ref {
		refNorm[i] = normalize(r)
	}
	used := make([]bool, len(ref))

	matched := 0
	for _, p := range pred {
		np := normalize(p)
		for j, r := range refNorm {
			if !used[j] && r == np {
				used[j] = true
				matched++
				break
			}
		}
	}
	return matched
}

// commonRanks restricts ref to elements with a normalized match in pred and
// returns, for each survivor, its rank in ref and the rank of the first unused
// matching occurrence in pred.
func commonRanks(pred, ref []string) (refRanks, predRanks []float64) {
	predNorm := make([]string, len(pred))
	for i, p := range pred {
		predNorm[i] = normalize(p)
	}
	used := make([]bool, len(pred))

	for i, r := range ref {
		nr := normalize(r)
		for j, p := range predNorm {
			if !used[j] && p == nr {
				used[j] = true
				refRanks = append(refRanks, float64(i))
				predRanks = append(predRanks, float64(j))
				break
			}
		}
	}
	return refRanks, predRanks
}

// kendallTauB computes Kendall's tau-b with the standard tie correction.
// ok is false when fewer than two observations exist or the correction
// leaves a zero denominator.
func kendallTauB(x, y []float64) (tau float64, ok bool) {
	n := len(x)
	if n < 2 || len(y) != n {
		return 0, false
	}

	var concordant, discordant, tiesX, tiesY int
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			dx := x[i] - x[j]
			dy := y[i] - y[j]
			switch {
			case dx == 0 && dy == 0:
				tiesX++
				tiesY++
			case dx == 0:
				tiesX++
			case dy == 0:
				tiesY++
			case (dx > 0) == (dy > 0):
				concordant++
			default:
				discordant++
			}
		}
	}

	n0 := n * (n - 1) / 2
	denom := math.Sqrt(float64(n0-tiesX) * float64(n0-tiesY))
	if denom == 0 {
		return 0, false
	}
	return float64(concordant-discordant) / denom, true
}
