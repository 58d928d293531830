package loss

import (
	"fmt"
	"math"
)

// PadIndex marks target positions that carry no token. Matches the padding
// id convention of the trainer's tokenizer dumps.
const PadIndex = -100

// Result accumulates masked, weighted loss sums so that records can be
// merged before averaging. Averages and ratios are derived on demand.
type Result struct {
	LossSum    float64
	NLLSum     float64
	SampleSize float64
	NumTokens  int
	NumNonpad  int
	Sequences  int
}

func (r *Result) Merge(other *Result) {
	r.LossSum += other.LossSum
	r.NLLSum += other.NLLSum
	r.SampleSize += other.SampleSize
	r.NumTokens += other.NumTokens
	r.NumNonpad += other.NumNonpad
	r.Sequences += other.Sequences
}

// Loss is the label-smoothed cross entropy averaged over the sample size.
func (r *Result) Loss() float64 {
	if r.SampleSize == 0 {
		return 0
	}
	return r.LossSum / r.SampleSize
}

// NLL is the unsmoothed negative log likelihood averaged over the sample
// size.
func (r *Result) NLL() float64 {
	if r.SampleSize == 0 {
		return 0
	}
	return r.NLLSum / r.SampleSize
}

// Perplexity is exp of the mean NLL.
func (r *Result) Perplexity() float64 {
	return math.Exp(r.NLL())
}

// SampleRatio is the fraction of positions that contributed to the loss.
func (r *Result) SampleRatio() float64 {
	if r.NumTokens == 0 {
		return 0
	}
	return r.SampleSize / float64(r.NumTokens)
}

// NonpadRatio is the fraction of positions holding a real token.
func (r *Result) NonpadRatio() float64 {
	if r.NumTokens == 0 {
		return 0
	}
	return float64(r.NumNonpad) / float64(r.NumTokens)
}

// LogSoftmax converts one row of unnormalized scores to log probabilities.
// Shifted by the row max for stability.
func LogSoftmax(scores []float64) []float64 {
	maxScore := math.Inf(-1)
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}

	sumExp := 0.0
	for _, s := range scores {
		sumExp += math.Exp(s - maxScore)
	}
	logSum := maxScore + math.Log(sumExp)

	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = s - logSum
	}
	return out
}

// LabelSmoothedNLL returns the per-position smoothed loss and plain NLL for
// one sequence of log probabilities. Positions whose target equals
// ignoreIndex contribute zero. With smoothing epsilon, each position's loss
// is (1 - epsilon - eps_i) * nll + eps_i * smooth, where smooth is the
// negated sum of log probabilities and eps_i = epsilon / (C - 1).
func LabelSmoothedNLL(lprobs [][]float64, target []int, epsilon float64, ignoreIndex int) (lossOut, nllOut []float64, err error) {
	if len(lprobs) != len(target) {
		return nil, nil, fmt.Errorf("length mismatch: %d score rows, %d targets", len(lprobs), len(target))
	}

	lossOut = make([]float64, len(target))
	nllOut = make([]float64, len(target))

	for i, row := range lprobs {
		t := target[i]
		if t == ignoreIndex {
			continue
		}
		if t < 0 || t >= len(row) {
			return nil, nil, fmt.Errorf("target %d out of range at position %d (%d classes)", t, i, len(row))
		}

		nll := -row[t]

		smooth := 0.0
		for _, lp := range row {
			smooth -= lp
		}

		epsI := 0.0
		if len(row) > 1 {
			epsI = epsilon / float64(len(row)-1)
		}

		nllOut[i] = nll
		lossOut[i] = (1.0-epsilon-epsI)*nll + epsI*smooth
	}

	return lossOut, nllOut, nil
}

// Compute scores one sequence. mask restricts the positions that count
// toward the loss (nil means every non-pad position); weights scale
// per-position losses (nil means uniform).
func Compute(scores [][]float64, target []int, mask []bool, weights []float64, epsilon float64) (*Result, error) {
	if mask != nil && len(mask) != len(target) {
		return nil, fmt.Errorf("length mismatch: %d mask entries, %d targets", len(mask), len(target))
	}
	if weights != nil && len(weights) != len(target) {
		return nil, fmt.Errorf("length mismatch: %d weights, %d targets", len(weights), len(target))
	}

	lprobs := make([][]float64, len(scores))
	for i, row := range scores {
		lprobs[i] = LogSoftmax(row)
	}

	lossPos, nllPos, err := LabelSmoothedNLL(lprobs, target, epsilon, PadIndex)
	if err != nil {
		return nil, err
	}

	result := &Result{
		NumTokens: len(target),
		Sequences: 1,
	}

	for i := range target {
		if target[i] != PadIndex {
			result.NumNonpad++
		}

		// Sample size follows the mask when one is given, even over pad
		// positions (their loss is zero); otherwise it is the non-pad count.
		if mask != nil {
			if !mask[i] {
				continue
			}
		} else if target[i] == PadIndex {
			continue
		}

		l, n := lossPos[i], nllPos[i]
		if weights != nil {
			l *= weights[i]
			n *= weights[i]
		}

		result.LossSum += l
		result.NLLSum += n
		result.SampleSize++
	}

	return result, nil
}
