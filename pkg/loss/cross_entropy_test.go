package loss

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogSoftmaxNormalizes(t *testing.T) {
	lprobs := LogSoftmax([]float64{1.0, 2.0, 3.0})

	sum := 0.0
	for _, lp := range lprobs {
		sum += math.Exp(lp)
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	// Larger score, larger log probability.
	assert.Greater(t, lprobs[2], lprobs[1])
	assert.Greater(t, lprobs[1], lprobs[0])
}

func TestLogSoftmaxUniform(t *testing.T) {
	lprobs := LogSoftmax([]float64{5.0, 5.0, 5.0, 5.0})

	for _, lp := range lprobs {
		assert.InDelta(t, -math.Log(4), lp, 1e-9)
	}
}

func TestComputeUniformLogitsGiveLogCPerplexity(t *testing.T) {
	// Uniform scores over 20 classes: NLL is ln(20) everywhere, so the
	// perplexity equals the class count.
	row := make([]float64, 20)
	scores := [][]float64{row, row, row}
	target := []int{0, 7, 19}

	result, err := Compute(scores, target, nil, nil, 0.0)
	require.NoError(t, err)

	assert.InDelta(t, math.Log(20), result.NLL(), 1e-9)
	assert.InDelta(t, 20.0, result.Perplexity(), 1e-6)
	assert.Equal(t, 3.0, result.SampleSize)
	assert.Equal(t, 3, result.NumNonpad)
	assert.InDelta(t, 1.0, result.NonpadRatio(), 1e-9)
}

func TestLabelSmoothedNLLMatchesHandComputation(t *testing.T) {
	lprobs := [][]float64{LogSoftmax([]float64{2.0, 0.0, -1.0})}
	target := []int{0}
	epsilon := 0.1

	lossPos, nllPos, err := LabelSmoothedNLL(lprobs, target, epsilon, PadIndex)
	require.NoError(t, err)

	nll := -lprobs[0][0]
	smooth := -(lprobs[0][0] + lprobs[0][1] + lprobs[0][2])
	epsI := epsilon / 2.0
	want := (1.0-epsilon-epsI)*nll + epsI*smooth

	assert.InDelta(t, nll, nllPos[0], 1e-12)
	assert.InDelta(t, want, lossPos[0], 1e-12)
}

func TestComputeIgnoresPadPositions(t *testing.T) {
	scores := [][]float64{
		{1.0, 0.0},
		{0.0, 1.0},
		{5.0, 5.0},
	}
	target := []int{0, 1, PadIndex}

	result, err := Compute(scores, target, nil, nil, 0.0)
	require.NoError(t, err)

	assert.Equal(t, 2.0, result.SampleSize)
	assert.Equal(t, 2, result.NumNonpad)
	assert.Equal(t, 3, result.NumTokens)
	assert.InDelta(t, 2.0/3.0, result.NonpadRatio(), 1e-9)
	assert.InDelta(t, 2.0/3.0, result.SampleRatio(), 1e-9)
}

func TestComputeMaskRestrictsSampleSize(t *testing.T) {
	scores := [][]float64{
		{1.0, 0.0},
		{0.0, 1.0},
	}
	target := []int{0, 1}

	full, err := Compute(scores, target, nil, nil, 0.0)
	require.NoError(t, err)

	masked, err := Compute(scores, target, []bool{true, false}, nil, 0.0)
	require.NoError(t, err)

	assert.Equal(t, 1.0, masked.SampleSize)
	assert.Less(t, masked.NLLSum, full.NLLSum)

	// Only the first position contributes.
	only, err := Compute(scores[:1], target[:1], nil, nil, 0.0)
	require.NoError(t, err)
	assert.InDelta(t, only.NLLSum, masked.NLLSum, 1e-12)
}

func TestComputeWeightsScaleLoss(t *testing.T) {
	scores := [][]float64{
		{1.0, 0.0},
		{0.0, 1.0},
	}
	target := []int{0, 1}

	plain, err := Compute(scores, target, nil, nil, 0.0)
	require.NoError(t, err)

	doubled, err := Compute(scores, target, nil, []float64{2.0, 2.0}, 0.0)
	require.NoError(t, err)

	assert.InDelta(t, 2.0*plain.LossSum, doubled.LossSum, 1e-12)
	assert.InDelta(t, 2.0*plain.NLLSum, doubled.NLLSum, 1e-12)
	// Weights scale the loss, not the sample size.
	assert.Equal(t, plain.SampleSize, doubled.SampleSize)
}

func TestComputeRejectsBadShapes(t *testing.T) {
	scores := [][]float64{{1.0, 0.0}}

	_, err := Compute(scores, []int{0, 1}, nil, nil, 0.0)
	assert.Error(t, err)

	_, err = Compute(scores, []int{0}, []bool{true, false}, nil, 0.0)
	assert.Error(t, err)

	_, err = Compute(scores, []int{0}, nil, []float64{1.0, 1.0}, 0.0)
	assert.Error(t, err)

	_, err = Compute(scores, []int{5}, nil, nil, 0.0)
	assert.Error(t, err)
}

func TestResultMerge(t *testing.T) {
	a := &Result{LossSum: 2, NLLSum: 1, SampleSize: 2, NumTokens: 4, NumNonpad: 2, Sequences: 1}
	b := &Result{LossSum: 4, NLLSum: 3, SampleSize: 2, NumTokens: 2, NumNonpad: 2, Sequences: 1}

	a.Merge(b)

	assert.Equal(t, 6.0, a.LossSum)
	assert.Equal(t, 4.0, a.NLLSum)
	assert.Equal(t, 4.0, a.SampleSize)
	assert.Equal(t, 6, a.NumTokens)
	assert.Equal(t, 2, a.Sequences)
	assert.InDelta(t, 1.0, a.NLL(), 1e-12)
}

func TestResultEmpty(t *testing.T) {
	r := &Result{}
	assert.Equal(t, 0.0, r.Loss())
	assert.Equal(t, 0.0, r.NLL())
	assert.Equal(t, 0.0, r.SampleRatio())
	assert.Equal(t, 0.0, r.NonpadRatio())
	assert.InDelta(t, 1.0, r.Perplexity(), 1e-12)
}
