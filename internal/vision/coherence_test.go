package vision

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/kaatchi-tech/search-engine/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pairEncoder отдаёт фиксированные векторы текста и изображения.
type pairEncoder struct {
	text  []float32
	image []float32
	err   error
}

func (p *pairEncoder) EncodeTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if p.err != nil {
		return nil, p.err
	}
	return [][]float32{p.text}, nil
}

func (p *pairEncoder) EncodeImage(ctx context.Context, image []byte) ([]float32, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.image, nil
}

func pairWithCosine(cosine float64) *pairEncoder {
	return &pairEncoder{
		text:  []float32{1, 0},
		image: []float32{float32(cosine), float32(math.Sqrt(1 - cosine*cosine))},
	}
}

func TestCoherenceAboveThreshold(t *testing.T) {
	c := NewCoherenceChecker(pairWithCosine(0.5), 0.2, logger.NewQuietLogger())

	result := c.Check(context.Background(), "blue denim jacket", []byte("img"))

	assert.True(t, result.IsCoherent)
	assert.InDelta(t, 0.5, float64(result.Similarity), 1e-6)
}

func TestCoherenceAtThresholdIsCoherent(t *testing.T) {
	// Идентичные векторы дают близость ровно 1.0: порог 1.0 проверяет,
	// что граница включается в согласованность
	c := NewCoherenceChecker(&pairEncoder{text: []float32{1, 0}, image: []float32{1, 0}}, 1.0, logger.NewQuietLogger())

	result := c.Check(context.Background(), "red dress", []byte("img"))

	assert.True(t, result.IsCoherent)
	assert.InDelta(t, 1.0, float64(result.Similarity), 1e-9)
}

func TestCoherenceBelowThreshold(t *testing.T) {
	c := NewCoherenceChecker(pairWithCosine(0.1), 0.2, logger.NewQuietLogger())

	result := c.Check(context.Background(), "black sneakers", []byte("img"))

	assert.False(t, result.IsCoherent)
	assert.InDelta(t, 0.1, float64(result.Similarity), 1e-6)
}

func TestCoherenceFailsOpenOnEncoderError(t *testing.T) {
	c := NewCoherenceChecker(&pairEncoder{err: errors.New("encoder down")}, 0.2, logger.NewQuietLogger())

	result := c.Check(context.Background(), "red dress", []byte("img"))

	require.NotNil(t, result)
	assert.True(t, result.IsCoherent)
	assert.InDelta(t, 1.0, float64(result.Similarity), 1e-9)
}
