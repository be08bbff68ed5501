package vision

import (
	"context"

	"github.com/kaatchi-tech/search-engine/internal/domain"
	"github.com/kaatchi-tech/search-engine/pkg/logger"
)

// CoherenceChecker сравнивает текстовый запрос и изображение напрямую:
// косинусная близость нормированных векторов двух башен без softmax.
type CoherenceChecker struct {
	enc       Encoder
	threshold float64
	logger    logger.Logger
}

func NewCoherenceChecker(enc Encoder, threshold float64, log logger.Logger) *CoherenceChecker {
	return &CoherenceChecker{
		enc:       enc,
		threshold: threshold,
		logger:    log,
	}
}

// Check возвращает близость запроса и изображения и вердикт по порогу.
// Близость, равная порогу, считается согласованной. Ошибка кодирования
// открывает шлюз: пара признаётся согласованной с близостью 1.0, отказ
// кодировщика не должен блокировать мультимодальный поиск.
func (c *CoherenceChecker) Check(ctx context.Context, query string, image []byte) *domain.CoherenceResult {
	result, err := c.check(ctx, query, image)
	if err != nil {
		c.logger.Warnf("coherence check failed open: %v", err)
		return &domain.CoherenceResult{Similarity: 1.0, IsCoherent: true}
	}

	return result
}

func (c *CoherenceChecker) check(ctx context.Context, query string, image []byte) (*domain.CoherenceResult, error) {
	textVector, err := c.enc.EncodeTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	imageVector, err := c.enc.EncodeImage(ctx, image)
	if err != nil {
		return nil, err
	}

	domain.Normalize(textVector[0])
	domain.Normalize(imageVector)

	similarity := float64(domain.Dot(textVector[0], imageVector))

	return &domain.CoherenceResult{
		Similarity: domain.Similarity(similarity),
		IsCoherent: similarity >= c.threshold,
	}, nil
}
