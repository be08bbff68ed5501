// Package encoder — клиент сервиса кодировщика CLIP.
// Сервис поднимается отдельно (inference-сервер с OpenAI-совместимым
// embeddings API); обе башни модели доступны через один эндпоинт:
// текст передаётся как есть, изображение — как data URI.
package encoder

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/kaatchi-tech/search-engine/internal/cfg"
	"github.com/kaatchi-tech/search-engine/pkg/e"
	"github.com/kaatchi-tech/search-engine/pkg/jitter"
	"github.com/kaatchi-tech/search-engine/pkg/logger"
	openai "github.com/sashabaranov/go-openai"
)

// Client выполняет запросы эмбеддинга с retry-логикой и экспоненциальной задержкой.
type Client struct {
	api           *openai.Client
	model         string
	vectorSize    int
	maxConcurrent int
	maxRetries    int
	logger        logger.Logger
}

func NewClient(cfg *cfg.EncoderCfg, log logger.Logger) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = cfg.BaseURL
	apiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{
		api:           openai.NewClientWithConfig(apiCfg),
		model:         cfg.Model,
		vectorSize:    cfg.VectorSize,
		maxConcurrent: cfg.MaxConcurrent,
		maxRetries:    cfg.MaxRetries,
		logger:        log,
	}
}

// EncodeTexts кодирует батч текстов за один запрос, сохраняя порядок входа.
func (c *Client) EncodeTexts(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "encoder.EncodeTexts"

	if len(texts) == 0 {
		return nil, e.Wrap(op, e.ErrEmptyQuery)
	}

	vectors, err := c.embedWithRetry(ctx, texts)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	return vectors, nil
}

// EncodeText кодирует один текстовый запрос.
func (c *Client) EncodeText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EncodeTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EncodeImage кодирует изображение башней изображений.
func (c *Client) EncodeImage(ctx context.Context, image []byte) ([]float32, error) {
	const op = "encoder.EncodeImage"

	uri, err := imageDataURI(image)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	vectors, err := c.embedWithRetry(ctx, []string{uri})
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	return vectors[0], nil
}

// EncodeImageBatch кодирует изображения параллельно с ограничением конкурентности.
// Порядок результата совпадает с порядком входа: выравнивание по строкам
// каталога держится именно на этом.
func (c *Client) EncodeImageBatch(ctx context.Context, images [][]byte) ([][]float32, error) {
	const op = "encoder.EncodeImageBatch"

	var (
		vectors  = make([][]float32, len(images))
		firstErr error
		mu       sync.Mutex
		wg       sync.WaitGroup
		sem      = make(chan struct{}, c.maxConcurrent)
	)

	for i, image := range images {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			vector, err := c.EncodeImage(ctx, image)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			vectors[i] = vector
		}()
	}

	wg.Wait()

	if firstErr != nil {
		return nil, e.Wrap(op, firstErr)
	}

	return vectors, nil
}

// embedWithRetry выполняет запрос эмбеддинга с повторами и джиттером.
func (c *Client) embedWithRetry(ctx context.Context, inputs []string) ([][]float32, error) {
	const (
		op         = "encoder.embedWithRetry"
		baseJitter = 1 * time.Second
		maxJitter  = 30 * time.Second
	)

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		vectors, err := c.embed(ctx, inputs)
		if err == nil {
			return vectors, nil
		}

		if attempt == c.maxRetries-1 {
			break
		}

		sleepTime := jitter.ExponentialBackoff(
			baseJitter,
			maxJitter,
			attempt,
			jitter.DefaultJitter,
		)

		c.logger.Warnf("embedding request failed, retrying in %v (attempt %d): %v", sleepTime, attempt+1, err)
		select {
		case <-time.After(sleepTime):
		case <-ctx.Done():
			return nil, e.Wrap(op, ctx.Err())
		}
	}

	return nil, e.Wrap(op, fmt.Errorf("all %d attempts failed: %w", c.maxRetries, e.ErrEncoderUnavailable))
}

func (c *Client) embed(ctx context.Context, inputs []string) ([][]float32, error) {
	const op = "encoder.embed"

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: inputs,
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	if len(resp.Data) != len(inputs) {
		return nil, e.Wrap(op, fmt.Errorf("expected %d embeddings, got %d", len(inputs), len(resp.Data)))
	}

	vectors := make([][]float32, len(inputs))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(inputs) {
			return nil, e.Wrap(op, fmt.Errorf("embedding index %d out of range", data.Index))
		}
		if len(data.Embedding) != c.vectorSize {
			return nil, e.Wrap(op, e.ErrVectorSizeMismatch)
		}
		vectors[data.Index] = data.Embedding
	}

	for i, vector := range vectors {
		if vector == nil {
			return nil, e.Wrap(op, fmt.Errorf("missing embedding for input %d", i))
		}
	}

	return vectors, nil
}

// imageDataURI упаковывает изображение в data URI для embeddings API.
func imageDataURI(image []byte) (string, error) {
	if len(image) == 0 {
		return "", e.ErrImageRequired
	}

	mime := http.DetectContentType(image)
	switch mime {
	case "image/jpeg", "image/png", "image/webp":
	default:
		return "", e.ErrUnsupportedMediaType
	}

	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image), nil
}
