// Package app собирает движок поиска из компонентов и выполняет запросы
// CLI-контракта: три режима поиска и два режима проверки, с JSON-ответом
// в stdout.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kaatchi-tech/search-engine/internal/analytics"
	"github.com/kaatchi-tech/search-engine/internal/catalog"
	"github.com/kaatchi-tech/search-engine/internal/cfg"
	"github.com/kaatchi-tech/search-engine/internal/domain"
	"github.com/kaatchi-tech/search-engine/internal/embeddings"
	"github.com/kaatchi-tech/search-engine/internal/encoder"
	"github.com/kaatchi-tech/search-engine/internal/index"
	redisrepo "github.com/kaatchi-tech/search-engine/internal/repository/redis"
	"github.com/kaatchi-tech/search-engine/internal/search"
	"github.com/kaatchi-tech/search-engine/internal/vision"
	"github.com/kaatchi-tech/search-engine/pkg/clients"
	"github.com/kaatchi-tech/search-engine/pkg/e"
	"github.com/kaatchi-tech/search-engine/pkg/logger"
)

// Режимы выполнения CLI-контракта.
const (
	ModeText       = "text"
	ModeImage      = "image"
	ModeMultimodal = "multimodal"
	ModeValidate   = "validate"
	ModeCoherence  = "coherence"
)

const ensureTopicTimeout = 10 * time.Second

// Request — один запрос CLI-контракта.
type Request struct {
	Mode           string
	Query          string
	ImagePath      string
	TopK           int
	DominantColors []string
	ColorDetection bool
	RotationCheck  bool
}

// Engine — движок поиска, собранный из загруженных артефактов.
// Инициализация явная: вызывающий создаёт движок один раз и выполняет
// запросы, ленивой подгрузки внутри операций нет.
type Engine struct {
	cfg       *cfg.Config
	logger    logger.Logger
	catalog   *catalog.Store
	service   *search.Service
	validator *vision.Validator
	coherence *vision.CoherenceChecker
	producer  *analytics.Producer
}

// NewEngine загружает каталог, артефакты и собирает движок.
// Отсутствие любого артефакта — отказ здесь, а не внутри запроса.
func NewEngine(config *cfg.Config, log logger.Logger) (*Engine, error) {
	const op = "app.NewEngine"

	store, err := catalog.Load(config.Dataset.MetadataFile, config.Dataset.ImageDir, log)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	emb, err := embeddings.Load(config.Dataset.EmbeddingsDir)
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	if len(emb.Image) != store.Len() {
		return nil, e.Wrap(op, e.ErrRowCatalogMismatch)
	}

	idx, err := buildIndex(config, store.Len())
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	enc := encoder.NewClient(config.Encoder, log)
	validator := vision.NewValidator(enc, log)
	coherence := vision.NewCoherenceChecker(enc, config.Search.CoherenceThreshold, log)
	formatter := search.NewFormatter(store, config.Search)

	var cache search.ResultCache
	if config.Redis != nil {
		cache = redisrepo.NewCacheRepo(clients.NewRedisClient(config.Redis), config.Redis, log)
	}

	var (
		events   search.EventRecorder
		producer *analytics.Producer
	)
	if config.Kafka != nil {
		producer = analytics.NewProducer(log, config.Kafka)
		// Аналитика — fire-and-forget: недоступный брокер не валит движок
		if err := producer.EnsureTopic(ensureTopicTimeout); err != nil {
			log.Warnf("failed to ensure analytics topic: %v", err)
		}
		events = producer
	}

	service := search.NewService(search.Deps{
		Encoder:   enc,
		Index:     idx,
		Validator: validator,
		Coherence: coherence,
		Formatter: formatter,
		Cache:     cache,
		Events:    events,
		Cfg:       config.Search,
		Logger:    log,
	})

	return &Engine{
		cfg:       config,
		logger:    log,
		catalog:   store,
		service:   service,
		validator: validator,
		coherence: coherence,
		producer:  producer,
	}, nil
}

// buildIndex выбирает реализацию индекса: Qdrant при настроенной базе,
// иначе локальный flat-файл.
func buildIndex(config *cfg.Config, catalogLen int) (index.Index, error) {
	if config.Qdrant != nil {
		client, err := index.NewQdrantClient(config.Qdrant)
		if err != nil {
			return nil, err
		}
		return index.NewQdrant(client, config.Qdrant), nil
	}

	flat, err := index.LoadFlat(config.Dataset.EmbeddingsDir)
	if err != nil {
		return nil, err
	}
	if flat.Len() != catalogLen {
		return nil, e.ErrRowCatalogMismatch
	}

	return flat, nil
}

// Close освобождает внешние соединения движка.
func (en *Engine) Close() error {
	if en.producer != nil {
		return en.producer.Close()
	}
	return nil
}

// Execute выполняет запрос и пишет JSON-ответ в out.
// Ошибки поиска, имеющие пользовательское объяснение, превращаются
// в конверт с полем error; остальные возвращаются вызывающему.
func (en *Engine) Execute(ctx context.Context, req *Request, out io.Writer) error {
	const op = "app.Engine.Execute"

	switch req.Mode {
	case ModeValidate:
		return en.executeValidate(ctx, req, out)
	case ModeCoherence:
		return en.executeCoherence(ctx, req, out)
	case ModeText, ModeImage, ModeMultimodal:
		return en.executeSearch(ctx, req, out)
	default:
		return e.Wrap(op, fmt.Errorf("unknown search type: %s", req.Mode))
	}
}

func (en *Engine) executeValidate(ctx context.Context, req *Request, out io.Writer) error {
	const op = "app.Engine.executeValidate"

	if req.ImagePath == "" {
		return e.Wrap(op, fmt.Errorf("image validation requires an image path: %w", e.ErrImageRequired))
	}

	image, err := os.ReadFile(req.ImagePath)
	if err != nil {
		return e.Wrap(op, err)
	}

	validation := en.validator.Validate(ctx, image, req.RotationCheck)

	if req.ColorDetection && len(validation.DominantColors) == 0 {
		if img, decodeErr := vision.DecodeImage(image); decodeErr == nil {
			validation.DominantColors = vision.ExtractDominantColors(img)
		}
	}

	return writeJSON(out, map[string]any{"validation": validation})
}

func (en *Engine) executeCoherence(ctx context.Context, req *Request, out io.Writer) error {
	const op = "app.Engine.executeCoherence"

	if req.ImagePath == "" || req.Query == "" {
		return e.Wrap(op, fmt.Errorf("coherence check requires both image path and query: %w", e.ErrImageRequired))
	}

	image, err := os.ReadFile(req.ImagePath)
	if err != nil {
		return e.Wrap(op, err)
	}

	coherence := en.coherence.Check(ctx, req.Query, image)

	return writeJSON(out, map[string]any{"coherence": coherence})
}

func (en *Engine) executeSearch(ctx context.Context, req *Request, out io.Writer) error {
	const op = "app.Engine.executeSearch"

	results, err := en.runSearch(ctx, req)
	if err != nil {
		if message := userMessage(err); message != "" {
			en.logger.Warnf("search rejected: %v", err)
			return writeJSON(out, searchEnvelope{Results: []domain.SearchResult{}, Error: message})
		}
		return e.Wrap(op, err)
	}

	if len(results) == 0 {
		return writeJSON(out, searchEnvelope{
			Results: []domain.SearchResult{},
			Error:   "I couldn't find any matching fashion items in our database. Could you try a different query or image?",
		})
	}

	return writeJSON(out, searchEnvelope{Results: results})
}

func (en *Engine) runSearch(ctx context.Context, req *Request) ([]domain.SearchResult, error) {
	switch req.Mode {
	case ModeText:
		if req.Query == "" {
			return nil, fmt.Errorf("text search requires a query: %w", e.ErrEmptyQuery)
		}
		return en.service.SearchText(ctx, req.Query, req.TopK)

	case ModeImage:
		if req.ImagePath == "" {
			return nil, fmt.Errorf("image search requires an image path: %w", e.ErrImageRequired)
		}
		image, err := os.ReadFile(req.ImagePath)
		if err != nil {
			return nil, err
		}
		return en.service.SearchImage(ctx, image, req.TopK, req.DominantColors)

	default:
		if req.Query == "" || req.ImagePath == "" {
			return nil, fmt.Errorf("multimodal search requires both query and image path: %w", e.ErrEmptyQuery)
		}
		image, err := os.ReadFile(req.ImagePath)
		if err != nil {
			return nil, err
		}
		return en.service.SearchMultimodal(ctx, req.Query, image, req.TopK, req.DominantColors)
	}
}

type searchEnvelope struct {
	Results []domain.SearchResult `json:"results"`
	Error   string                `json:"error,omitempty"`
}

// DataUnavailable сообщает, вызвана ли ошибка инициализации отсутствием
// артефактов данных: датасета, эмбеддингов или индекса.
func DataUnavailable(err error) bool {
	return errors.Is(err, e.ErrDatasetNotAvailable) ||
		errors.Is(err, e.ErrEmbeddingsNotAvailable) ||
		errors.Is(err, e.ErrIndexNotAvailable) ||
		errors.Is(err, e.ErrRowCatalogMismatch)
}

// WriteUnavailable пишет в out конверт недоступности данных, чтобы stdout
// оставался корректным JSON даже при отказе инициализации.
func WriteUnavailable(out io.Writer) error {
	return writeJSON(out, searchEnvelope{
		Results: []domain.SearchResult{},
		Error:   "The fashion dataset is not available. Please build the embeddings first.",
	})
}

// userMessage переводит отказы шлюзов в сообщения для пользователя.
// Пустая строка означает внутреннюю ошибку без пользовательского объяснения.
func userMessage(err error) string {
	switch {
	case errors.Is(err, e.ErrQueryNotFashion):
		return "Your query contains non-fashion-related terms. Please search for fashion-related products."
	case errors.Is(err, e.ErrImageNotFashion):
		return "The uploaded image does not appear to be fashion-related."
	default:
		return ""
	}
}

func writeJSON(out io.Writer, payload any) error {
	enc := json.NewEncoder(out)
	return enc.Encode(payload)
}
