// Package search — движок запросов: три режима поиска поверх одного
// индекса image-эмбеддингов, шлюзы проверки входа и форматирование выдачи.
package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/kaatchi-tech/search-engine/internal/cfg"
	"github.com/kaatchi-tech/search-engine/internal/domain"
	"github.com/kaatchi-tech/search-engine/internal/index"
	"github.com/kaatchi-tech/search-engine/internal/vision"
	"github.com/kaatchi-tech/search-engine/pkg/e"
	"github.com/kaatchi-tech/search-engine/pkg/logger"
)

// Коэффициенты перевыборки: индекс опрашивается с запасом, чтобы
// цветовая приоритизация и объединение с каталогом не оставили
// выдачу короче запрошенного topK.
const (
	textOverfetch  = 2
	imageOverfetch = 3
)

// nonFashionKeywords отсекает текстовые запросы не о моде до кодирования.
var nonFashionKeywords = map[string]struct{}{}

func init() {
	for _, keyword := range []string{
		"car", "bike", "truck", "phone", "laptop", "computer", "tablet", "dog", "cat", "animal", "food",
		"pizza", "burger", "pasta", "fruit", "vegetable", "plant", "tree", "house", "apartment", "building",
		"city", "river", "ocean", "mountain", "road", "bridge", "train", "airplane", "boat", "ship",
		"microwave", "fridge", "washing machine", "television", "radio", "printer", "keyboard", "mouse",
		"book", "pen", "notebook", "paper", "chair", "table", "sofa", "bed", "lamp", "clock",
		"painting", "art", "sculpture", "music", "guitar", "piano", "violin", "camera", "drone",
		"candle", "mirror", "glass", "bottle", "cup", "plate", "basket", "toy", "game", "football",
		"basketball", "tennis", "rugby", "volleyball", "badminton", "hockey", "cricket", "wrestling",
	} {
		nonFashionKeywords[keyword] = struct{}{}
	}
}

// Encoder — контракт кодировщика со стороны движка запросов.
type Encoder interface {
	EncodeText(ctx context.Context, text string) ([]float32, error)
	EncodeImage(ctx context.Context, image []byte) ([]float32, error)
}

// ImageValidator — шлюз проверки изображения.
type ImageValidator interface {
	Validate(ctx context.Context, image []byte, checkRotation bool) *domain.ValidationResult
}

// CoherenceChecker — шлюз согласованности текста и изображения.
type CoherenceChecker interface {
	Check(ctx context.Context, query string, image []byte) *domain.CoherenceResult
}

// ResultCache — необязательный кэш готовой выдачи.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]domain.SearchResult, bool)
	Set(ctx context.Context, key string, results []domain.SearchResult)
}

// EventRecorder — необязательный приёмник аналитических событий.
type EventRecorder interface {
	Record(ctx context.Context, event domain.SearchEvent)
}

// Deps — зависимости движка запросов. Cache и Events могут быть nil.
type Deps struct {
	Encoder   Encoder
	Index     index.Index
	Validator ImageValidator
	Coherence CoherenceChecker
	Formatter *Formatter
	Cache     ResultCache
	Events    EventRecorder
	Cfg       *cfg.SearchCfg
	Logger    logger.Logger
}

// Service выполняет поиск по каталогу в трёх режимах.
type Service struct {
	deps Deps
}

func NewService(deps Deps) *Service {
	return &Service{deps: deps}
}

// SearchText — текстовый поиск: текстовая башня против image-эмбеддингов.
func (s *Service) SearchText(ctx context.Context, query string, topK int) ([]domain.SearchResult, error) {
	const op = "search.Service.SearchText"

	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, e.Wrap(op, e.ErrEmptyQuery)
	}
	if containsNonFashionKeyword(query) {
		return nil, e.Wrap(op, e.ErrQueryNotFashion)
	}
	topK = s.clampTopK(topK)

	key := cacheKey(domain.ModeText, query, nil, topK, nil)
	if cached, ok := s.cacheGet(ctx, key); ok {
		return cached, nil
	}

	results, err := s.textSearch(ctx, query, topK, nil)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	// Пустая выдача пробует один повтор с обобщённым термином
	if len(results) == 0 {
		if general := FallbackTerm(query); general != "" && general != query {
			s.deps.Logger.Debugf("no results for %q, retrying with general term %q", query, general)
			results, err = s.textSearch(ctx, general, topK, nil)
			if err != nil {
				return nil, e.Wrap(op, err)
			}
		}
	}

	s.cacheSet(ctx, key, results)
	s.record(ctx, domain.ModeText, true, topK, len(results), start)

	return results, nil
}

// SearchImage — поиск по изображению. Изображение сперва проходит шлюз
// проверки на принадлежность к моде; отклонённое изображение не ищется.
func (s *Service) SearchImage(ctx context.Context, image []byte, topK int, dominantColors []string) ([]domain.SearchResult, error) {
	const op = "search.Service.SearchImage"

	start := time.Now()
	if len(image) == 0 {
		return nil, e.Wrap(op, e.ErrImageRequired)
	}
	topK = s.clampTopK(topK)

	validation := s.deps.Validator.Validate(ctx, image, false)
	if !validation.IsValid {
		return nil, e.Wrap(op, e.ErrImageNotFashion)
	}
	if len(dominantColors) == 0 {
		dominantColors = validation.DominantColors
	}

	key := cacheKey(domain.ModeImage, "", image, topK, dominantColors)
	if cached, ok := s.cacheGet(ctx, key); ok {
		return cached, nil
	}

	vector, err := s.deps.Encoder.EncodeImage(ctx, image)
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	domain.Normalize(vector)

	hits, err := s.deps.Index.Search(ctx, vector, topK*imageOverfetch)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	results := s.deps.Formatter.Format(hits, dominantColors, topK)

	s.cacheSet(ctx, key, results)
	s.record(ctx, domain.ModeImage, false, topK, len(results), start)

	return results, nil
}

// SearchMultimodal — совместный поиск: нормированное среднее векторов
// двух башен. Несогласованность текста и изображения не блокирует поиск,
// только логируется.
func (s *Service) SearchMultimodal(ctx context.Context, query string, image []byte, topK int, dominantColors []string) ([]domain.SearchResult, error) {
	const op = "search.Service.SearchMultimodal"

	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, e.Wrap(op, e.ErrEmptyQuery)
	}
	if len(image) == 0 {
		return nil, e.Wrap(op, e.ErrImageRequired)
	}
	topK = s.clampTopK(topK)

	coherence := s.deps.Coherence.Check(ctx, query, image)
	if !coherence.IsCoherent {
		s.deps.Logger.Warnf("text query and image may not be coherent, similarity: %v", float64(coherence.Similarity))
	}

	if len(dominantColors) == 0 {
		if img, err := vision.DecodeImage(image); err == nil {
			dominantColors = vision.ExtractDominantColors(img)
		}
	}

	key := cacheKey(domain.ModeMultimodal, query, image, topK, dominantColors)
	if cached, ok := s.cacheGet(ctx, key); ok {
		return cached, nil
	}

	textVector, err := s.deps.Encoder.EncodeText(ctx, query)
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	imageVector, err := s.deps.Encoder.EncodeImage(ctx, image)
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	domain.Normalize(textVector)
	domain.Normalize(imageVector)
	fused := domain.Mean(textVector, imageVector)

	hits, err := s.deps.Index.Search(ctx, fused, topK*imageOverfetch)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	results := s.deps.Formatter.Format(hits, dominantColors, topK)

	// Пустая мультимодальная выдача откатывается к текстовому поиску
	// по обобщённому термину
	if len(results) == 0 {
		if general := FallbackTerm(query); general != "" {
			s.deps.Logger.Debugf("no multimodal results for %q, retrying text search with %q", query, general)
			results, err = s.textSearch(ctx, general, topK, dominantColors)
			if err != nil {
				return nil, e.Wrap(op, err)
			}
		}
	}

	s.cacheSet(ctx, key, results)
	s.record(ctx, domain.ModeMultimodal, true, topK, len(results), start)

	return results, nil
}

// textSearch — общий проход текстового запроса без фильтров и fallback.
func (s *Service) textSearch(ctx context.Context, query string, topK int, dominantColors []string) ([]domain.SearchResult, error) {
	vector, err := s.deps.Encoder.EncodeText(ctx, query)
	if err != nil {
		return nil, err
	}
	domain.Normalize(vector)

	hits, err := s.deps.Index.Search(ctx, vector, topK*textOverfetch)
	if err != nil {
		return nil, err
	}

	return s.deps.Formatter.Format(hits, dominantColors, topK), nil
}

func (s *Service) clampTopK(topK int) int {
	if topK <= 0 {
		topK = s.deps.Cfg.DefaultTopK
	}
	if topK > s.deps.Cfg.MaxTopK {
		topK = s.deps.Cfg.MaxTopK
	}
	return topK
}

func (s *Service) cacheGet(ctx context.Context, key string) ([]domain.SearchResult, bool) {
	if s.deps.Cache == nil {
		return nil, false
	}
	return s.deps.Cache.Get(ctx, key)
}

func (s *Service) cacheSet(ctx context.Context, key string, results []domain.SearchResult) {
	if s.deps.Cache == nil {
		return
	}
	s.deps.Cache.Set(ctx, key, results)
}

func (s *Service) record(ctx context.Context, mode domain.SearchMode, hasQuery bool, topK, resultCount int, start time.Time) {
	if s.deps.Events == nil {
		return
	}
	s.deps.Events.Record(ctx, domain.SearchEvent{
		Mode:        mode,
		HasQuery:    hasQuery,
		TopK:        topK,
		ResultCount: resultCount,
		DurationMs:  time.Since(start).Milliseconds(),
	})
}

// containsNonFashionKeyword проверяет слова запроса по стоп-словарю.
func containsNonFashionKeyword(query string) bool {
	for _, word := range strings.Fields(strings.ToLower(query)) {
		if _, ok := nonFashionKeywords[word]; ok {
			return true
		}
	}
	return false
}

// FallbackTerm возвращает обобщённый термин категории для повторного
// поиска при пустой выдаче. Неизвестный запрос обобщается до первого слова.
func FallbackTerm(query string) string {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return ""
	}

	has := func(words ...string) bool {
		for _, word := range words {
			for _, term := range terms {
				if term == word {
					return true
				}
			}
		}
		return false
	}

	switch {
	case has("pants", "pant", "trousers"):
		return "pants"
	case has("shirt", "tshirt", "t-shirt"):
		return "shirt"
	case has("dress"):
		return "dress"
	case has("jacket", "coat"):
		return "jacket"
	case has("shoes", "sneakers", "footwear"):
		return "shoes"
	case has("watch", "watches"):
		return "watch"
	default:
		return terms[0]
	}
}

// cacheKey — отпечаток запроса: режим, текст, дайджест изображения,
// topK и целевые цвета.
func cacheKey(mode domain.SearchMode, query string, image []byte, topK int, colors []string) string {
	h := sha256.New()
	h.Write([]byte(mode))
	h.Write([]byte{0})
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write(image)
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(topK)))
	for _, color := range colors {
		h.Write([]byte{0})
		h.Write([]byte(color))
	}
	return "search:" + hex.EncodeToString(h.Sum(nil))
}
