package vision

import (
	"bytes"
	"context"
	"image"
	"math"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/kaatchi-tech/search-engine/internal/domain"
	"github.com/kaatchi-tech/search-engine/pkg/e"
	"github.com/kaatchi-tech/search-engine/pkg/logger"
)

// Encoder — минимальный контракт кодировщика, нужный проверкам.
type Encoder interface {
	EncodeTexts(ctx context.Context, texts []string) ([][]float32, error)
	EncodeImage(ctx context.Context, image []byte) ([]float32, error)
}

// Пороги решения zero-shot классификации.
const (
	fashionConfidence    = 0.35 // минимум для fashion-метки в топ-3
	accessoryConfidence  = 0.2  // минимум для метки аксессуара в топ-5
	nonFashionConfidence = 0.5  // top-1 не-fashion метка выше — жёсткий отказ
	topCategories        = 10
)

var fashionLabels = []string{
	"clothing", "fashion", "apparel", "wear", "dress", "shirt", "pants",
	"jeans", "t-shirt", "jacket", "coat", "sweater", "skirt", "blouse",
	"suit", "tie", "scarf", "hat", "cap", "shoes", "boots", "sneakers",
	"heels", "sandals", "accessories", "jewelry", "watch", "bag", "purse",
	"handbag", "backpack", "sunglasses", "glasses", "belt", "wallet",
}

var accessoryLabels = []string{
	"bag", "purse", "handbag", "backpack", "wallet", "accessories",
	"watch", "jewelry", "belt", "sunglasses", "glasses",
}

var nonFashionLabels = []string{
	"car", "vehicle", "landscape", "building", "food", "animal", "pet",
	"plant", "tree", "flower", "technology", "device", "furniture",
	"scenery", "nature", "mountain", "beach", "ocean", "river", "lake",
	"sky", "cloud", "road", "street", "city", "house", "apartment",
	"office", "restaurant", "cafe", "park", "garden", "forest", "desert",
	"logo", "symbol", "icon", "sign", "text", "diagram", "chart", "graph",
	"abstract", "pattern", "texture", "background", "wallpaper",
}

// fashionKeywords отбирает метки, по которым оценивается уверенность
// лучшего поворота при коррекции ориентации.
var fashionKeywords = []string{
	"clothing", "fashion", "apparel", "wear", "dress", "shirt", "pants",
	"jeans", "jacket", "shoes", "accessories",
}

var (
	fashionSet    = toSet(fashionLabels)
	accessorySet  = toSet(accessoryLabels)
	nonFashionSet = toSet(nonFashionLabels)
)

func toSet(labels []string) map[string]struct{} {
	set := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		set[label] = struct{}{}
	}
	return set
}

// Validator — zero-shot проверка изображения на принадлежность к моде.
// Эмбеддинги словаря меток считаются один раз и переиспользуются.
type Validator struct {
	enc    Encoder
	logger logger.Logger

	labels       []string
	labelVectors [][]float32
}

func NewValidator(enc Encoder, log logger.Logger) *Validator {
	return &Validator{
		enc:    enc,
		logger: log,
		labels: append(append([]string{}, fashionLabels...), nonFashionLabels...),
	}
}

// Validate классифицирует изображение по объединённому словарю меток.
// Любая ошибка классификации закрывает шлюз: изображение считается
// не относящимся к моде, а не пропускается молча.
func (v *Validator) Validate(ctx context.Context, image []byte, checkRotation bool) *domain.ValidationResult {
	result, err := v.classify(ctx, image)
	if err != nil {
		v.logger.Warnf("image validation failed closed: %v", err)
		return &domain.ValidationResult{IsValid: false, Categories: []domain.CategoryScore{}}
	}

	if img, err := DecodeImage(image); err == nil {
		result.DominantColors = ExtractDominantColors(img)
	}

	if !result.IsValid && checkRotation {
		v.validateRotations(ctx, image, result)
	}

	return result
}

// validateRotations перебирает ориентации изображения в памяти и прикрепляет
// лучшую принятую ориентацию к результату. Принятая ориентация делает
// изображение валидным: считается, что исходник был повёрнут при съёмке.
func (v *Validator) validateRotations(ctx context.Context, original []byte, result *domain.ValidationResult) {
	img, err := DecodeImage(original)
	if err != nil {
		return
	}

	rotations := []struct {
		name string
		img  image.Image
	}{
		{"90_degrees", imaging.Rotate90(img)},
		{"180_degrees", imaging.Rotate180(img)},
		{"270_degrees", imaging.Rotate270(img)},
		{"flipped", imaging.FlipV(img)},
		{"mirrored", imaging.FlipH(img)},
	}

	var (
		best           *domain.RotatedValidation
		bestConfidence float64
	)

	for _, rotation := range rotations {
		encoded, err := encodeJPEG(rotation.img)
		if err != nil {
			continue
		}

		rotated, err := v.classify(ctx, encoded)
		if err != nil {
			v.logger.Warnf("rotated validation failed (%s): %v", rotation.name, err)
			continue
		}

		confidence := rotationConfidence(rotated)
		if confidence > bestConfidence {
			bestConfidence = confidence
			best = &domain.RotatedValidation{
				IsValid:    true,
				Rotation:   rotation.name,
				Categories: rotated.Categories,
			}
		}
	}

	if best != nil {
		result.IsValid = true
		result.Rotated = best
	}
}

// rotationConfidence возвращает уверенность принятой ориентации либо 0.
// Ориентация принимается как полноценный fashion-результат или как
// аксессуар в топ-5 с пониженным порогом.
func rotationConfidence(rotated *domain.ValidationResult) float64 {
	if rotated.IsValid {
		confidence := 0.0
		for i, category := range rotated.Categories {
			if i == 3 {
				break
			}
			for _, keyword := range fashionKeywords {
				if strings.Contains(strings.ToLower(category.Name), keyword) {
					if float64(category.Confidence) > confidence {
						confidence = float64(category.Confidence)
					}
				}
			}
		}
		return confidence
	}

	for i, category := range rotated.Categories {
		if i == 5 {
			break
		}
		if _, ok := accessorySet[category.Name]; ok && float64(category.Confidence) > accessoryConfidence {
			return float64(category.Confidence)
		}
	}

	return 0
}

// classify считает softmax по косинусным близостям изображения ко всем
// меткам словаря и применяет решающее правило к топ-10.
func (v *Validator) classify(ctx context.Context, image []byte) (*domain.ValidationResult, error) {
	const op = "vision.Validator.classify"

	labelVectors, err := v.labelEmbeddings(ctx)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	imageVector, err := v.enc.EncodeImage(ctx, image)
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	domain.Normalize(imageVector)

	scores := softmax(logits(imageVector, labelVectors))

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		if scores[order[i]] != scores[order[j]] {
			return scores[order[i]] > scores[order[j]]
		}
		return order[i] < order[j]
	})

	top := topCategories
	if top > len(order) {
		top = len(order)
	}

	categories := make([]domain.CategoryScore, 0, top)
	for _, idx := range order[:top] {
		categories = append(categories, domain.CategoryScore{
			Name:       v.labels[idx],
			Confidence: domain.Similarity(scores[idx]),
		})
	}

	isFashion := false
	for i, category := range categories {
		if i == 3 {
			break
		}
		if _, ok := fashionSet[category.Name]; ok && float64(category.Confidence) > fashionConfidence {
			isFashion = true
			break
		}
	}

	isAccessory := false
	for i, category := range categories {
		if i == 5 {
			break
		}
		if _, ok := accessorySet[category.Name]; ok && float64(category.Confidence) > accessoryConfidence {
			isAccessory = true
			break
		}
	}

	definitelyNonFashion := false
	if len(categories) > 0 {
		if _, ok := nonFashionSet[categories[0].Name]; ok && float64(categories[0].Confidence) > nonFashionConfidence {
			definitelyNonFashion = true
		}
	}

	return &domain.ValidationResult{
		IsValid:     (isFashion && !definitelyNonFashion) || isAccessory,
		IsAccessory: isAccessory,
		Categories:  categories,
	}, nil
}

// labelEmbeddings лениво кодирует и кэширует словарь меток.
func (v *Validator) labelEmbeddings(ctx context.Context) ([][]float32, error) {
	if v.labelVectors != nil {
		return v.labelVectors, nil
	}

	vectors, err := v.enc.EncodeTexts(ctx, v.labels)
	if err != nil {
		return nil, err
	}
	for _, vector := range vectors {
		domain.Normalize(vector)
	}

	v.labelVectors = vectors
	return vectors, nil
}

// logits — косинусные близости, умноженные на температурный множитель CLIP.
func logits(imageVector []float32, labelVectors [][]float32) []float64 {
	out := make([]float64, len(labelVectors))
	for i, labelVector := range labelVectors {
		out[i] = 100 * float64(domain.Dot(imageVector, labelVector))
	}
	return out
}

func softmax(values []float64) []float64 {
	max := math.Inf(-1)
	for _, v := range values {
		if v > max {
			max = v
		}
	}

	sum := 0.0
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = math.Exp(v - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}

	return out
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
