package search

import (
	"hash/fnv"
	"math"
	"sort"
	"strings"

	"github.com/kaatchi-tech/search-engine/internal/catalog"
	"github.com/kaatchi-tech/search-engine/internal/cfg"
	"github.com/kaatchi-tech/search-engine/internal/domain"
	"github.com/kaatchi-tech/search-engine/internal/index"
	"github.com/kaatchi-tech/search-engine/internal/vision"
	"github.com/shopspring/decimal"
)

// brandEntry — известный бренд, распознаваемый по подстроке имени позиции.
type brandEntry struct {
	key  string
	name string
}

var knownBrands = []brandEntry{
	{"adidas", "ADIDAS"},
	{"nike", "Nike"},
	{"puma", "Puma"},
	{"reebok", "Reebok"},
	{"levis", "Levi's"},
	{"h&m", "H&M"},
	{"zara", "Zara"},
	{"gap", "GAP"},
	{"tommy", "Tommy Hilfiger"},
	{"calvin", "Calvin Klein"},
	{"gucci", "Gucci"},
	{"armani", "Armani"},
	{"tantra", "Tantra"},
	{"locomotive", "Locomotive"},
	{"mr.men", "Mr.Men"},
}

// priceBand — диапазон цены для типа изделия.
type priceBand struct {
	min decimal.Decimal
	max decimal.Decimal
}

func band(min, max string) priceBand {
	return priceBand{
		min: decimal.RequireFromString(min),
		max: decimal.RequireFromString(max),
	}
}

var priceBands = map[string]priceBand{
	"Tshirts":  band("19.99", "39.99"),
	"Shirts":   band("29.99", "59.99"),
	"Jeans":    band("39.99", "79.99"),
	"Trousers": band("34.99", "69.99"),
	"Jackets":  band("49.99", "129.99"),
	"Sweaters": band("39.99", "89.99"),
	"Dresses":  band("44.99", "99.99"),
	"Skirts":   band("29.99", "69.99"),
	"Shorts":   band("24.99", "49.99"),
	"Shoes":    band("59.99", "149.99"),
	"Watches":  band("99.99", "299.99"),
	"Bags":     band("49.99", "199.99"),
}

var defaultPriceBand = band("19.99", "119.99")

var materialsByArticleType = map[string][]string{
	"Tshirts":  {"Cotton", "Cotton Blend", "Polyester", "Jersey Knit"},
	"Shirts":   {"Cotton", "Linen", "Polyester Blend", "Oxford Cloth"},
	"Jeans":    {"Denim", "Stretch Denim", "Cotton Denim"},
	"Trousers": {"Cotton", "Polyester", "Wool Blend", "Khaki"},
	"Jackets":  {"Leather", "Denim", "Polyester", "Nylon", "Cotton"},
	"Sweaters": {"Wool", "Cotton", "Cashmere", "Acrylic"},
	"Dresses":  {"Cotton", "Polyester", "Silk", "Chiffon", "Satin"},
	"Skirts":   {"Cotton", "Denim", "Polyester", "Pleated Fabric"},
	"Shorts":   {"Cotton", "Denim", "Linen", "Polyester"},
	"Shoes":    {"Leather", "Canvas", "Synthetic", "Mesh"},
	"Watches":  {"Stainless Steel", "Leather", "Silicone", "Titanium"},
	"Bags":     {"Leather", "Canvas", "Nylon", "Polyester"},
}

var defaultMaterials = []string{"Cotton", "Polyester", "Blend"}

var patternTypes = []string{
	"Solid", "Striped", "Checked", "Graphic Print", "Floral",
	"Polka Dot", "Brand Logo", "Character Print", "Geometric",
	"Abstract", "Tie-Dye", "Camouflage",
}

// Formatter превращает соседей индекса в презентационную выдачу:
// соединяет строки с каталогом, нормирует близость в презентационную
// полосу, фабрикует недостающие поля витрины и применяет цветовой бонус.
type Formatter struct {
	store *catalog.Store
	cfg   *cfg.SearchCfg
}

func NewFormatter(store *catalog.Store, cfg *cfg.SearchCfg) *Formatter {
	return &Formatter{store: store, cfg: cfg}
}

// Format собирает финальную выдачу из соседей индекса.
// Порядок: по убыванию близости с учётом цветового бонуса, ничьи по
// возрастанию строки. Совпадение по цвету само по себе порядок не меняет,
// только добавляет бонус к близости.
func (f *Formatter) Format(hits []index.Hit, dominantColors []string, topK int) []domain.SearchResult {
	targetColors := normalizeColors(dominantColors)

	type ranked struct {
		result domain.SearchResult
		row    int
	}

	items := make([]ranked, 0, len(hits))
	for _, hit := range hits {
		item, err := f.store.ByRow(hit.Row)
		if err != nil {
			continue
		}

		similarity := f.presentSimilarity(hit.Score)

		result := domain.SearchResult{
			ID:          item.ID,
			Name:        item.DisplayName,
			Category:    orUnknown(item.MasterCategory),
			SubCategory: orUnknown(item.SubCategory),
			ArticleType: orUnknown(item.ArticleType),
			BaseColor:   orUnknown(item.BaseColor),
			Gender:      orUnknown(item.Gender),
			Usage:       orUnknown(item.Usage),
			Image:       f.imageURL(item.ID),
		}

		f.fabricate(&result)

		if len(targetColors) > 0 {
			result.ColorMatch = colorMatches(item.BaseColor, targetColors)
			if result.ColorMatch {
				similarity = math.Min(f.cfg.BandHigh, similarity+f.cfg.ColorBoost)
			}
		}

		result.Similarity = domain.Similarity(similarity)
		items = append(items, ranked{result: result, row: hit.Row})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].result.Similarity != items[j].result.Similarity {
			return items[i].result.Similarity > items[j].result.Similarity
		}
		return items[i].row < items[j].row
	})

	if topK > len(items) {
		topK = len(items)
	}

	results := make([]domain.SearchResult, 0, topK)
	for _, item := range items[:topK] {
		results = append(results, item.result)
	}

	return results
}

// presentSimilarity переводит сырую косинусную близость в презентационную
// полосу [BandLow, BandHigh]. Сырые значения сперва приводятся к [0,1].
func (f *Formatter) presentSimilarity(raw float32) float64 {
	normalized := math.Abs(float64(raw))
	if normalized > 1 {
		normalized = 1
	}
	return f.cfg.BandLow + normalized*(f.cfg.BandHigh-f.cfg.BandLow)
}

// fabricate заполняет поля витрины, отсутствующие в датасете.
// Значения детерминированы: одна и та же позиция получает один и тот же
// бренд, цену, материал и узор при каждом запросе.
func (f *Formatter) fabricate(result *domain.SearchResult) {
	name := strings.ToLower(result.Name)
	for _, brand := range knownBrands {
		if strings.Contains(name, brand.key) {
			result.Brand = brand.name
			break
		}
	}

	seed := fabricationSeed(result.ID, result.ArticleType)

	if result.Brand == "" {
		result.Brand = knownBrands[seed%uint64(len(knownBrands))].name
	}

	band, ok := priceBands[result.ArticleType]
	if !ok {
		band = defaultPriceBand
	}
	frac := decimal.NewFromInt(int64((seed >> 16) % 10000)).Div(decimal.NewFromInt(10000))
	price := band.min.Add(band.max.Sub(band.min).Mul(frac))
	result.Price = "$" + price.StringFixed(2)

	materials, ok := materialsByArticleType[result.ArticleType]
	if !ok {
		materials = defaultMaterials
	}
	result.Material = materials[(seed>>32)%uint64(len(materials))]
	result.Pattern = patternTypes[(seed>>48)%uint64(len(patternTypes))]
}

func (f *Formatter) imageURL(id string) string {
	return strings.TrimRight(f.cfg.AssetBaseURL, "/") + "/" + id + ".jpg"
}

// fabricationSeed — FNV-1a от идентификатора и типа изделия.
func fabricationSeed(id, articleType string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	h.Write([]byte{0})
	h.Write([]byte(articleType))
	return h.Sum64()
}

// normalizeColors приводит имена цветов к базовым именам каталога.
func normalizeColors(colors []string) []string {
	out := make([]string, 0, len(colors))
	for _, color := range colors {
		mapped := vision.MapColorName(capitalize(strings.TrimSpace(color)))
		if mapped == "" || contains(out, mapped) {
			continue
		}
		out = append(out, mapped)
	}
	return out
}

func colorMatches(baseColor string, targetColors []string) bool {
	return contains(targetColors, vision.MapColorName(baseColor))
}

func orUnknown(value string) string {
	if value == "" {
		return "Unknown"
	}
	return value
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
