package search

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/kaatchi-tech/search-engine/internal/catalog"
	"github.com/kaatchi-tech/search-engine/internal/cfg"
	"github.com/kaatchi-tech/search-engine/internal/index"
	"github.com/kaatchi-tech/search-engine/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stylesHeader = "id,gender,masterCategory,subCategory,articleType,baseColour,season,year,usage,productDisplayName\n"

const stylesBody = "10001,Men,Apparel,Topwear,Tshirts,Blue,Summer,2012,Casual,Puma Men Blue Tshirt\n" +
	"10002,Women,Apparel,Bottomwear,Jeans,Black,Fall,2012,Casual,Levis Women Black Jeans\n" +
	"10003,Women,Apparel,Dress,Dresses,Red,Summer,2012,Ethnic,Classic Red Dress\n" +
	"10004,Men,Footwear,Shoes,Shoes,White,Summer,2012,Sports,Nike Men White Shoes\n" +
	"10005,Unisex,Accessories,Watches,Watches,Navy Blue,Winter,2016,Formal,Elegant Navy Watch\n"

func testCatalog(t *testing.T) *catalog.Store {
	t.Helper()

	dir := t.TempDir()
	metadataFile := filepath.Join(dir, "styles.csv")
	imageDir := filepath.Join(dir, "images")
	require.NoError(t, os.MkdirAll(imageDir, 0o755))
	require.NoError(t, os.WriteFile(metadataFile, []byte(stylesHeader+stylesBody), 0o644))
	for _, id := range []string{"10001", "10002", "10003", "10004", "10005"} {
		require.NoError(t, os.WriteFile(filepath.Join(imageDir, id+".jpg"), []byte("jpg"), 0o644))
	}

	store, err := catalog.Load(metadataFile, imageDir, logger.NewQuietLogger())
	require.NoError(t, err)
	require.Equal(t, 5, store.Len())
	return store
}

func testSearchCfg() *cfg.SearchCfg {
	return &cfg.SearchCfg{
		DefaultTopK:        5,
		MaxTopK:            10,
		CoherenceThreshold: 0.2,
		ColorBoost:         0.05,
		BandLow:            0.6,
		BandHigh:           1.0,
		AssetBaseURL:       "/images",
	}
}

func TestFormatJoinsCatalogFields(t *testing.T) {
	f := NewFormatter(testCatalog(t), testSearchCfg())

	results := f.Format([]index.Hit{{Row: 0, Score: 0.9}}, nil, 5)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, "10001", r.ID)
	assert.Equal(t, "Puma Men Blue Tshirt", r.Name)
	assert.Equal(t, "Apparel", r.Category)
	assert.Equal(t, "Topwear", r.SubCategory)
	assert.Equal(t, "Tshirts", r.ArticleType)
	assert.Equal(t, "Blue", r.BaseColor)
	assert.Equal(t, "Men", r.Gender)
	assert.Equal(t, "Casual", r.Usage)
	assert.Equal(t, "/images/10001.jpg", r.Image)
}

func TestFormatBandCompression(t *testing.T) {
	f := NewFormatter(testCatalog(t), testSearchCfg())

	tests := []struct {
		score float32
		want  float64
	}{
		{score: 0, want: 0.6},
		{score: 0.5, want: 0.8},
		{score: 1, want: 1.0},
		{score: -0.5, want: 0.8}, // сырая близость берётся по модулю
		{score: 2, want: 1.0},    // и ограничивается единицей
	}

	for _, tt := range tests {
		results := f.Format([]index.Hit{{Row: 0, Score: tt.score}}, nil, 1)
		require.Len(t, results, 1)
		assert.InDelta(t, tt.want, float64(results[0].Similarity), 1e-6)
	}
}

func TestFormatDeterministicFabrication(t *testing.T) {
	f := NewFormatter(testCatalog(t), testSearchCfg())
	hits := []index.Hit{{Row: 0, Score: 0.9}, {Row: 2, Score: 0.8}, {Row: 4, Score: 0.7}}

	first := f.Format(hits, nil, 5)
	second := f.Format(hits, nil, 5)

	assert.Equal(t, first, second)
	for _, r := range first {
		assert.NotEmpty(t, r.Brand)
		assert.NotEmpty(t, r.Material)
		assert.NotEmpty(t, r.Pattern)
		assert.Regexp(t, regexp.MustCompile(`^\$\d+\.\d{2}$`), r.Price)
	}
}

func TestFormatBrandFromDisplayName(t *testing.T) {
	f := NewFormatter(testCatalog(t), testSearchCfg())

	results := f.Format([]index.Hit{{Row: 0, Score: 0.9}, {Row: 3, Score: 0.8}}, nil, 5)
	require.Len(t, results, 2)
	assert.Equal(t, "Puma", results[0].Brand)
	assert.Equal(t, "Nike", results[1].Brand)
}

func TestFormatPriceWithinArticleBand(t *testing.T) {
	f := NewFormatter(testCatalog(t), testSearchCfg())

	results := f.Format([]index.Hit{{Row: 0, Score: 0.9}}, nil, 1)
	require.Len(t, results, 1)

	var price float64
	_, err := fmt.Sscanf(results[0].Price, "$%f", &price)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, price, 19.99)
	assert.LessOrEqual(t, price, 39.99)
}

func TestFormatColorMatchDoesNotOverrideOrdering(t *testing.T) {
	f := NewFormatter(testCatalog(t), testSearchCfg())

	// Слабое совпадение по цвету не обгоняет сильный результат без
	// совпадения: бонус только аддитивный
	hits := []index.Hit{{Row: 0, Score: 0.9}, {Row: 2, Score: 0.5}}
	results := f.Format(hits, []string{"red"}, 5)
	require.Len(t, results, 2)

	assert.Equal(t, "10001", results[0].ID)
	assert.False(t, results[0].ColorMatch)
	assert.InDelta(t, 0.96, float64(results[0].Similarity), 1e-6)

	assert.Equal(t, "10003", results[1].ID)
	assert.True(t, results[1].ColorMatch)
	// Бонус аддитивный: 0.6 + 0.5*0.4 + 0.05
	assert.InDelta(t, 0.85, float64(results[1].Similarity), 1e-6)
}

func TestFormatColorBoostReordersClosePair(t *testing.T) {
	f := NewFormatter(testCatalog(t), testSearchCfg())

	// Близкие результаты бонус переставляет: 0.956 + 0.05 ограничивается
	// верхом полосы и обгоняет 0.96
	hits := []index.Hit{{Row: 0, Score: 0.9}, {Row: 2, Score: 0.89}}
	results := f.Format(hits, []string{"red"}, 5)
	require.Len(t, results, 2)

	assert.Equal(t, "10003", results[0].ID)
	assert.True(t, results[0].ColorMatch)
	assert.InDelta(t, 1.0, float64(results[0].Similarity), 1e-6)
	assert.Equal(t, "10001", results[1].ID)
}

func TestFormatColorBoostCapped(t *testing.T) {
	f := NewFormatter(testCatalog(t), testSearchCfg())

	results := f.Format([]index.Hit{{Row: 2, Score: 0.99}}, []string{"Red"}, 1)
	require.Len(t, results, 1)
	assert.LessOrEqual(t, float64(results[0].Similarity), 1.0)
}

func TestFormatMapsDominantColorAliases(t *testing.T) {
	f := NewFormatter(testCatalog(t), testSearchCfg())

	// Navy сопоставляется с Navy Blue из каталога
	results := f.Format([]index.Hit{{Row: 4, Score: 0.9}}, []string{"navy"}, 1)
	require.Len(t, results, 1)
	assert.True(t, results[0].ColorMatch)
}

func TestFormatTruncatesToTopK(t *testing.T) {
	f := NewFormatter(testCatalog(t), testSearchCfg())

	hits := []index.Hit{
		{Row: 0, Score: 0.9}, {Row: 1, Score: 0.8}, {Row: 2, Score: 0.7},
		{Row: 3, Score: 0.6}, {Row: 4, Score: 0.5},
	}
	results := f.Format(hits, nil, 2)

	require.Len(t, results, 2)
	assert.Equal(t, "10001", results[0].ID)
	assert.Equal(t, "10002", results[1].ID)
}

func TestFormatSkipsUnknownRows(t *testing.T) {
	f := NewFormatter(testCatalog(t), testSearchCfg())

	results := f.Format([]index.Hit{{Row: 99, Score: 0.9}, {Row: 1, Score: 0.8}}, nil, 5)

	require.Len(t, results, 1)
	assert.Equal(t, "10002", results[0].ID)
}

func TestFormatTieBreakByRow(t *testing.T) {
	f := NewFormatter(testCatalog(t), testSearchCfg())

	hits := []index.Hit{{Row: 3, Score: 0.7}, {Row: 1, Score: 0.7}}
	results := f.Format(hits, nil, 5)

	require.Len(t, results, 2)
	assert.Equal(t, "10002", results[0].ID)
	assert.Equal(t, "10004", results[1].ID)
}
