package app

import (
	"bytes"
	"context"
	"encoding/json"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/kaatchi-tech/search-engine/internal/cfg"
	"github.com/kaatchi-tech/search-engine/internal/domain"
	"github.com/kaatchi-tech/search-engine/internal/embeddings"
	"github.com/kaatchi-tech/search-engine/internal/index"
	"github.com/kaatchi-tech/search-engine/pkg/e"
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

type embeddingsRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// newEncoderServer отвечает вектором [длина входа, 0] на каждый вход.
// После нормировки любой вектор превращается в (1, 0), что делает
// ранжирование полностью определяемым матрицей эмбеддингов каталога.
func newEncoderServer(t *testing.T) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		data := make([]map[string]any, len(req.Input))
		for i, input := range req.Input {
			data[i] = map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(len(input)), 0},
			}
		}

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
		}))
	}))
}

func testConfig(t *testing.T) *cfg.Config {
	t.Helper()

	dir := t.TempDir()
	imageDir := filepath.Join(dir, "images")
	embDir := filepath.Join(dir, "embeddings")
	require.NoError(t, os.MkdirAll(imageDir, 0o755))
	require.NoError(t, os.MkdirAll(embDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "styles.csv"), []byte(stylesHeader+stylesBody), 0o644))
	for _, id := range []string{"10001", "10002", "10003", "10004", "10005"} {
		require.NoError(t, os.WriteFile(filepath.Join(imageDir, id+".jpg"), []byte("jpg"), 0o644))
	}

	// Нормированные векторы: запрос (1, 0) ранжирует строки по убыванию
	imageVectors := [][]float32{{1, 0}, {0.8, 0.6}, {0.6, 0.8}, {0, 1}, {-1, 0}}
	textVectors := [][]float32{{1, 0}, {0.8, 0.6}, {0.6, 0.8}, {0, 1}, {-1, 0}}
	require.NoError(t, embeddings.WriteMatrix(filepath.Join(embDir, embeddings.ImageEmbeddingsFile), imageVectors))
	require.NoError(t, embeddings.WriteMatrix(filepath.Join(embDir, embeddings.TextEmbeddingsFile), textVectors))

	flat, err := index.BuildFlat(imageVectors)
	require.NoError(t, err)
	require.NoError(t, flat.Save(embDir))

	server := newEncoderServer(t)
	t.Cleanup(server.Close)

	return &cfg.Config{
		Dataset: &cfg.DatasetCfg{
			DatasetPath:   dir,
			ImageDir:      imageDir,
			MetadataFile:  filepath.Join(dir, "styles.csv"),
			EmbeddingsDir: embDir,
		},
		Encoder: &cfg.EncoderCfg{
			BaseURL:       server.URL + "/v1",
			Model:         "clip-ViT-B-32",
			VectorSize:    2,
			MaxConcurrent: 4,
			MaxRetries:    1,
			Timeout:       5 * time.Second,
		},
		Search: &cfg.SearchCfg{
			DefaultTopK:        5,
			MaxTopK:            10,
			CoherenceThreshold: 0.2,
			ColorBoost:         0.05,
			BandLow:            0.6,
			BandHigh:           1.0,
			AssetBaseURL:       "/images",
		},
	}
}

func testEngine(t *testing.T) *Engine {
	t.Helper()

	engine, err := NewEngine(testConfig(t), logger.NewQuietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func jpegFile(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "query.jpg")
	img := imaging.New(32, 32, color.NRGBA{R: 220, G: 30, B: 30, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

type resultsEnvelope struct {
	Results []domain.SearchResult `json:"results"`
	Error   string                `json:"error"`
}

func TestExecuteTextSearchEnvelope(t *testing.T) {
	engine := testEngine(t)

	var buf bytes.Buffer
	err := engine.Execute(context.Background(), &Request{Mode: ModeText, Query: "blue denim shirt"}, &buf)
	require.NoError(t, err)

	var envelope resultsEnvelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &envelope))
	assert.Empty(t, envelope.Error)
	require.Len(t, envelope.Results, 5)
	assert.Equal(t, "10001", envelope.Results[0].ID)
	assert.Equal(t, "Puma Men Blue Tshirt", envelope.Results[0].Name)
	assert.InDelta(t, 1.0, float64(envelope.Results[0].Similarity), 1e-6)
}

func TestExecuteTextSearchRejectsNonFashionQuery(t *testing.T) {
	engine := testEngine(t)

	var buf bytes.Buffer
	err := engine.Execute(context.Background(), &Request{Mode: ModeText, Query: "red sports car"}, &buf)
	require.NoError(t, err)

	var envelope resultsEnvelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &envelope))
	assert.Empty(t, envelope.Results)
	assert.Equal(t, "Your query contains non-fashion-related terms. Please search for fashion-related products.", envelope.Error)
}

func TestExecuteImageSearchRejectsNonFashionImage(t *testing.T) {
	// Заглушка кодировщика даёт одинаковую уверенность всем меткам,
	// ни одна модная метка не проходит порог: шлюз закрыт
	engine := testEngine(t)

	var buf bytes.Buffer
	err := engine.Execute(context.Background(), &Request{Mode: ModeImage, ImagePath: jpegFile(t)}, &buf)
	require.NoError(t, err)

	var envelope resultsEnvelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &envelope))
	assert.Empty(t, envelope.Results)
	assert.Equal(t, "The uploaded image does not appear to be fashion-related.", envelope.Error)
}

func TestExecuteMultimodalSearchEnvelope(t *testing.T) {
	engine := testEngine(t)

	var buf bytes.Buffer
	req := &Request{Mode: ModeMultimodal, Query: "red dress", ImagePath: jpegFile(t)}
	require.NoError(t, engine.Execute(context.Background(), req, &buf))

	var envelope resultsEnvelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &envelope))
	assert.Empty(t, envelope.Error)
	require.Len(t, envelope.Results, 5)
	assert.Equal(t, "10001", envelope.Results[0].ID)

	// Красное платье получает цветовой бонус от доминирующего цвета
	// изображения запроса, но порядок остаётся по близости
	for _, r := range envelope.Results {
		if r.ID == "10003" {
			assert.True(t, r.ColorMatch)
			assert.InDelta(t, 0.89, float64(r.Similarity), 1e-6)
		} else {
			assert.False(t, r.ColorMatch)
		}
	}
}

func TestExecuteValidateEnvelope(t *testing.T) {
	engine := testEngine(t)

	var buf bytes.Buffer
	req := &Request{Mode: ModeValidate, ImagePath: jpegFile(t)}
	require.NoError(t, engine.Execute(context.Background(), req, &buf))

	var envelope struct {
		Validation domain.ValidationResult `json:"validation"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &envelope))
	assert.False(t, envelope.Validation.IsValid)
	assert.Len(t, envelope.Validation.Categories, 10)
	assert.Contains(t, envelope.Validation.DominantColors, "Red")
}

func TestExecuteValidateRequiresImage(t *testing.T) {
	engine := testEngine(t)

	var buf bytes.Buffer
	err := engine.Execute(context.Background(), &Request{Mode: ModeValidate}, &buf)
	assert.ErrorIs(t, err, e.ErrImageRequired)
}

func TestExecuteCoherenceEnvelope(t *testing.T) {
	engine := testEngine(t)

	var buf bytes.Buffer
	req := &Request{Mode: ModeCoherence, Query: "red dress", ImagePath: jpegFile(t)}
	require.NoError(t, engine.Execute(context.Background(), req, &buf))

	var envelope struct {
		Coherence domain.CoherenceResult `json:"coherence"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &envelope))
	assert.True(t, envelope.Coherence.IsCoherent)
	assert.InDelta(t, 1.0, float64(envelope.Coherence.Similarity), 1e-6)
}

func TestExecuteUnknownMode(t *testing.T) {
	engine := testEngine(t)

	var buf bytes.Buffer
	err := engine.Execute(context.Background(), &Request{Mode: "hybrid"}, &buf)
	assert.Error(t, err)
	assert.Zero(t, buf.Len())
}

func TestDataUnavailableEnvelope(t *testing.T) {
	assert.True(t, DataUnavailable(e.ErrEmbeddingsNotAvailable))
	assert.True(t, DataUnavailable(e.ErrIndexNotAvailable))
	assert.False(t, DataUnavailable(e.ErrEmptyQuery))

	var buf bytes.Buffer
	require.NoError(t, WriteUnavailable(&buf))

	var envelope resultsEnvelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &envelope))
	assert.Empty(t, envelope.Results)
	assert.NotEmpty(t, envelope.Error)
}

func TestNewEngineMissingArtifacts(t *testing.T) {
	config := testConfig(t)
	config.Dataset.EmbeddingsDir = t.TempDir()

	_, err := NewEngine(config, logger.NewQuietLogger())
	assert.ErrorIs(t, err, e.ErrEmbeddingsNotAvailable)
}

func TestNewEngineRowCatalogMismatch(t *testing.T) {
	config := testConfig(t)

	// Матрица на одну строку короче каталога
	short := [][]float32{{1, 0}, {0.8, 0.6}, {0.6, 0.8}, {0, 1}}
	require.NoError(t, embeddings.WriteMatrix(
		filepath.Join(config.Dataset.EmbeddingsDir, embeddings.ImageEmbeddingsFile), short))

	_, err := NewEngine(config, logger.NewQuietLogger())
	assert.ErrorIs(t, err, e.ErrRowCatalogMismatch)
}
