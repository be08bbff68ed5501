package builder

import (
	"context"
	"os"
	"path/filepath"
	"testing"

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

type fakeEncoder struct {
	textCalls  int
	batchCalls int
}

func (f *fakeEncoder) EncodeTexts(ctx context.Context, texts []string) ([][]float32, error) {
	f.textCalls++
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{0, 1, 0, 0}
	}
	return vectors, nil
}

func (f *fakeEncoder) EncodeImageBatch(ctx context.Context, images [][]byte) ([][]float32, error) {
	f.batchCalls++
	vectors := make([][]float32, len(images))
	for i := range images {
		vectors[i] = []float32{1, 0, 0, float32(i)}
	}
	return vectors, nil
}

type memSink struct {
	ensured bool
	items   []domain.Embedding
	ids     []string
}

func (m *memSink) EnsureCollection(ctx context.Context) error {
	m.ensured = true
	return nil
}

func (m *memSink) Upsert(ctx context.Context, items []domain.Embedding, catalogIDs []string) error {
	m.items = items
	m.ids = catalogIDs
	return nil
}

type memMirror struct {
	keys []string
}

func (m *memMirror) Upload(ctx context.Context, objectKey string, data []byte, contentType string) (string, error) {
	m.keys = append(m.keys, objectKey)
	return objectKey, nil
}

func testDataset(t *testing.T) *cfg.DatasetCfg {
	t.Helper()

	dir := t.TempDir()
	imageDir := filepath.Join(dir, "images")
	require.NoError(t, os.MkdirAll(imageDir, 0o755))

	body := "10001,Men,Apparel,Topwear,Tshirts,Blue,Summer,2012,Casual,Puma Men Blue Tshirt\n" +
		"10002,Women,Apparel,Bottomwear,Jeans,Black,Fall,2012,Casual,Levis Women Black Jeans\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "styles.csv"), []byte(stylesHeader+body), 0o644))
	for _, id := range []string{"10001", "10002"} {
		require.NoError(t, os.WriteFile(filepath.Join(imageDir, id+".jpg"), []byte("jpg-"+id), 0o644))
	}

	return &cfg.DatasetCfg{
		DatasetPath:   dir,
		ImageDir:      imageDir,
		MetadataFile:  filepath.Join(dir, "styles.csv"),
		EmbeddingsDir: filepath.Join(dir, "embeddings"),
	}
}

func TestBuildWritesAllArtifacts(t *testing.T) {
	dataset := testDataset(t)
	enc := &fakeEncoder{}
	b := NewBuilder(Deps{Dataset: dataset, Encoder: enc, Logger: logger.NewQuietLogger()})

	require.NoError(t, b.Build(context.Background(), false))

	assert.True(t, embeddings.Exists(dataset.EmbeddingsDir))
	assert.True(t, index.Exists(dataset.EmbeddingsDir))

	store, err := embeddings.Load(dataset.EmbeddingsDir)
	require.NoError(t, err)
	assert.Len(t, store.Image, 2)
	assert.Len(t, store.Text, 2)

	// Векторы нормированы при записи
	var norm float64
	for _, v := range store.Image[1] {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1, norm, 1e-5)

	flat, err := index.LoadFlat(dataset.EmbeddingsDir)
	require.NoError(t, err)
	assert.Equal(t, 2, flat.Len())
}

func TestBuildSkipsWhenArtifactsPresent(t *testing.T) {
	dataset := testDataset(t)
	enc := &fakeEncoder{}
	b := NewBuilder(Deps{Dataset: dataset, Encoder: enc, Logger: logger.NewQuietLogger()})

	require.NoError(t, b.Build(context.Background(), false))
	require.NoError(t, b.Build(context.Background(), false))

	// Повторная сборка не кодировала заново
	assert.Equal(t, 1, enc.batchCalls)
	assert.Equal(t, 1, enc.textCalls)
}

func TestBuildForceRebuilds(t *testing.T) {
	dataset := testDataset(t)
	enc := &fakeEncoder{}
	b := NewBuilder(Deps{Dataset: dataset, Encoder: enc, Logger: logger.NewQuietLogger()})

	require.NoError(t, b.Build(context.Background(), false))
	require.NoError(t, b.Build(context.Background(), true))

	assert.Equal(t, 2, enc.batchCalls)
}

func TestBuildMissingDatasetAbortsBeforeWrites(t *testing.T) {
	dir := t.TempDir()
	dataset := &cfg.DatasetCfg{
		DatasetPath:   dir,
		ImageDir:      filepath.Join(dir, "images"),
		MetadataFile:  filepath.Join(dir, "styles.csv"),
		EmbeddingsDir: filepath.Join(dir, "embeddings"),
	}

	b := NewBuilder(Deps{Dataset: dataset, Encoder: &fakeEncoder{}, Logger: logger.NewQuietLogger()})

	err := b.Build(context.Background(), false)
	assert.ErrorIs(t, err, e.ErrDatasetNotAvailable)
	assert.NoDirExists(t, dataset.EmbeddingsDir)
}

func TestBuildLoadsVectorSink(t *testing.T) {
	dataset := testDataset(t)
	sink := &memSink{}
	b := NewBuilder(Deps{Dataset: dataset, Encoder: &fakeEncoder{}, Sink: sink, Logger: logger.NewQuietLogger()})

	require.NoError(t, b.Build(context.Background(), false))

	assert.True(t, sink.ensured)
	require.Len(t, sink.items, 2)
	assert.Equal(t, []string{"10001", "10002"}, sink.ids)
	assert.Equal(t, 0, sink.items[0].Row)
	assert.Equal(t, 1, sink.items[1].Row)
}

func TestBuildMirrorsAssets(t *testing.T) {
	dataset := testDataset(t)
	mirror := &memMirror{}
	b := NewBuilder(Deps{Dataset: dataset, Encoder: &fakeEncoder{}, Mirror: mirror, Logger: logger.NewQuietLogger()})

	require.NoError(t, b.Build(context.Background(), false))

	assert.Equal(t, []string{"10001.jpg", "10002.jpg"}, mirror.keys)
}
