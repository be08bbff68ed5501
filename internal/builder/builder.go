// Package builder собирает артефакты поиска: матрицы эмбеддингов обеих
// башен и персистентный индекс. Сборка атомарна на уровне отдельных
// артефактов и идемпотентна: готовые артефакты повторно не считаются.
package builder

import (
	"context"
	"os"
	"path/filepath"

	"github.com/jimlawless/whereami"
	"github.com/kaatchi-tech/search-engine/internal/catalog"
	"github.com/kaatchi-tech/search-engine/internal/cfg"
	"github.com/kaatchi-tech/search-engine/internal/domain"
	"github.com/kaatchi-tech/search-engine/internal/embeddings"
	"github.com/kaatchi-tech/search-engine/internal/index"
	"github.com/kaatchi-tech/search-engine/pkg/e"
	"github.com/kaatchi-tech/search-engine/pkg/logger"
)

// Encoder — контракт кодировщика со стороны сборщика.
type Encoder interface {
	EncodeTexts(ctx context.Context, texts []string) ([][]float32, error)
	EncodeImageBatch(ctx context.Context, images [][]byte) ([][]float32, error)
}

// AssetMirror — необязательное зеркало изображений каталога в объектном
// хранилище.
type AssetMirror interface {
	Upload(ctx context.Context, objectKey string, data []byte, contentType string) (string, error)
}

// VectorSink — необязательная загрузка эмбеддингов во внешнюю векторную базу.
type VectorSink interface {
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, items []domain.Embedding, catalogIDs []string) error
}

// Deps — зависимости сборщика. Mirror и Sink могут быть nil.
type Deps struct {
	Dataset *cfg.DatasetCfg
	Encoder Encoder
	Mirror  AssetMirror
	Sink    VectorSink
	Logger  logger.Logger
}

type Builder struct {
	deps Deps
}

func NewBuilder(deps Deps) *Builder {
	return &Builder{deps: deps}
}

// Build выполняет полную сборку артефактов.
// Если все артефакты уже на месте и force не задан, сборка пропускается.
func (b *Builder) Build(ctx context.Context, force bool) error {
	const op = "builder.Build"

	if err := b.verifyDataset(); err != nil {
		return e.Wrap(op, err)
	}

	dir := b.deps.Dataset.EmbeddingsDir
	if !force && embeddings.Exists(dir) && index.Exists(dir) {
		b.deps.Logger.Infof("artifacts already present in %s, skipping build", dir)
		return nil
	}

	store, err := catalog.Load(b.deps.Dataset.MetadataFile, b.deps.Dataset.ImageDir, b.deps.Logger)
	if err != nil {
		return e.Wrap(op, err)
	}
	b.deps.Logger.Infof("building embeddings for %d catalog items", store.Len())

	images, err := b.readImages(store.Items())
	if err != nil {
		return e.Wrap(op, err)
	}

	imageVectors, err := b.deps.Encoder.EncodeImageBatch(ctx, images)
	if err != nil {
		return e.Wrap(op, err)
	}

	captions := make([]string, store.Len())
	for i := range store.Items() {
		captions[i] = catalog.Caption(&store.Items()[i])
	}

	textVectors, err := b.deps.Encoder.EncodeTexts(ctx, captions)
	if err != nil {
		return e.Wrap(op, err)
	}

	for _, vector := range imageVectors {
		domain.Normalize(vector)
	}
	for _, vector := range textVectors {
		domain.Normalize(vector)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	if err := embeddings.WriteMatrix(filepath.Join(dir, embeddings.ImageEmbeddingsFile), imageVectors); err != nil {
		return e.Wrap(op, err)
	}
	if err := embeddings.WriteMatrix(filepath.Join(dir, embeddings.TextEmbeddingsFile), textVectors); err != nil {
		return e.Wrap(op, err)
	}

	flat, err := index.BuildFlat(imageVectors)
	if err != nil {
		return e.Wrap(op, err)
	}
	if err := flat.Save(dir); err != nil {
		return e.Wrap(op, err)
	}

	b.deps.Logger.Infof("artifacts written to %s", dir)

	b.mirrorAssets(ctx, store.Items(), images)

	if err := b.loadVectorSink(ctx, store.Items(), imageVectors); err != nil {
		return e.Wrap(op, err)
	}

	return nil
}

// verifyDataset проверяет наличие датасета до любых записей:
// неполный датасет прерывает сборку, не оставляя частичных артефактов.
func (b *Builder) verifyDataset() error {
	if _, err := os.Stat(b.deps.Dataset.MetadataFile); err != nil {
		return e.ErrDatasetNotAvailable
	}
	if _, err := os.Stat(b.deps.Dataset.ImageDir); err != nil {
		return e.ErrDatasetNotAvailable
	}
	return nil
}

func (b *Builder) readImages(items []domain.CatalogItem) ([][]byte, error) {
	images := make([][]byte, len(items))
	for i, item := range items {
		data, err := os.ReadFile(filepath.Join(b.deps.Dataset.ImageDir, item.ID+".jpg"))
		if err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}
		images[i] = data
	}
	return images, nil
}

// mirrorAssets зеркалирует изображения каталога в объектное хранилище.
// Зеркало вторично: ошибки загрузки логируются и сборку не прерывают.
func (b *Builder) mirrorAssets(ctx context.Context, items []domain.CatalogItem, images [][]byte) {
	if b.deps.Mirror == nil {
		return
	}

	uploaded := 0
	for i, item := range items {
		if _, err := b.deps.Mirror.Upload(ctx, item.ID+".jpg", images[i], "image/jpeg"); err != nil {
			b.deps.Logger.Warnf("failed to mirror asset %s: %v", item.ID, err)
			continue
		}
		uploaded++
	}

	b.deps.Logger.Infof("mirrored %d of %d catalog assets", uploaded, len(items))
}

// loadVectorSink загружает image-эмбеддинги во внешнюю векторную базу.
func (b *Builder) loadVectorSink(ctx context.Context, items []domain.CatalogItem, vectors [][]float32) error {
	if b.deps.Sink == nil {
		return nil
	}

	if err := b.deps.Sink.EnsureCollection(ctx); err != nil {
		return err
	}

	points := make([]domain.Embedding, len(items))
	ids := make([]string, len(items))
	for i, item := range items {
		points[i] = *domain.NewEmbedding(item.Row, vectors[i])
		ids[i] = item.ID
	}

	return b.deps.Sink.Upsert(ctx, points, ids)
}
