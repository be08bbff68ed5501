package index

import (
	"context"
	"fmt"
	"sort"

	"github.com/jimlawless/whereami"
	"github.com/kaatchi-tech/search-engine/internal/cfg"
	"github.com/kaatchi-tech/search-engine/internal/domain"
	"github.com/kaatchi-tech/search-engine/pkg/e"
	"github.com/qdrant/go-client/qdrant"
)

// Qdrant — реализация индекса поверх коллекции Qdrant для инсталляций,
// где каталог перерос локальный flat-файл. Контракт тот же: идентификаторы
// точек — номера строк каталога, метрика — косинусная.
type Qdrant struct {
	client *qdrant.Client
	cfg    *cfg.QdrantCfg
}

func NewQdrantClient(cfg *cfg.QdrantCfg) (*qdrant.Client, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.ApiKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return client, nil
}

func NewQdrant(client *qdrant.Client, cfg *cfg.QdrantCfg) *Qdrant {
	return &Qdrant{
		client: client,
		cfg:    cfg,
	}
}

// EnsureCollection создаёт коллекцию с косинусной метрикой, если её ещё нет.
func (q *Qdrant) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.cfg.CollectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !exists {
		if err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.cfg.CollectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     q.cfg.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		}); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}

	return nil
}

// Upsert сохраняет эмбеддинги строк каталога в коллекцию.
func (q *Qdrant) Upsert(ctx context.Context, items []domain.Embedding, catalogIDs []string) error {
	if len(items) != len(catalogIDs) {
		return e.ErrRowCatalogMismatch
	}

	points := make([]*qdrant.PointStruct, 0, len(items))
	for i, item := range items {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(item.Row)),
			Vectors: qdrant.NewVectors(item.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"catalog_id": catalogIDs[i],
			}),
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.CollectionName,
		Points:         points,
	})
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

// Search выполняет top-K запрос к коллекции.
// Возвращённые точки дополнительно пересортировываются локально, чтобы
// гарантировать правило разрешения ничьих (по возрастанию номера строки).
func (q *Qdrant) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	const op = "index.Qdrant.Search"

	if k <= 0 {
		return nil, nil
	}

	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.cfg.CollectionName,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
	})
	if err != nil {
		return nil, e.Wrap(op, e.ErrIndexNotAvailable)
	}

	hits := make([]Hit, 0, len(points))
	for _, point := range points {
		hits = append(hits, Hit{
			Row:   int(point.GetId().GetNum()),
			Score: point.GetScore(),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Row < hits[j].Row
	})

	return hits, nil
}
