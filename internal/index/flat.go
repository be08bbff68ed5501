package index

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/kaatchi-tech/search-engine/internal/domain"
	"github.com/kaatchi-tech/search-engine/internal/embeddings"
	"github.com/kaatchi-tech/search-engine/pkg/e"
)

// FlatIndexFile — имя персистентного файла индекса в каталоге артефактов.
const FlatIndexFile = "fashion_flat.index"

// Flat — точный индекс: полный проход по нормированным векторам.
// Скалярное произведение нормированных векторов равно косинусной близости,
// поэтому результат точен, а не приближён.
type Flat struct {
	vectors [][]float32
	dim     int
}

// BuildFlat строит индекс над нормированными image-эмбеддингами.
func BuildFlat(vectors [][]float32) (*Flat, error) {
	const op = "index.BuildFlat"

	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, e.Wrap(op, e.ErrEmptyVector)
	}

	dim := len(vectors[0])
	for _, vector := range vectors {
		if len(vector) != dim {
			return nil, e.Wrap(op, e.ErrVectorSizeMismatch)
		}
	}

	return &Flat{vectors: vectors, dim: dim}, nil
}

// Exists проверяет наличие файла индекса в каталоге артефактов.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, FlatIndexFile))
	return err == nil
}

// LoadFlat загружает персистентный индекс только для чтения.
// Отсутствующий или нечитаемый файл — ErrIndexNotAvailable: движок в этом
// случае недоступен целиком, пере-сборка в памяти на запрос не выполняется.
func LoadFlat(dir string) (*Flat, error) {
	const op = "index.LoadFlat"

	vectors, err := embeddings.ReadMatrix(filepath.Join(dir, FlatIndexFile))
	if err != nil {
		return nil, e.Wrap(op, e.ErrIndexNotAvailable)
	}

	return BuildFlat(vectors)
}

// Save персистирует индекс на диск.
func (f *Flat) Save(dir string) error {
	const op = "index.Flat.Save"

	if err := embeddings.WriteMatrix(filepath.Join(dir, FlatIndexFile), f.vectors); err != nil {
		return e.Wrap(op, err)
	}

	return nil
}

// Len возвращает число строк в индексе.
func (f *Flat) Len() int {
	return len(f.vectors)
}

// Search возвращает k ближайших строк, отсортированных по убыванию близости.
// Равные значения близости упорядочиваются по возрастанию номера строки —
// стабильно и детерминированно между вызовами.
func (f *Flat) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	const op = "index.Flat.Search"

	if err := ctx.Err(); err != nil {
		return nil, e.Wrap(op, err)
	}
	if len(vector) != f.dim {
		return nil, e.Wrap(op, e.ErrVectorSizeMismatch)
	}
	if k <= 0 {
		return nil, nil
	}

	hits := make([]Hit, len(f.vectors))
	for row, candidate := range f.vectors {
		hits[row] = Hit{Row: row, Score: domain.Dot(vector, candidate)}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Row < hits[j].Row
	})

	if k > len(hits) {
		k = len(hits)
	}

	return hits[:k], nil
}
