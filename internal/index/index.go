// Package index — индекс близости над image-эмбеддингами каталога.
// Единственная цель поиска для всех трёх режимов; внутренние идентификаторы
// индекса всегда совпадают с номерами строк каталога.
package index

import "context"

// Hit — один сосед: номер строки каталога и сырая близость (больше — лучше).
type Hit struct {
	Row   int
	Score float32
}

// Index — контракт top-K поиска по косинусной близости.
// Реализации только читают после сборки; запросы безопасны конкурентно.
type Index interface {
	Search(ctx context.Context, vector []float32, k int) ([]Hit, error)
}
