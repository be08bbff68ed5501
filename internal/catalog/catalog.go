// Package catalog загружает метаданные каталога из styles.csv.
// Каталог неизменяем после загрузки; строки без изображения на диске
// исключаются ещё на этапе загрузки, а не скрываются позже.
package catalog

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jimlawless/whereami"
	"github.com/kaatchi-tech/search-engine/internal/domain"
	"github.com/kaatchi-tech/search-engine/pkg/e"
	"github.com/kaatchi-tech/search-engine/pkg/logger"
)

// Store — неизменяемый каталог позиций, выровненный по строкам
// с массивами эмбеддингов.
type Store struct {
	items []domain.CatalogItem
	byID  map[string]int
}

// Load читает styles.csv и отфильтровывает позиции без изображения в imageDir.
// Строки с неожиданным числом полей пропускаются (кривые записи в датасете).
func Load(metadataFile string, imageDir string, log logger.Logger) (*Store, error) {
	const op = "catalog.Load"

	f, err := os.Open(metadataFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, e.Wrap(op, e.ErrDatasetNotAvailable)
		}
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, e.Wrap(op, e.ErrDatasetNotAvailable)
	}
	cols := headerIndex(header)

	var (
		items   []domain.CatalogItem
		skipped int
	)
	for {
		row, readErr := reader.Read()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			skipped++
			continue
		}
		if len(row) != len(header) {
			skipped++
			continue
		}

		item := itemFromRecord(row, cols)
		if item.ID == "" || item.DisplayName == "" {
			skipped++
			continue
		}

		// Эмбеддинг строится только по позициям с просматриваемым ассетом
		if _, statErr := os.Stat(filepath.Join(imageDir, item.ID+".jpg")); statErr != nil {
			skipped++
			continue
		}

		item.Row = len(items)
		items = append(items, item)
	}

	if len(items) == 0 {
		return nil, e.Wrap(op, e.ErrDatasetNotAvailable)
	}

	byID := make(map[string]int, len(items))
	for i, item := range items {
		byID[item.ID] = i
	}

	log.Debugf("catalog loaded: %d items, %d rows skipped", len(items), skipped)

	return &Store{items: items, byID: byID}, nil
}

// Len возвращает число позиций каталога, пригодных для эмбеддинга.
func (s *Store) Len() int {
	return len(s.items)
}

// ByRow возвращает позицию по номеру строки.
func (s *Store) ByRow(row int) (*domain.CatalogItem, error) {
	if row < 0 || row >= len(s.items) {
		return nil, e.ErrRowCatalogMismatch
	}
	return &s.items[row], nil
}

// ByID возвращает позицию по идентификатору каталога.
func (s *Store) ByID(id string) (*domain.CatalogItem, bool) {
	row, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return &s.items[row], true
}

// Items возвращает все позиции в порядке строк.
func (s *Store) Items() []domain.CatalogItem {
	return s.items
}

// Caption собирает текстовое описание позиции для текстового эмбеддинга:
// склейка атрибутов в том же порядке, что использовался при обучении выдачи.
func Caption(item *domain.CatalogItem) string {
	parts := []string{
		item.MasterCategory,
		item.SubCategory,
		item.ArticleType,
		item.BaseColor,
		item.Usage,
		item.Gender,
	}
	return item.DisplayName + " - " + strings.Join(parts, ", ")
}

func headerIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	return cols
}

func itemFromRecord(row []string, cols map[string]int) domain.CatalogItem {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	return domain.CatalogItem{
		ID:             get("id"),
		DisplayName:    get("productDisplayName"),
		MasterCategory: get("masterCategory"),
		SubCategory:    get("subCategory"),
		ArticleType:    get("articleType"),
		BaseColor:      get("baseColour"),
		Gender:         get("gender"),
		Season:         get("season"),
		Usage:          get("usage"),
	}
}
