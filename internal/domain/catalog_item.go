package domain

// CatalogItem описывает позицию каталога из styles.csv.
// Неизменяем после загрузки; Row — позиция в embeddable-срезе каталога,
// совпадающая с номером строки в массивах эмбеддингов и в индексе.
type CatalogItem struct {
	Row            int
	ID             string
	DisplayName    string
	MasterCategory string
	SubCategory    string
	ArticleType    string
	BaseColor      string
	Gender         string
	Season         string
	Usage          string
}

func NewCatalogItem(id string, displayName string) *CatalogItem {
	return &CatalogItem{
		ID:          id,
		DisplayName: displayName,
	}
}
