package domain

import (
	"math"
	"strconv"
)

// SearchMode — режим поиска.
type SearchMode string

const (
	ModeText       SearchMode = "text"
	ModeImage      SearchMode = "image"
	ModeMultimodal SearchMode = "multimodal"
)

// Similarity — нормированная близость в [0,1].
// NaN и бесконечности сериализуются в null, чтобы stdout всегда
// оставался строго корректным JSON.
type Similarity float64

func (s Similarity) MarshalJSON() ([]byte, error) {
	f := float64(s)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'f', -1, 64), nil
}

// SearchResult — один элемент ранжированной выдачи.
// Презентационные поля (Brand, Price, Material, Pattern) фабрикуются
// детерминированно форматтером и на ранжирование не влияют.
type SearchResult struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Category    string     `json:"category"`
	SubCategory string     `json:"subCategory"`
	ArticleType string     `json:"articleType"`
	BaseColor   string     `json:"baseColor"`
	Gender      string     `json:"gender"`
	Usage       string     `json:"usage"`
	Similarity  Similarity `json:"similarity"`
	Image       string     `json:"image"`
	Brand       string     `json:"brand,omitempty"`
	Price       string     `json:"price,omitempty"`
	Material    string     `json:"material,omitempty"`
	Pattern     string     `json:"pattern,omitempty"`
	ColorMatch  bool       `json:"colorMatch"`
}
