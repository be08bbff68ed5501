package domain

import "math"

// Embedding представляет эмбеддинг одного изображения или текста,
// привязанный к строке каталога.
type Embedding struct {
	Row    int
	Vector []float32
}

func NewEmbedding(row int, vector []float32) *Embedding {
	return &Embedding{
		Row:    row,
		Vector: vector,
	}
}

// Normalize приводит вектор к единичной L2-норме in-place.
// Нулевой вектор остаётся без изменений.
func Normalize(vector []float32) {
	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}

	norm := float32(math.Sqrt(sum))
	for i := range vector {
		vector[i] /= norm
	}
}

// Dot возвращает скалярное произведение двух векторов одинаковой размерности.
// Для L2-нормированных векторов совпадает с косинусной близостью.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Mean возвращает нормированное среднее двух векторов (мультимодальное слияние).
func Mean(a, b []float32) []float32 {
	fused := make([]float32, len(a))
	for i := range a {
		fused[i] = (a[i] + b[i]) / 2
	}
	Normalize(fused)
	return fused
}
