package domain

// CategoryScore — одна метка zero-shot классификации с уверенностью.
type CategoryScore struct {
	Name       string     `json:"name"`
	Confidence Similarity `json:"confidence"`
}

// ValidationResult — итог проверки изображения на принадлежность к моде.
type ValidationResult struct {
	IsValid        bool              `json:"is_fashion_related"`
	IsAccessory    bool              `json:"is_accessory"`
	Categories     []CategoryScore   `json:"categories"`
	DominantColors []string          `json:"dominantColors,omitempty"`
	Rotated        *RotatedValidation `json:"rotatedValidation,omitempty"`
}

// RotatedValidation — результат повторной проверки после коррекции поворота.
type RotatedValidation struct {
	IsValid    bool            `json:"is_fashion_related"`
	Rotation   string          `json:"rotation"`
	Categories []CategoryScore `json:"categories"`
}

// CoherenceResult — итог проверки согласованности текста и изображения.
type CoherenceResult struct {
	Similarity Similarity `json:"similarity"`
	IsCoherent bool       `json:"is_coherent"`
}
