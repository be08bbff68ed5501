package e

import "fmt"

var (
	// Недоступность датасета и артефактов
	ErrDatasetNotAvailable    = fmt.Errorf("fashion dataset is not available")
	ErrEmbeddingsNotAvailable = fmt.Errorf("embeddings are not available")
	ErrIndexNotAvailable      = fmt.Errorf("similarity index is not available")

	// Внутренние ошибки с векторами и артефактами
	ErrEmptyVector          = fmt.Errorf("empty vector")
	ErrVectorSizeMismatch   = fmt.Errorf("vector size mismatch")
	ErrRowCatalogMismatch   = fmt.Errorf("embedding row does not match catalog")
	ErrArtifactCorrupted    = fmt.Errorf("embedding artifact is corrupted")
	ErrIncorrectEnvVariable = fmt.Errorf("incorrect environment variable")
	ErrEncoderUnavailable   = fmt.Errorf("encoder service is unavailable")

	// Штатные негативные исходы (не сбои)
	ErrImageNotFashion = fmt.Errorf("image rejected: not fashion-related")
	ErrQueryNotFashion = fmt.Errorf("query contains non-fashion terms")
	ErrNoResults       = fmt.Errorf("no matching items found")

	// 400 Bad Request со стороны вызывающего
	ErrEmptyQuery           = fmt.Errorf("text query is required")
	ErrImageRequired        = fmt.Errorf("image is required")
	ErrUnsupportedMediaType = fmt.Errorf("unsupported media type")
)

// Wrap оборачивает ошибку
func Wrap(msg string, err error) error {
	return fmt.Errorf("%s: %w", msg, err)
}
