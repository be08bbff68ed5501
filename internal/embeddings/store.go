// Package embeddings хранит массивы эмбеддингов на диске.
// Формат артефакта: магическая сигнатура, версия, размерность, число строк,
// затем float32 little-endian построчно. Строка i во всех артефактах
// соответствует строке i embeddable-среза каталога; порядок после сборки
// не меняется никогда.
package embeddings

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/jimlawless/whereami"
	"github.com/kaatchi-tech/search-engine/pkg/e"
)

const (
	ImageEmbeddingsFile = "image_embeddings.bin"
	TextEmbeddingsFile  = "text_embeddings.bin"

	magic   = "KEMB"
	version = uint32(1)
)

// Store — обе загруженные матрицы эмбеддингов, только для чтения.
type Store struct {
	Image [][]float32
	Text  [][]float32
}

// Exists проверяет наличие обоих файлов эмбеддингов в каталоге артефактов.
func Exists(dir string) bool {
	for _, name := range []string{ImageEmbeddingsFile, TextEmbeddingsFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}

// Load читает обе матрицы и проверяет их построчное выравнивание.
func Load(dir string) (*Store, error) {
	const op = "embeddings.Load"

	image, err := ReadMatrix(filepath.Join(dir, ImageEmbeddingsFile))
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	text, err := ReadMatrix(filepath.Join(dir, TextEmbeddingsFile))
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	if len(image) != len(text) {
		return nil, e.Wrap(op, e.ErrRowCatalogMismatch)
	}

	return &Store{Image: image, Text: text}, nil
}

// WriteMatrix атомарно записывает матрицу: сначала во временный файл,
// затем rename, чтобы упавшая сборка не оставила частичный артефакт.
func WriteMatrix(path string, vectors [][]float32) error {
	const op = "embeddings.WriteMatrix"

	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return e.Wrap(op, e.ErrEmptyVector)
	}

	dim := len(vectors[0])
	for _, vector := range vectors {
		if len(vector) != dim {
			return e.Wrap(op, e.ErrVectorSizeMismatch)
		}
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	w := bufio.NewWriter(f)
	if err := writeHeader(w, uint32(dim), uint32(len(vectors))); err != nil {
		f.Close()
		os.Remove(tmp)
		return e.Wrap(op, err)
	}

	for _, vector := range vectors {
		if err := binary.Write(w, binary.LittleEndian, vector); err != nil {
			f.Close()
			os.Remove(tmp)
			return e.Wrap(whereami.WhereAmI(), err)
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return e.Wrap(whereami.WhereAmI(), err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return e.Wrap(whereami.WhereAmI(), err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

// ReadMatrix читает матрицу из артефакта.
// Отсутствующий файл — ErrEmbeddingsNotAvailable, повреждённый — ErrArtifactCorrupted.
func ReadMatrix(path string) ([][]float32, error) {
	const op = "embeddings.ReadMatrix"

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, e.Wrap(op, e.ErrEmbeddingsNotAvailable)
		}
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	dim, count, err := readHeader(r)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	vectors := make([][]float32, count)
	for i := range vectors {
		vector := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, vector); err != nil {
			return nil, e.Wrap(op, e.ErrArtifactCorrupted)
		}
		vectors[i] = vector
	}

	// Хвост после заявленного числа строк — признак повреждения
	if _, err := r.ReadByte(); err != io.EOF {
		return nil, e.Wrap(op, e.ErrArtifactCorrupted)
	}

	return vectors, nil
}

func writeHeader(w io.Writer, dim uint32, count uint32) error {
	if _, err := w.Write([]byte(magic)); err != nil {
		return err
	}
	for _, v := range []uint32{version, dim, count} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func readHeader(r io.Reader) (uint32, uint32, error) {
	sig := make([]byte, len(magic))
	if _, err := io.ReadFull(r, sig); err != nil {
		return 0, 0, e.ErrArtifactCorrupted
	}
	if string(sig) != magic {
		return 0, 0, e.ErrArtifactCorrupted
	}

	var header [3]uint32
	for i := range header {
		if err := binary.Read(r, binary.LittleEndian, &header[i]); err != nil {
			return 0, 0, e.ErrArtifactCorrupted
		}
	}

	if header[0] != version || header[1] == 0 || header[2] == 0 {
		return 0, 0, e.ErrArtifactCorrupted
	}

	return header[1], header[2], nil
}
