// Package vision — проверка загруженных изображений: zero-shot классификация
// на принадлежность к моде, согласованность текста и изображения,
// извлечение доминирующих цветов.
package vision

import (
	"bytes"
	"image"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/kaatchi-tech/search-engine/pkg/e"
)

// colorRange — диапазон HSV для именованного цвета каталога.
// Hue в [0,360), Sat и Val в [0,100]. Для красного диапазон оттенка
// замыкается через ноль (hueMin > hueMax).
type colorRange struct {
	name             string
	hueMin, hueMax   float64
	satMin, satMax   float64
	valMin, valMax   float64
}

var colorRanges = []colorRange{
	{"Red", 340, 10, 50, 100, 50, 100},
	{"Green", 90, 150, 30, 100, 30, 100},
	{"Blue", 180, 260, 40, 100, 40, 100},
	{"Yellow", 40, 65, 50, 100, 80, 100},
	{"Purple", 270, 330, 30, 100, 30, 100},
	{"Pink", 300, 340, 20, 100, 80, 100},
	{"Orange", 20, 40, 50, 100, 80, 100},
	{"Brown", 10, 30, 30, 80, 20, 60},
	{"White", 0, 360, 0, 10, 90, 100},
	{"Black", 0, 360, 0, 30, 0, 20},
	{"Grey", 0, 360, 0, 20, 20, 80},
	{"Navy Blue", 220, 240, 50, 100, 20, 40},
	{"Beige", 30, 50, 10, 30, 80, 95},
	{"Maroon", 330, 360, 50, 100, 20, 40},
	{"Olive", 60, 90, 30, 60, 30, 60},
	{"Teal", 160, 180, 40, 100, 30, 60},
}

// colorMapping нормализует словарь цветов к базовым именам каталога.
var colorMapping = map[string]string{
	"Red": "Red", "Green": "Green", "Blue": "Blue", "Yellow": "Yellow",
	"Purple": "Purple", "Pink": "Pink", "Orange": "Orange", "Brown": "Brown",
	"White": "White", "Black": "Black", "Grey": "Grey",
	"Navy": "Navy Blue", "Navy Blue": "Navy Blue", "Beige": "Beige",
	"Maroon": "Maroon", "Olive": "Olive", "Teal": "Teal",
	"Light Blue": "Blue", "Sky Blue": "Blue", "Dark Blue": "Navy Blue",
	"Light Green": "Green", "Dark Green": "Green",
	"Light Red": "Red", "Dark Red": "Maroon",
	"Light Yellow": "Yellow", "Dark Yellow": "Yellow",
	"Light Purple": "Purple", "Dark Purple": "Purple",
	"Light Pink": "Pink", "Dark Pink": "Pink",
	"Light Orange": "Orange", "Dark Orange": "Orange",
	"Light Brown": "Brown", "Dark Brown": "Brown",
	"Light Grey": "Grey", "Dark Grey": "Grey",
	"Cream": "Beige", "Tan": "Brown", "Burgundy": "Maroon", "Khaki": "Beige",
	"Gold": "Yellow", "Silver": "Grey", "Turquoise": "Teal",
	"Lavender": "Purple", "Peach": "Orange", "Coral": "Orange",
	"Mint": "Green", "Cyan": "Teal", "Magenta": "Pink",
	"Indigo": "Navy Blue", "Violet": "Purple", "Mustard": "Yellow",
	"Rust": "Orange", "Amber": "Orange",
}

// MapColorName нормализует произвольное имя цвета к базовому имени каталога.
// Возвращает исходное имя, если сопоставления нет.
func MapColorName(name string) string {
	if mapped, ok := colorMapping[name]; ok {
		return mapped
	}
	return name
}

// DecodeImage декодирует изображение из байтов.
func DecodeImage(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, e.ErrUnsupportedMediaType
	}
	return img, nil
}

// ExtractDominantColors возвращает до трёх доминирующих именованных цветов.
// Изображение уменьшается до 100x100, пиксели считаются по частоте,
// самые частые переводятся в HSV и сопоставляются с диапазонами каталога.
func ExtractDominantColors(img image.Image) []string {
	const (
		sampleSize = 100
		maxColors  = 3
	)

	small := imaging.Resize(img, sampleSize, sampleSize, imaging.NearestNeighbor)

	type rgb struct{ r, g, b uint8 }
	counts := make(map[rgb]int)
	bounds := small.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := small.At(x, y).RGBA()
			counts[rgb{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)}]++
		}
	}

	type freq struct {
		color rgb
		n     int
	}
	ranked := make([]freq, 0, len(counts))
	for color, n := range counts {
		ranked = append(ranked, freq{color, n})
	}
	// Детерминированный порядок: по убыванию частоты, затем по значению цвета
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].n != ranked[j].n {
			return ranked[i].n > ranked[j].n
		}
		a, b := ranked[i].color, ranked[j].color
		if a.r != b.r {
			return a.r < b.r
		}
		if a.g != b.g {
			return a.g < b.g
		}
		return a.b < b.b
	})

	names := make([]string, 0, maxColors)
	for _, fr := range ranked {
		h, s, v := rgbToHSV(fr.color.r, fr.color.g, fr.color.b)
		name := identifyColor(h, s, v)
		if name == "" || contains(names, name) {
			continue
		}
		names = append(names, name)
		if len(names) == maxColors {
			break
		}
	}

	return names
}

// identifyColor возвращает имя цвета по HSV либо пустую строку.
func identifyColor(h, s, v float64) string {
	// Ахроматические цвета определяются по насыщенности и яркости
	if s < 10 {
		switch {
		case v < 20:
			return "Black"
		case v > 90:
			return "White"
		default:
			return "Grey"
		}
	}

	for _, cr := range colorRanges {
		inHue := false
		if cr.hueMin > cr.hueMax { // красный замыкается через 0
			inHue = h >= cr.hueMin || h <= cr.hueMax
		} else {
			inHue = h >= cr.hueMin && h <= cr.hueMax
		}

		if inHue && s >= cr.satMin && s <= cr.satMax && v >= cr.valMin && v <= cr.valMax {
			return cr.name
		}
	}

	return ""
}

// rgbToHSV переводит RGB [0,255] в H [0,360), S [0,100], V [0,100].
func rgbToHSV(r8, g8, b8 uint8) (float64, float64, float64) {
	r := float64(r8) / 255
	g := float64(g8) / 255
	b := float64(b8) / 255

	max := r
	if g > max {
		max = g
	}
	if b > max {
		max = b
	}
	min := r
	if g < min {
		min = g
	}
	if b < min {
		min = b
	}

	v := max
	delta := max - min

	var s float64
	if max > 0 {
		s = delta / max
	}

	var h float64
	if delta > 0 {
		switch max {
		case r:
			h = (g - b) / delta
		case g:
			h = 2 + (b-r)/delta
		default:
			h = 4 + (r-g)/delta
		}
		h *= 60
		if h < 0 {
			h += 360
		}
	}

	return h, s * 100, v * 100
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
