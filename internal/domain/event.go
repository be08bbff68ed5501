package domain

import "time"

// SearchEvent — аналитическое событие одного выполненного поиска.
// Текст запроса и изображение в событие не попадают.
type SearchEvent struct {
	EventID     string     `json:"event_id"`
	Mode        SearchMode `json:"mode"`
	HasQuery    bool       `json:"has_query"`
	TopK        int        `json:"top_k"`
	ResultCount int        `json:"result_count"`
	DurationMs  int64      `json:"duration_ms"`
	Timestamp   time.Time  `json:"ts"`
}
