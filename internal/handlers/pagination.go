package handlers

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// paginationMeta holds pagination metadata for responses.
type paginationMeta struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

// Clamps a requested page to sane bounds, an unset or oversized limit falls back to the default.
func pageParams(limit, offset int) (int, int) {
	if limit <= 0 || limit > maxPageLimit {
		limit = defaultPageLimit
	}
	if offset < 0 {
		offset = 0
	}

	return limit, offset
}
