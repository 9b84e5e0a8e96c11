package models

// PaginatedResponse is a single page of results.
type PaginatedResponse[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalCount int `json:"totalCount"`
	TotalPages int `json:"totalPages"`
}

// TotalPages returns ceil(totalCount / pageSize).
func TotalPages(totalCount, pageSize int) int {
	if pageSize <= 0 || totalCount <= 0 {
		return 0
	}
	return (totalCount + pageSize - 1) / pageSize
}

// Offset of the first row of page (1-based).
func Offset(page, pageSize int) int {
	if page < 1 {
		return 0
	}
	return (page - 1) * pageSize
}
