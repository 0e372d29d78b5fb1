// Package pagination reads limit/offset query parameters and wraps list
// results in a page envelope.
package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ehr/imaging/internal/platform/apperr"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Params is a window over an ordered result set.
type Params struct {
	Limit  int
	Offset int
}

func queryInt(c echo.Context, name string) (int, bool, error) {
	v := c.QueryParam(name)
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false, apperr.Validation("%s must be a non-negative integer", name)
	}
	return n, true, nil
}

// FromContext reads limit and offset. "skip" is accepted as an alias for
// offset. A missing or zero limit means DefaultLimit; larger limits are
// clamped to MaxLimit.
func FromContext(c echo.Context) (Params, error) {
	limit, _, err := queryInt(c, "limit")
	if err != nil {
		return Params{}, err
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, ok, err := queryInt(c, "skip")
	if err != nil {
		return Params{}, err
	}
	if !ok {
		if offset, _, err = queryInt(c, "offset"); err != nil {
			return Params{}, err
		}
	}
	return Params{Limit: limit, Offset: offset}, nil
}

// Page is one window of a list response. Data is never null in JSON.
type Page[T any] struct {
	Data    []T  `json:"data"`
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

func NewPage[T any](data []T, total int, p Params) *Page[T] {
	if data == nil {
		data = []T{}
	}
	return &Page[T]{
		Data:    data,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.Offset+len(data) < total,
	}
}
