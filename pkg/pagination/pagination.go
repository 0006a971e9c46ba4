package pagination

import (
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads limit and offset, or limit and a 1-based page, from the
// query string. offset wins when both offset and page are present.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	p := Params{Limit: Clamp(limit)}

	if offset, err := strconv.Atoi(c.QueryParam("offset")); err == nil && offset > 0 {
		p.Offset = offset
		return p
	}
	if page, err := strconv.Atoi(c.QueryParam("page")); err == nil && page > 1 {
		p.Offset = (page - 1) * p.Limit
	}
	return p
}

// Clamp bounds limit to (0, MaxLimit], substituting DefaultLimit for
// non-positive values.
func Clamp(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Page is the 1-based page number for the current offset.
func (p Params) Page() int {
	if p.Limit <= 0 {
		return 1
	}
	return p.Offset/p.Limit + 1
}

func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// PreviousOffset never goes below 0.
func (p Params) PreviousOffset() int {
	prev := p.Offset - p.Limit
	if prev < 0 {
		return 0
	}
	return prev
}

// Response wraps a paginated API response.
type Response struct {
	Items   interface{} `json:"items"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	Page    int         `json:"page"`
	Pages   int         `json:"pages"`
	HasMore bool        `json:"has_more"`
	Links   []Link      `json:"links,omitempty"`
}

// Link is a navigation URL relative to the listing path.
type Link struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

func NewResponse(items interface{}, total int, p Params) *Response {
	pages := 0
	if p.Limit > 0 {
		pages = (total + p.Limit - 1) / p.Limit
	}
	return &Response{
		Items:   items,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		Page:    p.Page(),
		Pages:   pages,
		HasMore: p.HasNext(total),
	}
}

// WithLinks adds self/next/previous links for basePath.
func (r *Response) WithLinks(basePath string, p Params) *Response {
	r.Links = []Link{{
		Relation: "self",
		URL:      fmt.Sprintf("%s?offset=%d&limit=%d", basePath, p.Offset, p.Limit),
	}}
	if p.HasNext(r.Total) {
		r.Links = append(r.Links, Link{
			Relation: "next",
			URL:      fmt.Sprintf("%s?offset=%d&limit=%d", basePath, p.NextOffset(), p.Limit),
		})
	}
	if p.HasPrevious() {
		r.Links = append(r.Links, Link{
			Relation: "previous",
			URL:      fmt.Sprintf("%s?offset=%d&limit=%d", basePath, p.PreviousOffset(), p.Limit),
		})
	}
	return r
}
