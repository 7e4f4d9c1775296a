package repository

import (
	"encoding/json"
	"net/url"
	"strconv"
)

// DefaultLimit is the page size used when a pagination has no positive limit.
const DefaultLimit = 10

// Pagination selects one page of a getAll result. Pages are zero-based.
type Pagination struct {
	Page        int    `json:"page" yaml:"page"`
	Limit       int    `json:"limit" yaml:"limit"`
	ResourceURL string `json:"resourceUrl,omitempty" yaml:"resourceUrl,omitempty"`
}

// Normalized returns the effective page (negative pages become 0) and
// limit (non-positive limits become DefaultLimit).
func (p Pagination) Normalized() (page, limit int) {
	page, limit = p.Page, p.Limit
	if page < 0 {
		page = 0
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return page, limit
}

// Window returns the row range of the page: offset page*limit.
func (p Pagination) Window() Window {
	page, limit := p.Normalized()
	return Window{Offset: page * limit, Limit: limit}
}

// Page is the result of GetAll.
//
// A paginated page marshals as {data, meta, links}; an unpaginated result
// as {data, total}.
type Page[M any] struct {
	Data  []M
	Total int64
	Meta  *Meta
	Links *Links
}

// Meta describes a page in the result set.
type Meta struct {
	ItemCount    int   `json:"itemCount"`
	TotalItems   int64 `json:"totalItems"`
	ItemsPerPage int   `json:"itemsPerPage"`
	TotalPages   int   `json:"totalPages"`
	CurrentPage  int   `json:"currentPage"`
}

// Links are navigation URLs, present only when a resource URL was given.
type Links struct {
	First    string `json:"first"`
	Previous string `json:"previous"`
	Next     string `json:"next"`
	Last     string `json:"last"`
}

// MarshalJSON implements json.Marshaler for Page.
func (p *Page[M]) MarshalJSON() ([]byte, error) {
	data := p.Data
	if data == nil {
		data = []M{}
	}

	if p.Meta == nil {
		return json.Marshal(struct {
			Data  []M   `json:"data"`
			Total int64 `json:"total"`
		}{data, p.Total})
	}

	return json.Marshal(struct {
		Data  []M    `json:"data"`
		Meta  *Meta  `json:"meta"`
		Links *Links `json:"links,omitempty"`
	}{data, p.Meta, p.Links})
}

// Paginate packages one page of rows with its total into a Page.
func Paginate[M any](data []M, total int64, p Pagination) *Page[M] {
	page, limit := p.Normalized()

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	meta := &Meta{
		ItemCount:    len(data),
		TotalItems:   total,
		ItemsPerPage: limit,
		TotalPages:   totalPages,
		CurrentPage:  page,
	}

	return &Page[M]{
		Data:  data,
		Total: total,
		Meta:  meta,
		Links: buildLinks(p.ResourceURL, page, limit, totalPages),
	}
}

// buildLinks returns nil when resourceURL is empty or unparsable. Link pages
// are clamped to [0, totalPages-1].
func buildLinks(resourceURL string, page, limit, totalPages int) *Links {
	if resourceURL == "" {
		return nil
	}
	base, err := url.Parse(resourceURL)
	if err != nil {
		return nil
	}

	last := max(totalPages-1, 0)
	link := func(n int) string {
		n = min(max(n, 0), last)
		u := *base
		q := u.Query()
		q.Set("page", strconv.Itoa(n))
		q.Set("limit", strconv.Itoa(limit))
		u.RawQuery = q.Encode()
		return u.String()
	}

	return &Links{
		First:    link(0),
		Previous: link(page - 1),
		Next:     link(page + 1),
		Last:     link(last),
	}
}
