package httputil

import (
	"net/http"
	"net/url"
	"strconv"
)

// Page is the paginated list envelope
type Page[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

// PageParams are the validated page/page_size query values
type PageParams struct {
	Page     int
	PageSize int
}

// Offset returns the row offset of the page
func (p PageParams) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// ParsePageParams reads page and page_size, clamping page_size to maxSize
func ParsePageParams(r *http.Request, defaultSize, maxSize int) (PageParams, error) {
	page, err := ParseQueryInt(r, "page", 1)
	if err != nil {
		return PageParams{}, err
	}
	size, err := ParseQueryInt(r, "page_size", defaultSize)
	if err != nil {
		return PageParams{}, err
	}
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultSize
	}
	if size > maxSize {
		size = maxSize
	}
	return PageParams{Page: page, PageSize: size}, nil
}

// NewPage builds the envelope with absolute next/previous links
func NewPage[T any](r *http.Request, params PageParams, count int, results []T) Page[T] {
	if results == nil {
		results = []T{}
	}
	p := Page[T]{Count: count, Results: results}
	if params.Page*params.PageSize < count {
		next := pageURL(r, params.Page+1)
		p.Next = &next
	}
	if params.Page > 1 {
		prev := pageURL(r, params.Page-1)
		p.Previous = &prev
	}
	return p
}

func pageURL(r *http.Request, page int) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	q := r.URL.Query()
	q.Set("page", strconv.Itoa(page))
	u := url.URL{Scheme: scheme, Host: r.Host, Path: r.URL.Path, RawQuery: q.Encode()}
	return u.String()
}
