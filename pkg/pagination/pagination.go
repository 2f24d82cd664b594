// Package pagination carries FHIR search paging parameters between a
// client request and the upstream repository.
package pagination

import (
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhir"
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

// FromContext extracts pagination parameters from the echo context.
func FromContext(c echo.Context) Params {
	return FromQuery(c.QueryParams())
}

// FromQuery reads _count/_offset, falling back to limit/offset.
func FromQuery(q url.Values) Params {
	limit, _ := strconv.Atoi(q.Get("_count"))
	if limit <= 0 {
		limit, _ = strconv.Atoi(q.Get("limit"))
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, _ := strconv.Atoi(q.Get("_offset"))
	if offset <= 0 {
		offset, _ = strconv.Atoi(q.Get("offset"))
	}
	if offset < 0 {
		offset = 0
	}

	return Params{Limit: limit, Offset: offset}
}

// Apply returns a copy of q with the paging parameters normalized to
// _count and _offset.
func (p Params) Apply(q url.Values) url.Values {
	out := make(url.Values, len(q)+2)
	for k, v := range q {
		switch k {
		case "_count", "_offset", "limit", "offset":
			continue
		}
		out[k] = append([]string(nil), v...)
	}
	out.Set("_count", strconv.Itoa(p.Limit))
	if p.Offset > 0 {
		out.Set("_offset", strconv.Itoa(p.Offset))
	}
	return out
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

// NextOffset returns the offset for the next page.
func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// PreviousOffset returns the offset for the previous page.
// Returns 0 if the result would be negative.
func (p Params) PreviousOffset() int {
	prev := p.Offset - p.Limit
	if prev < 0 {
		return 0
	}
	return prev
}

// FHIRLinks generates Bundle paging links for a search result. basePath is
// the path clients page through (e.g. "/ddcc/List"); filters are repeated on
// every link.
func (p Params) FHIRLinks(basePath string, filters url.Values, total int) []fhir.BundleLink {
	links := []fhir.BundleLink{
		{Relation: "self", URL: p.link(basePath, filters, p.Offset)},
	}

	if p.HasNext(total) {
		links = append(links, fhir.BundleLink{Relation: "next", URL: p.link(basePath, filters, p.NextOffset())})
	}

	if p.HasPrevious() {
		links = append(links, fhir.BundleLink{Relation: "previous", URL: p.link(basePath, filters, p.PreviousOffset())})
	}

	return links
}

func (p Params) link(basePath string, filters url.Values, offset int) string {
	q := Params{Limit: p.Limit, Offset: offset}.Apply(filters)
	q.Set("_offset", strconv.Itoa(offset))
	return basePath + "?" + q.Encode()
}
