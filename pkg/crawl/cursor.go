package crawl

import (
	"time"

	"github.com/Sternrassler/docket-sync/pkg/query"
)

// WatermarkLayout is the form the provider expects for the
// lastModifiedDate filter bound.
const WatermarkLayout = "2006-01-02 15:04:05"

// Cursor is the listing position of one crawl run: page number, fixed page
// size, sort key and filters. It is created per run and mutated per page.
type Cursor struct {
	page      int
	size      int
	sort      string
	docketID  string
	watermark string
}

// NewCursor returns a cursor at page 1 with no watermark.
func NewCursor(docketID string, size int, sort string) *Cursor {
	return &Cursor{page: 1, size: size, sort: sort, docketID: docketID}
}

// Page returns the page number of the next listing request.
func (c *Cursor) Page() int {
	return c.page
}

// Watermark returns the installed lastModifiedDate lower bound, or "".
func (c *Cursor) Watermark() string {
	return c.watermark
}

// Advance moves to the given page number.
func (c *Cursor) Advance(page int) {
	c.page = page
}

// Rewind resets to page 1 and installs watermark as the lower bound of the
// lastModifiedDate filter.
func (c *Cursor) Rewind(watermark string) {
	c.page = 1
	c.watermark = watermark
}

// Params returns the listing parameters in provider order:
// page[number], page[size], sort, filter[docketId], filter[lastModifiedDate][ge].
func (c *Cursor) Params() query.Params {
	var page query.Params
	page.Set("number", query.Int(c.page)).Set("size", query.Int(c.size))

	var filter query.Params
	filter.Set("docketId", query.String(c.docketID))
	if c.watermark != "" {
		var bound query.Params
		bound.Set("ge", query.String(c.watermark))
		filter.Set("lastModifiedDate", query.Nested(bound))
	}

	var p query.Params
	p.Set("page", query.Nested(page))
	if c.sort != "" {
		p.Set("sort", query.String(c.sort))
	}
	p.Set("filter", query.Nested(filter))
	return p
}

// Encode returns the encoded listing query string.
func (c *Cursor) Encode() string {
	return query.Encode(c.Params())
}

// FormatWatermark converts t into loc and formats it as a filter bound.
func FormatWatermark(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(WatermarkLayout)
}
