package crawl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/Sternrassler/docket-sync/pkg/record"
)

// ErrMalformedPayload is returned when a provider body decodes as JSON but
// lacks the members a listing or detail response must carry.
var ErrMalformedPayload = errors.New("malformed provider payload")

// listingPage is a listing response. Data is nil when the member is absent
// or null and empty when the provider returned no items.
type listingPage struct {
	Data []listingItem `json:"data"`
	Meta PageMeta      `json:"meta"`
}

type listingItem struct {
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes"`
	Links      map[string]any `json:"links"`
}

// PageMeta is the pagination block of a listing response.
type PageMeta struct {
	PageNumber PageNumber `json:"pageNumber"`
	LastPage   bool       `json:"lastPage"`
}

// PageNumber accepts the page number as a JSON number or numeric string.
// Zero means absent.
type PageNumber int

// UnmarshalJSON implements json.Unmarshaler.
func (n *PageNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}

	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("page number %s: %w", data, err)
	}
	*n = PageNumber(v)
	return nil
}

type detailResponse struct {
	Data *detailData `json:"data"`
}

type detailData struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Attributes    map[string]any `json:"attributes"`
	Links         map[string]any `json:"links"`
	Relationships map[string]any `json:"relationships"`
}

func (d detailData) record() record.Record {
	return record.Record{
		ID:            d.ID,
		Type:          d.Type,
		Attributes:    d.Attributes,
		Links:         d.Links,
		Relationships: d.Relationships,
	}
}
