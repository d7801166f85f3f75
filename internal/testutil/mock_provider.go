// Package testutil provides a scripted provider server for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/docket-sync/pkg/query"
)

// MockResponse defines a canned response for a path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// Item is one record served by the mock provider.
type Item struct {
	ID            string
	Attributes    map[string]any
	Relationships map[string]any
}

// Listing is one scripted listing response.
type Listing struct {
	Items      []Item
	PageNumber int
	LastPage   bool

	// Raw replaces the generated body when set.
	Raw *MockResponse
}

// MockProvider is a regulations.gov style provider: listing responses are
// served in the order they were queued (an empty page once exhausted) and
// detail responses come from the record set.
type MockProvider struct {
	server   *httptest.Server
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	listings []Listing
	records  map[string]Item

	// Tracking
	RequestCount   int
	ListingQueries []string
	DetailRequests map[string]int
	LastAPIKey     string
}

// NewMockProvider starts a mock provider.
func NewMockProvider() *MockProvider {
	m := &MockProvider{
		handlers:       make(map[string]http.HandlerFunc),
		records:        make(map[string]Item),
		DetailRequests: make(map[string]int),
	}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.RequestCount++
		m.LastAPIKey = r.Header.Get("X-Api-Key")
		handler, exists := m.handlers[r.URL.Path]
		m.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		m.defaultHandler(w, r)
	}))

	return m
}

// URL returns the provider base URL.
func (m *MockProvider) URL() string {
	return m.server.URL
}

// Close shuts down the server.
func (m *MockProvider) Close() {
	m.server.Close()
}

// SetHandler overrides the handler for an exact path.
func (m *MockProvider) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse serves resp for an exact path.
func (m *MockProvider) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, resp)
	})
}

// QueueListing appends listing responses.
func (m *MockProvider) QueueListing(listings ...Listing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings = append(m.listings, listings...)
}

// SetRecord sets the detail content served for item.ID.
func (m *MockProvider) SetRecord(item Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[item.ID] = item
}

// Queries returns the parsed query of every listing request so far.
func (m *MockProvider) Queries() ([]query.Params, error) {
	m.mu.Lock()
	raw := append([]string(nil), m.ListingQueries...)
	m.mu.Unlock()

	params := make([]query.Params, 0, len(raw))
	for _, q := range raw {
		p, err := query.Parse(q)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", q, err)
		}
		params = append(params, p)
	}
	return params, nil
}

// DetailCount returns how often the detail of id was requested.
func (m *MockProvider) DetailCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.DetailRequests[id]
}

// GetRequestCount returns the number of requests served.
func (m *MockProvider) GetRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RequestCount
}

func (m *MockProvider) defaultHandler(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Path, "/")
	resource, id, _ := strings.Cut(path, "/")
	if resource == "" {
		writeResponse(w, MockResponse{StatusCode: http.StatusNotFound, Body: `{"errors":[{"status":"404"}]}`})
		return
	}

	if id == "" {
		m.serveListing(w, r)
		return
	}
	m.serveDetail(w, id)
}

func (m *MockProvider) serveListing(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.ListingQueries = append(m.ListingQueries, r.URL.RawQuery)
	listing := Listing{LastPage: true}
	if len(m.listings) > 0 {
		listing = m.listings[0]
		m.listings = m.listings[1:]
	}
	m.mu.Unlock()

	if listing.Raw != nil {
		writeResponse(w, *listing.Raw)
		return
	}

	data := make([]map[string]any, 0, len(listing.Items))
	for _, item := range listing.Items {
		data = append(data, m.document(item))
	}
	pageNumber := listing.PageNumber
	if pageNumber == 0 {
		pageNumber = 1
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": data,
		"meta": map[string]any{
			"pageNumber": pageNumber,
			"lastPage":   listing.LastPage,
		},
	})
}

func (m *MockProvider) serveDetail(w http.ResponseWriter, id string) {
	m.mu.Lock()
	m.DetailRequests[id]++
	item, ok := m.records[id]
	m.mu.Unlock()

	if !ok {
		writeResponse(w, MockResponse{StatusCode: http.StatusNotFound, Body: `{"errors":[{"status":"404","title":"not found"}]}`})
		return
	}

	doc := m.document(item)
	if len(item.Relationships) > 0 {
		doc["relationships"] = item.Relationships
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": doc})
}

func (m *MockProvider) document(item Item) map[string]any {
	return map[string]any{
		"id":         item.ID,
		"type":       "comments",
		"attributes": item.Attributes,
		"links":      map[string]any{"self": m.server.URL + "/comments/" + item.ID},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeResponse(w, MockResponse{StatusCode: status, Body: string(body)})
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	w.Header().Set("Content-Type", "application/vnd.api+json")
	w.Header().Set("X-Ratelimit-Limit", "1000")
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error":{"code":"OVER_RATE_LIMIT","message":"You have exceeded your rate limit."}}`,
		Headers:    map[string]string{"X-Ratelimit-Remaining": "0"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"errors":[{"status":"500","title":"Internal Server Error"}]}`,
	}
}
