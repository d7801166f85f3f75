// Package crawl walks the provider's paginated listing, resolves every listed
// item with a detail fetch and reconciles it into the record store.
//
// A run moves through the listing page by page. When the provider flags a
// page as the last one, the crawler rewinds to page 1 and installs a
// watermark (the last item's modification time) as the lower bound of the
// next pass. The run ends when a listing page has no items.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/docket-sync/pkg/changes"
	"github.com/Sternrassler/docket-sync/pkg/record"
	"github.com/Sternrassler/docket-sync/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for crawl runs.
var (
	pagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docketsync_crawl_pages_total",
		Help: "Total listing pages processed",
	})

	passesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docketsync_crawl_passes_total",
		Help: "Total completed passes (watermark installations)",
	})

	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docketsync_crawl_records_total",
		Help: "Total reconciled records by outcome",
	}, []string{"outcome"})

	watermarkTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docketsync_crawl_watermark_timestamp_seconds",
		Help: "Unix time of the installed watermark",
	})
)

// Fetcher retrieves and decodes one provider document.
// *client.Client implements it.
type Fetcher interface {
	GetJSON(ctx context.Context, rawURL string, out any) error
}

// Config holds the crawl configuration.
type Config struct {
	// BaseURL is the provider API root, e.g. https://api.regulations.gov/v4.
	BaseURL string

	// Resource is the listing collection (default "comments").
	Resource string

	// DocketID restricts the listing to one docket (REQUIRED).
	DocketID string

	// PageSize is the fixed listing page size (default 25).
	PageSize int

	// Sort is the listing sort key (default "lastModifiedDate").
	Sort string

	// Include is sent as the include parameter of detail fetches
	// (default "attachments").
	Include string

	// NoInclude sends detail fetches without an include parameter.
	NoInclude bool

	// Location is the zone watermarks are expressed in
	// (default America/New_York).
	Location *time.Location

	// Full ignores a saved watermark and starts from the beginning.
	Full bool

	// MaxPasses stops the run after that many completed passes.
	// Zero runs until an empty listing page.
	MaxPasses int
}

// DefaultConfig returns the default crawl configuration for a docket.
func DefaultConfig(baseURL, docketID string) Config {
	return Config{
		BaseURL:  baseURL,
		Resource: "comments",
		DocketID: docketID,
		PageSize: 25,
		Sort:     record.LastModifiedAttribute,
		Include:  "attachments",
	}
}

// Stats summarizes a run.
type Stats struct {
	Pages     int
	Passes    int
	Created   int
	Changed   int
	Unchanged int
	Watermark string
}

// Records returns the number of reconciled records.
func (s Stats) Records() int {
	return s.Created + s.Changed + s.Unchanged
}

// Crawler drives one crawl run at a time.
type Crawler struct {
	fetcher     Fetcher
	records     store.RecordStore
	checkpoints store.CheckpointStore
	config      Config
	logger      zerolog.Logger
	now         func() time.Time
}

// New creates a crawler. checkpoints may be nil, in which case every run
// starts without a watermark and none is saved.
func New(fetcher Fetcher, records store.RecordStore, checkpoints store.CheckpointStore, cfg Config) (*Crawler, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if records == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.DocketID == "" {
		return nil, fmt.Errorf("docket id is required")
	}
	if cfg.PageSize < 0 {
		return nil, fmt.Errorf("page size must be >= 0 (got %d)", cfg.PageSize)
	}
	if cfg.MaxPasses < 0 {
		return nil, fmt.Errorf("max passes must be >= 0 (got %d)", cfg.MaxPasses)
	}

	if cfg.Resource == "" {
		cfg.Resource = "comments"
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 25
	}
	if cfg.Sort == "" {
		cfg.Sort = record.LastModifiedAttribute
	}
	if cfg.NoInclude {
		cfg.Include = ""
	} else if cfg.Include == "" {
		cfg.Include = "attachments"
	}
	if cfg.Location == nil {
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			return nil, fmt.Errorf("load default location: %w", err)
		}
		cfg.Location = loc
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	return &Crawler{
		fetcher:     fetcher,
		records:     records,
		checkpoints: checkpoints,
		config:      cfg,
		logger:      log.With().Str("component", "crawler").Str("docket_id", cfg.DocketID).Logger(),
		now:         time.Now,
	}, nil
}

// Run crawls until a listing page comes back empty, MaxPasses is reached or
// a fatal error occurs. A watermark is only saved after its page was fully
// processed, so a failed run resumes from the last completed pass.
func (c *Crawler) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	cursor := NewCursor(c.config.DocketID, c.config.PageSize, c.config.Sort)

	if c.checkpoints != nil && !c.config.Full {
		watermark, err := c.checkpoints.LoadWatermark(ctx, c.config.DocketID)
		if err != nil {
			return stats, fmt.Errorf("load checkpoint: %w", err)
		}
		if watermark != "" {
			cursor.Rewind(watermark)
			c.logger.Info().Str("watermark", watermark).Msg("Resuming from saved watermark")
		}
	}

	c.logger.Info().
		Int("page_size", c.config.PageSize).
		Bool("full", c.config.Full).
		Msg("Starting crawl")

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		page, err := c.fetchPage(ctx, cursor)
		if err != nil {
			return stats, err
		}

		if len(page.Data) == 0 {
			c.logger.Info().
				Int("page", cursor.Page()).
				Int("records", stats.Records()).
				Msg("Empty listing page, crawl finished")
			return stats, nil
		}

		for _, item := range page.Data {
			outcome, err := c.resolve(ctx, item)
			if err != nil {
				return stats, err
			}
			stats.count(outcome)
		}

		stats.Pages++
		pagesTotal.Inc()

		if !page.Meta.LastPage {
			next := cursor.Page() + 1
			if page.Meta.PageNumber > 0 {
				next = int(page.Meta.PageNumber) + 1
			}
			cursor.Advance(next)
			c.logger.Debug().Int("page", next).Msg("Advancing to next page")
			continue
		}

		watermark, err := c.watermark(page.Data[len(page.Data)-1])
		if err != nil {
			return stats, err
		}
		cursor.Rewind(watermark)
		if c.checkpoints != nil {
			if err := c.checkpoints.SaveWatermark(ctx, c.config.DocketID, watermark); err != nil {
				return stats, fmt.Errorf("save checkpoint: %w", err)
			}
		}

		stats.Passes++
		stats.Watermark = watermark
		passesTotal.Inc()
		c.logger.Info().
			Str("watermark", watermark).
			Int("passes", stats.Passes).
			Msg("Last page reached, installed watermark")

		if c.config.MaxPasses > 0 && stats.Passes >= c.config.MaxPasses {
			c.logger.Info().Int("passes", stats.Passes).Msg("Pass limit reached, stopping crawl")
			return stats, nil
		}
	}
}

// fetchPage requests the listing page the cursor points at.
func (c *Crawler) fetchPage(ctx context.Context, cursor *Cursor) (listingPage, error) {
	listURL := c.config.BaseURL + "/" + c.config.Resource + "?" + cursor.Encode()

	var page listingPage
	if err := c.fetcher.GetJSON(ctx, listURL, &page); err != nil {
		return page, fmt.Errorf("fetch listing page %d: %w", cursor.Page(), err)
	}
	if page.Data == nil {
		return page, fmt.Errorf("listing page %d: %w: missing data", cursor.Page(), ErrMalformedPayload)
	}

	c.logger.Info().
		Int("page", cursor.Page()).
		Int("items", len(page.Data)).
		Bool("last_page", page.Meta.LastPage).
		Str("watermark", cursor.Watermark()).
		Msg("Listing page fetched")
	return page, nil
}

// resolve fetches the full record behind a listing item and reconciles it
// with the stored version.
func (c *Crawler) resolve(ctx context.Context, item listingItem) (changes.Outcome, error) {
	if item.ID == "" {
		return "", fmt.Errorf("listing item: %w: missing id", ErrMalformedPayload)
	}

	scannedAt := c.now()

	var detail detailResponse
	if err := c.fetcher.GetJSON(ctx, c.detailURL(item.ID), &detail); err != nil {
		return "", fmt.Errorf("fetch %s: %w", item.ID, err)
	}
	if detail.Data == nil || detail.Data.ID == "" {
		return "", fmt.Errorf("detail %s: %w: missing data", item.ID, ErrMalformedPayload)
	}
	fetched := detail.Data.record()

	stored, err := c.records.FindByID(ctx, fetched.ID)
	if errors.Is(err, store.ErrNotFound) {
		stored = nil
	} else if err != nil {
		return "", fmt.Errorf("lookup %s: %w", fetched.ID, err)
	}

	next, outcome := changes.Reconcile(fetched, stored, scannedAt)
	if _, err := c.records.Upsert(ctx, next); err != nil {
		return "", fmt.Errorf("store %s: %w", fetched.ID, err)
	}

	recordsTotal.WithLabelValues(string(outcome)).Inc()
	event := c.logger.Debug()
	if outcome == changes.Changed {
		event = c.logger.Info().Int("changes", len(next.History[0].Changes))
	}
	event.Str("id", fetched.ID).Str("outcome", string(outcome)).Msg("Record reconciled")

	return outcome, nil
}

func (c *Crawler) detailURL(id string) string {
	u := c.config.BaseURL + "/" + c.config.Resource + "/" + url.PathEscape(id)
	if c.config.Include != "" {
		u += "?include=" + url.QueryEscape(c.config.Include)
	}
	return u
}

// watermark derives the next lower bound from a listing item's
// modification time.
func (c *Crawler) watermark(item listingItem) (string, error) {
	rec := record.Record{ID: item.ID, Attributes: item.Attributes}
	modified, err := rec.LastModified()
	if err != nil {
		return "", fmt.Errorf("watermark: %w: %v", ErrMalformedPayload, err)
	}

	watermark := FormatWatermark(modified, c.config.Location)
	watermarkTimestamp.Set(float64(modified.Unix()))
	return watermark, nil
}

func (s *Stats) count(outcome changes.Outcome) {
	switch outcome {
	case changes.Created:
		s.Created++
	case changes.Changed:
		s.Changed++
	case changes.Unchanged:
		s.Unchanged++
	}
}
