package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/eventscrape/core/internal/apperr"
	"github.com/eventscrape/core/internal/models"
)

// WPEventStatus is the per-event outcome listed under wpResults in the Params of the Export
// that Engine.Run returns for a wp-rest export. Only that returned value carries wpResults:
// CompleteExport does not write params, so the stored export row keeps its original filter
// params.
type WPEventStatus string

const (
	WPCreated WPEventStatus = "created"
	WPUpdated WPEventStatus = "updated"
	WPSkipped WPEventStatus = "skipped"
	WPError   WPEventStatus = "error"
)

// WPResult is one event's (or, for a recurring event, one occurrence's) upload outcome.
type WPResult struct {
	CanonicalEventID uuid.UUID     `json:"canonical_event_id"`
	OccurrenceIndex  int           `json:"occurrence_index,omitempty"`
	Status           WPEventStatus `json:"status"`
	PostID           int           `json:"post_id,omitempty"`
	Error            string        `json:"error,omitempty"`
}

// WPUploadSummary is the result of uploading a batch of canonical events.
type WPUploadSummary struct {
	Results   []WPResult `json:"results"`
	ItemCount int        `json:"item_count"`
}

// WordPressOccurrenceSource supplies the occurrence instances (for recurring events) and the
// owning source's ID (for category-mapping lookup) behind a canonical event, since that
// information lives on the event_series/event_occurrences rows, not on the canonical event
// itself.
type WordPressOccurrenceSource interface {
	OccurrencesForCanonical(ctx context.Context, c *models.CanonicalEvent) ([]time.Time, uuid.UUID, error)
}

// wpPost is the subset of the WP REST `events` post type this client reads and writes.
type wpPost struct {
	ID           int    `json:"id,omitempty"`
	ExternalID   string `json:"external_id"`
	Title        string `json:"title,omitempty"`
	Content      string `json:"content,omitempty"`
	Status       string `json:"status,omitempty"`
	StartDate    string `json:"start_date,omitempty"`
	EndDate      string `json:"end_date,omitempty"`
	Venue        string `json:"venue,omitempty"`
	EventURL     string `json:"event_url,omitempty"`
	Categories   []int  `json:"categories,omitempty"`
	FeaturedMedia int   `json:"featured_media,omitempty"`
}

// WordPressClient uploads canonical events to a single configured WordPress site's custom
// `events` REST endpoint, following the find-or-create/update semantics of spec.md §4.J.
// Grounded on internal/newsletter/delivery/webhook.go's plain net/http request-building shape,
// wrapped in a gobreaker/v2 circuit breaker around the network boundary.
type WordPressClient struct {
	settings *models.WordPressSettings
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[*http.Response]
	interval time.Duration
}

// NewWordPressClient builds a client for one configured site. interval is the minimum delay
// enforced between per-event requests (spec.md §4.J: ~500ms).
func NewWordPressClient(settings *models.WordPressSettings, interval time.Duration) *WordPressClient {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	st := gobreaker.Settings{
		Name:        "wordpress-rest-" + settings.Name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && counts.TotalFailures >= 3
		},
	}
	return &WordPressClient{
		settings: settings,
		client:   &http.Client{Timeout: 30 * time.Second},
		breaker:  gobreaker.NewCircuitBreaker[*http.Response](st),
		interval: interval,
	}
}

// UploadAll uploads every event in events, rate-limited at c.interval between requests. For a
// recurring event (resolved via occSource), one post is emitted per occurrence, each counted
// individually in the returned summary.
func (c *WordPressClient) UploadAll(ctx context.Context, events []*models.CanonicalEvent, occSource WordPressOccurrenceSource) (*WPUploadSummary, error) {
	summary := &WPUploadSummary{}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	first := true
	for _, e := range events {
		occurrences, sourceID, err := occSource.OccurrencesForCanonical(ctx, e)
		if err != nil {
			return nil, fmt.Errorf("resolve occurrences for %s: %w", e.ID, err)
		}
		if len(occurrences) == 0 {
			occurrences = []time.Time{e.StartDatetime}
		}

		for idx, start := range occurrences {
			if !first {
				select {
				case <-ticker.C:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			first = false

			result := c.uploadOne(ctx, e, start, idx, sourceID)
			summary.Results = append(summary.Results, result)
			if result.Status != WPError {
				summary.ItemCount++
			}
		}
	}
	return summary, nil
}

func (c *WordPressClient) uploadOne(ctx context.Context, e *models.CanonicalEvent, start time.Time, occIndex int, sourceID uuid.UUID) WPResult {
	result := WPResult{CanonicalEventID: e.ID, OccurrenceIndex: occIndex}

	loc := time.UTC
	if e.Timezone != "" {
		if l, err := time.LoadLocation(e.Timezone); err == nil {
			loc = l
		}
	}

	existingID, err := c.findByExternalID(ctx, e.ID.String())
	if err != nil {
		result.Status = WPError
		result.Error = err.Error()
		return result
	}
	if existingID != 0 && !c.settings.UpdateIfExists {
		result.Status = WPSkipped
		result.PostID = existingID
		return result
	}

	post := wpPost{
		ExternalID: e.ID.String(),
		Title:      e.Title,
		Content:    e.Description,
		Status:     "publish",
		StartDate:  start.In(loc).Format(time.RFC3339),
		Venue:      e.VenueName,
		EventURL:   e.URL,
	}
	end := start.Add(time.Hour)
	if e.EndDatetime != nil {
		end = *e.EndDatetime
	}
	post.EndDate = end.In(loc).Format(time.RFC3339)

	if catID, ok := c.settings.SourceCategoryMappings[sourceID]; ok {
		post.Categories = []int{catID}
	}

	if c.settings.IncludeMedia && e.ImageURL != "" {
		mediaID, err := c.uploadMedia(ctx, e.ImageURL)
		if err != nil {
			result.Status = WPError
			result.Error = fmt.Sprintf("media upload: %v", err)
			return result
		}
		post.FeaturedMedia = mediaID
	}

	postID, created, err := c.putOrPost(ctx, existingID, post)
	if err != nil {
		result.Status = WPError
		result.Error = err.Error()
		return result
	}
	result.PostID = postID
	if created {
		result.Status = WPCreated
	} else {
		result.Status = WPUpdated
	}
	return result
}

// findByExternalID scans /wp-json/wp/v2/events?_fields=id,external_id at 100 per page,
// matching client-side, per spec.md §4.J.
func (c *WordPressClient) findByExternalID(ctx context.Context, externalID string) (int, error) {
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/wp-json/wp/v2/events?_fields=id,external_id&per_page=100&page=%d", c.settings.SiteURL, page)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return 0, err
		}
		c.authenticate(req)

		resp, err := c.do(req)
		if err != nil {
			return 0, err
		}
		var posts []wpPost
		decodeErr := json.NewDecoder(resp.Body).Decode(&posts)
		resp.Body.Close()
		if decodeErr != nil {
			return 0, fmt.Errorf("decode events page %d: %w", page, decodeErr)
		}
		for _, p := range posts {
			if p.ExternalID == externalID {
				return p.ID, nil
			}
		}
		if len(posts) < 100 {
			return 0, nil
		}
	}
}

func (c *WordPressClient) putOrPost(ctx context.Context, existingID int, post wpPost) (int, bool, error) {
	body, err := json.Marshal(post)
	if err != nil {
		return 0, false, fmt.Errorf("marshal event post: %w", err)
	}

	method, url := http.MethodPost, c.settings.SiteURL+"/wp-json/wp/v2/events"
	created := true
	if existingID != 0 {
		method, url, created = http.MethodPut, fmt.Sprintf("%s/wp-json/wp/v2/events/%d", c.settings.SiteURL, existingID), false
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return 0, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authenticate(req)

	resp, err := c.do(req)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()

	var created2 wpPost
	if err := json.NewDecoder(resp.Body).Decode(&created2); err != nil {
		return 0, false, fmt.Errorf("decode event post response: %w", err)
	}
	return created2.ID, created, nil
}

func (c *WordPressClient) uploadMedia(ctx context.Context, imageURL string) (int, error) {
	imgReq, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return 0, err
	}
	imgResp, err := c.client.Do(imgReq)
	if err != nil {
		return 0, fmt.Errorf("download image: %w", err)
	}
	defer imgResp.Body.Close()
	if imgResp.StatusCode != http.StatusOK {
		return 0, apperr.ExternalAPI("wordpress", fmt.Errorf("image download status %d", imgResp.StatusCode))
	}
	data, err := io.ReadAll(imgResp.Body)
	if err != nil {
		return 0, fmt.Errorf("read image body: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "event-image.jpg")
	if err != nil {
		return 0, err
	}
	if _, err := part.Write(data); err != nil {
		return 0, err
	}
	if err := mw.Close(); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.settings.SiteURL+"/wp-json/wp/v2/media", &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Content-Disposition", `attachment; filename="event-image.jpg"`)
	c.authenticate(req)

	resp, err := c.do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var media struct {
		ID int `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&media); err != nil {
		return 0, fmt.Errorf("decode media response: %w", err)
	}
	return media.ID, nil
}

func (c *WordPressClient) authenticate(req *http.Request) {
	req.SetBasicAuth(c.settings.Username, c.settings.AppPasswordCiphertext)
}

func (c *WordPressClient) do(req *http.Request) (*http.Response, error) {
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return nil, fmt.Errorf("wordpress returned %d", resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		return nil, apperr.ExternalAPI("wordpress", err)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, apperr.ExternalAPI("wordpress", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}
	return resp, nil
}
