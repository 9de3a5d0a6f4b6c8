// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package remote

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/tomtom215/waypoint/internal/cache"
	"github.com/tomtom215/waypoint/internal/logging"
	"github.com/tomtom215/waypoint/internal/metrics"
	"github.com/tomtom215/waypoint/internal/models"
)

// Filters sent to the CMS. Draft documents live under the drafts. id prefix.
const (
	awardDefinitionsFilter = `_type == "content-award" && !(_id in path("drafts.**"))`
	awardDefinitionsFields = `_id, "parent_content_id": content_id, "child_ids": child_ids[@ != null], ` +
		`has_kickoff, brand, title, content_type, badge, award, award_custom_text, collection_type`
	contentDurationsFilter = `railcontent_id in $ids && !(_id in path("drafts.**"))`
	contentDurationsFields = `"id": railcontent_id, "length_in_seconds": coalesce(length_in_seconds, 0)`
)

// QueryOptions are passed through to the CMS query service.
type QueryOptions struct {
	Params     map[string]interface{} `json:"params,omitempty"`
	Projection string                 `json:"projection,omitempty"`
	Limit      int                    `json:"limit,omitempty"`
}

type queryRequest struct {
	Query  string `json:"query"`
	IsList bool   `json:"is_list"`
	QueryOptions
}

type queryResponse struct {
	Result json.RawMessage `json:"result"`
}

// CMSClient queries the content management system. The filter language is
// opaque to Waypoint; it only needs "documents matching a filter".
type CMSClient struct {
	http      *httpClient
	durations *cache.TTL[int64, int]
}

// NewCMSClient creates a CMS client. Content durations are cached for
// durationTTL (default 1h).
func NewCMSClient(opts Options, durationTTL time.Duration) *CMSClient {
	if durationTTL <= 0 {
		durationTTL = time.Hour
	}
	return &CMSClient{
		http:      newHTTPClient("cms", opts),
		durations: cache.New[int64, int](durationTTL),
	}
}

// Close stops the duration cache sweeper.
func (c *CMSClient) Close() {
	c.durations.Stop()
}

// Query runs filter and decodes the result into out. When isList is false
// the CMS returns a single document (or null).
func (c *CMSClient) Query(ctx context.Context, filter string, isList bool, opts QueryOptions, out interface{}) error {
	var resp queryResponse
	req := queryRequest{Query: filter, IsList: isList, QueryOptions: opts}
	if err := c.http.doJSON(ctx, "query", http.MethodPost, "/v1/query", nil, req, &resp); err != nil {
		return err
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decode query result: %w", err)
	}
	return nil
}

type cmsAward struct {
	ID              string  `json:"_id"`
	ParentContentID int64   `json:"parent_content_id"`
	ChildIDs        []int64 `json:"child_ids"`
	HasKickoff      bool    `json:"has_kickoff"`
	Brand           string  `json:"brand"`
	Title           string  `json:"title"`
	ContentType     string  `json:"content_type"`
	Badge           string  `json:"badge"`
	Award           string  `json:"award"`
	CustomText      string  `json:"award_custom_text"`
	CollectionType  string  `json:"collection_type"`
}

// FetchAwardDefinitions returns every published award. Documents that do
// not form a valid definition are logged and skipped.
func (c *CMSClient) FetchAwardDefinitions(ctx context.Context) ([]models.AwardDefinition, error) {
	var docs []cmsAward
	opts := QueryOptions{Projection: awardDefinitionsFields}
	if err := c.Query(ctx, awardDefinitionsFilter, true, opts, &docs); err != nil {
		return nil, fmt.Errorf("fetch award definitions: %w", err)
	}

	defs := make([]models.AwardDefinition, 0, len(docs))
	for _, doc := range docs {
		def := models.AwardDefinition{
			ID:              doc.ID,
			ParentContentID: doc.ParentContentID,
			ChildContentIDs: doc.ChildIDs,
			HasKickoff:      doc.HasKickoff,
			Brand:           doc.Brand,
			Title:           doc.Title,
			ContentType:     doc.ContentType,
			BadgeURL:        doc.Badge,
			AwardURL:        doc.Award,
			CustomText:      doc.CustomText,
			CollectionType:  models.CollectionType(doc.CollectionType),
		}
		if err := def.Validate(); err != nil {
			logging.Warn().Err(err).Str("award_id", doc.ID).Msg("Skipping invalid award definition")
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}

type cmsDuration struct {
	ID              int64   `json:"id"`
	LengthInSeconds float64 `json:"length_in_seconds"`
}

// FetchContentDurations returns the length in seconds of each content id.
// Ids the CMS does not know map to 0.
func (c *CMSClient) FetchContentDurations(ctx context.Context, ids []int64) (map[int64]int, error) {
	found, missing := c.durations.GetMany(ids)
	metrics.DurationCacheLookups.WithLabelValues("hit").Add(float64(len(found)))
	metrics.DurationCacheLookups.WithLabelValues("miss").Add(float64(len(missing)))
	if len(missing) == 0 {
		return found, nil
	}

	var docs []cmsDuration
	opts := QueryOptions{
		Params:     map[string]interface{}{"ids": missing},
		Projection: contentDurationsFields,
	}
	if err := c.Query(ctx, contentDurationsFilter, true, opts, &docs); err != nil {
		return nil, fmt.Errorf("fetch content durations: %w", err)
	}

	fetched := make(map[int64]int, len(docs))
	for _, d := range docs {
		fetched[d.ID] = int(d.LengthInSeconds)
	}
	for _, id := range missing {
		seconds := fetched[id]
		c.durations.Set(id, seconds)
		found[id] = seconds
	}
	return found, nil
}
