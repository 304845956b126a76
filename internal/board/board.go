// Package board wraps the Monday.com GraphQL API used as the external CRM
// board: duplicate-email lookups and recording of screening outcomes.
//
// The core treats routing buckets and column ids as opaque strings; this
// package is the only place that knows how the board consumes them.
package board

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/clinicontact/leadscreen/internal/models"
)

// DefaultAPIURL is the Monday.com GraphQL endpoint.
const DefaultAPIURL = "https://api.monday.com/v2"

// duplicateScanLimit bounds the number of board items scanned per duplicate
// check. Full coverage of larger boards needs cursor pagination.
const duplicateScanLimit = 100

// Opts holds configuration options for the board client.
type Opts struct {
	APIKey     string
	APIURL     string
	HTTPClient *http.Client
}

// Option defines a configuration option for the board client.
type Option func(*Opts)

// WithAPIKey sets the board API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithAPIURL overrides the GraphQL endpoint (used by tests).
func WithAPIURL(url string) Option {
	return func(o *Opts) { o.APIURL = url }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client is a Monday.com GraphQL API client.
type Client struct {
	apiKey string
	apiURL string
	http   *http.Client
}

// NewClient creates a board client, falling back to the MONDAY_API_KEY
// environment variable when no key option is provided.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("MONDAY_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("board API key must be provided")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{apiKey: cfg.APIKey, apiURL: cfg.APIURL, http: cfg.HTTPClient}, nil
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type columnValue struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type duplicateResponse struct {
	Data struct {
		Boards []struct {
			ItemsPage struct {
				Items []struct {
					ID           string        `json:"id"`
					ColumnValues []columnValue `json:"column_values"`
				} `json:"items"`
			} `json:"items_page"`
		} `json:"boards"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

const duplicateQuery = `query ($boardId: [ID!]) {
  boards(ids: $boardId) {
    items_page(limit: 100) {
      items {
        id
        column_values {
          id
          text
        }
      }
    }
  }
}`

// CheckDuplicateEmail reports whether the email already exists in the board's
// email column. The scan covers the first page of items only.
func (c *Client) CheckDuplicateEmail(ctx context.Context, email string, handle models.BoardHandle) (bool, error) {
	req := gqlRequest{
		Query:     duplicateQuery,
		Variables: map[string]any{"boardId": []int64{handle.BoardID}},
	}

	var resp duplicateResponse
	if err := c.post(ctx, req, &resp); err != nil {
		return false, err
	}
	if len(resp.Errors) > 0 {
		return false, fmt.Errorf("board API error: %s", resp.Errors[0].Message)
	}

	emailColumn := handle.ColumnMappings[models.FieldEmail]
	if emailColumn == "" {
		emailColumn = "email"
	}

	target := strings.ToLower(email)
	for _, b := range resp.Data.Boards {
		for _, item := range b.ItemsPage.Items {
			for _, col := range item.ColumnValues {
				if col.ID == emailColumn && strings.ToLower(col.Text) == target {
					slog.Info("board: duplicate email found", "board_id", handle.BoardID, "item_id", item.ID)
					return true, nil
				}
			}
		}
	}
	return false, nil
}

const createItemMutation = `mutation ($boardId: ID!, $groupId: String!, $itemName: String!, $columnValues: JSON!) {
  create_item(board_id: $boardId, group_id: $groupId, item_name: $itemName, column_values: $columnValues) {
    id
  }
}`

type createItemResponse struct {
	Data struct {
		CreateItem struct {
			ID string `json:"id"`
		} `json:"create_item"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// RecordOutcome files the screening outcome on the board under the record's
// routing bucket (group id). Tags outside the board's allowed vocabulary are
// silently dropped before recording.
func (c *Client) RecordOutcome(ctx context.Context, rec models.OutcomeRecord) error {
	values := buildColumnValues(rec)
	valuesJSON, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to marshal column values: %w", err)
	}

	itemName := rec.Answers.Get(models.FieldName)
	if itemName == "" {
		itemName = "Form Submission"
	}

	req := gqlRequest{
		Query: createItemMutation,
		Variables: map[string]any{
			"boardId":      rec.Board.BoardID,
			"groupId":      rec.Bucket,
			"itemName":     itemName,
			"columnValues": string(valuesJSON),
		},
	}

	var resp createItemResponse
	if err := c.post(ctx, req, &resp); err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		return fmt.Errorf("board API error: %s", resp.Errors[0].Message)
	}

	slog.Info("board: outcome recorded", "board_id", rec.Board.BoardID, "bucket", rec.Bucket, "item_id", resp.Data.CreateItem.ID, "qualified", rec.Qualified)
	return nil
}

// FilterTags drops tags outside the allowed vocabulary, preserving order.
func FilterTags(tags, allowed []string) []string {
	allowedSet := make(map[string]bool, len(allowed))
	for _, t := range allowed {
		allowedSet[t] = true
	}
	var out []string
	for _, t := range tags {
		if allowedSet[t] {
			out = append(out, t)
		}
	}
	return out
}

// Reserved column-mapping keys that do not correspond to answer fields.
const (
	mappingQualified = "qualified"
	mappingTags      = "tags"
	mappingNotes     = "notes"
)

// buildColumnValues translates the answer set and outcome metadata into the
// board's column value payload using the study's column mappings.
func buildColumnValues(rec models.OutcomeRecord) map[string]any {
	values := make(map[string]any, len(rec.Board.ColumnMappings))
	for field, column := range rec.Board.ColumnMappings {
		switch field {
		case mappingQualified:
			values[column] = map[string]any{"checked": rec.Qualified}
		case mappingTags:
			values[column] = map[string]any{"labels": FilterTags(rec.Tags, rec.Board.AllowedTags)}
		case mappingNotes:
			values[column] = map[string]any{"text": rec.Notes}
		default:
			v := rec.Answers.Get(field)
			if v == "" {
				continue
			}
			values[column] = answerColumnValue(column, v)
		}
	}
	return values
}

// answerColumnValue shapes one answer for its column type, inferred from the
// board's column id conventions.
func answerColumnValue(column, value string) any {
	switch {
	case column == "email" || strings.HasPrefix(column, "email"):
		return map[string]any{"email": value, "text": value}
	case column == "phone" || strings.HasPrefix(column, "phone"):
		return map[string]any{"phone": value, "text": value}
	case strings.HasPrefix(column, "single_select") || strings.HasPrefix(column, "color_") || strings.HasPrefix(column, "status"):
		return map[string]any{"label": value}
	default:
		return value
	}
}

// post executes a GraphQL request and decodes the JSON response into out.
func (c *Client) post(ctx context.Context, req gqlRequest, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal GraphQL request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build board request: %w", err)
	}
	httpReq.Header.Set("Authorization", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("board request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("board: API returned non-2xx status", "status", resp.StatusCode)
		return fmt.Errorf("board API returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode board response: %w", err)
	}
	return nil
}
