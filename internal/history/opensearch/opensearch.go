// Package opensearch indexes server lifecycle events into OpenSearch (or
// Elasticsearch) over the document REST API.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/previewd/internal/history"
)

// Sink posts one document per event to <baseURL>/<index>/_doc. With Daily
// set the index gets a "-YYYY.MM.DD" suffix taken from the event time.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
	Daily   bool
}

func New(baseURL, index string) *Sink {
	return &Sink{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
	}
}

// document flattens an event into the shape dashboards filter on.
type document struct {
	Timestamp time.Time `json:"@timestamp"`
	Event     string    `json:"event"`
	history.Record
}

func (s *Sink) indexFor(t time.Time) string {
	if !s.Daily {
		return s.index
	}
	return s.index + "-" + t.UTC().Format("2006.01.02")
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	body, err := json.Marshal(document{Timestamp: e.OccurredAt, Event: string(e.Type), Record: e.Record})
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/%s/_doc", s.baseURL, s.indexFor(e.OccurredAt))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("opensearch index %s: status %d: %s", s.indexFor(e.OccurredAt), resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
