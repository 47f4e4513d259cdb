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

	"github.com/loykin/mcmanager/internal/history"
)

// Sink indexes events as documents of baseURL/index over plain HTTP and
// answers Recent with a search on the same index.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

func New(baseURL, index string) *Sink {
	return &Sink{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
	}
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	return s.post(ctx, "/_doc", e, nil)
}

// Recent returns up to limit events, newest first. An empty server
// matches every server.
func (s *Sink) Recent(ctx context.Context, server string, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := map[string]any{"match_all": map[string]any{}}
	if server != "" {
		query = map[string]any{"term": map[string]any{"server.keyword": server}}
	}
	body := map[string]any{
		"size":  limit,
		"query": query,
		"sort":  []any{map[string]any{"occurred_at": map[string]string{"order": "desc"}}},
	}
	var res struct {
		Hits struct {
			Hits []struct {
				Source history.Event `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := s.post(ctx, "/_search", body, &res); err != nil {
		return nil, err
	}
	out := make([]history.Event, 0, len(res.Hits.Hits))
	for _, h := range res.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}

func (s *Sink) post(ctx context.Context, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/"+s.index+path, bytes.NewReader(b))
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
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opensearch %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
