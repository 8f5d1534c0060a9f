package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jamal-campbell/ai-tax-assistant/internal/core/domain"
)

// Client talks to Qdrant over its HTTP API. Point ids are derived from
// document id and chunk index, so re-upserting the same chunk replaces its
// vector and payload instead of duplicating it.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) UpsertChunks(ctx context.Context, doc *domain.Document, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 || len(vectors) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks/vectors mismatch: %d/%d", len(chunks), len(vectors))
	}

	if err := c.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	// seq orders equal-score hits by first ingestion time. Re-upserted chunks
	// keep their original seq so earlier-ingested chunks still win tie-breaks.
	// Microsecond resolution survives the round-trip through JSON numbers.
	kept, err := c.existingSeqs(ctx, doc.ID)
	if err != nil {
		return err
	}
	seqBase := time.Now().UnixMicro()
	points := make([]point, 0, len(chunks))
	for i, chunk := range chunks {
		seq, ok := kept[chunk.Index]
		if !ok {
			seq = seqBase + int64(i)
		}
		points = append(points, point{
			ID:     pointID(doc.ID, chunk.Index),
			Vector: vectors[i],
			Payload: map[string]any{
				"doc_id":      doc.ID,
				"source":      doc.Filename,
				"source_type": string(doc.SourceType),
				"chunk_index": chunk.Index,
				"page":        chunk.Page,
				"text":        chunk.Text,
				"seq":         seq,
			},
		})
	}

	body, err := json.Marshal(map[string]any{"points": points})
	if err != nil {
		return fmt.Errorf("marshal upsert body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	return c.do(ctx, http.MethodPut, url, body, nil, "upsert")
}

// existingSeqs returns the seq already stored for each chunk index of a
// document, so an upsert can keep them.
func (c *Client) existingSeqs(ctx context.Context, documentID string) (map[int]int64, error) {
	out := make(map[int]int64)
	var offset any

	for {
		reqBody := map[string]any{
			"limit":        256,
			"with_payload": []string{"chunk_index", "seq"},
			"with_vector":  false,
			"filter": map[string]any{
				"must": []map[string]any{
					{"key": "doc_id", "match": map[string]any{"value": documentID}},
				},
			},
		}
		if offset != nil {
			reqBody["offset"] = offset
		}
		body, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal scroll body: %w", err)
		}

		var scrollResp struct {
			Result struct {
				Points []struct {
					Payload map[string]any `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		url := fmt.Sprintf("%s/collections/%s/points/scroll", c.baseURL, c.collection)
		if err := c.do(ctx, http.MethodPost, url, body, &scrollResp, "scroll"); err != nil {
			return nil, err
		}

		for _, p := range scrollResp.Result.Points {
			out[payloadInt(p.Payload, "chunk_index")] = payloadInt64(p.Payload, "seq")
		}
		if scrollResp.Result.NextPageOffset == nil {
			break
		}
		offset = scrollResp.Result.NextPageOffset
	}
	return out, nil
}

func (c *Client) DeleteByDocument(ctx context.Context, documentID string) error {
	body, err := json.Marshal(map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "doc_id", "match": map[string]any{"value": documentID}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("marshal delete body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", c.baseURL, c.collection)
	return c.do(ctx, http.MethodPost, url, body, nil, "delete by document")
}

func (c *Client) Query(ctx context.Context, vector []float32, k int, filter domain.SearchFilter) ([]domain.RetrievedPassage, error) {
	if k <= 0 {
		k = 5
	}
	reqBody := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	if qf := buildFilter(filter); qf != nil {
		reqBody["filter"] = qf
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	if err := c.do(ctx, http.MethodPost, url, body, &searchResp, "search"); err != nil {
		return nil, err
	}

	type scored struct {
		passage domain.RetrievedPassage
		seq     int64
	}
	hits := make([]scored, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		hits = append(hits, scored{
			passage: domain.RetrievedPassage{
				DocumentID: payloadString(r.Payload, "doc_id"),
				Source:     payloadString(r.Payload, "source"),
				ChunkIndex: payloadInt(r.Payload, "chunk_index"),
				Page:       payloadInt(r.Payload, "page"),
				Text:       payloadString(r.Payload, "text"),
				Score:      r.Score,
			},
			seq: payloadInt64(r.Payload, "seq"),
		})
	}

	// Qdrant orders by score; equal scores additionally order by ingestion
	// sequence so repeated queries over an unchanged index are stable.
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].passage.Score != hits[j].passage.Score {
			return hits[i].passage.Score > hits[j].passage.Score
		}
		return hits[i].seq < hits[j].seq
	})

	out := make([]domain.RetrievedPassage, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.passage)
	}
	return out, nil
}

func (c *Client) DocumentChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	out := make([]domain.Chunk, 0, 32)
	var offset any

	for {
		reqBody := map[string]any{
			"limit":        256,
			"with_payload": true,
			"with_vector":  false,
			"filter": map[string]any{
				"must": []map[string]any{
					{"key": "doc_id", "match": map[string]any{"value": documentID}},
				},
			},
		}
		if offset != nil {
			reqBody["offset"] = offset
		}
		body, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal scroll body: %w", err)
		}

		var scrollResp struct {
			Result struct {
				Points []struct {
					Payload map[string]any `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		url := fmt.Sprintf("%s/collections/%s/points/scroll", c.baseURL, c.collection)
		if err := c.do(ctx, http.MethodPost, url, body, &scrollResp, "scroll"); err != nil {
			return nil, err
		}

		for _, p := range scrollResp.Result.Points {
			out = append(out, domain.Chunk{
				DocumentID: documentID,
				Index:      payloadInt(p.Payload, "chunk_index"),
				Page:       payloadInt(p.Payload, "page"),
				Text:       payloadString(p.Payload, "text"),
			})
		}
		if scrollResp.Result.NextPageOffset == nil {
			break
		}
		offset = scrollResp.Result.NextPageOffset
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/collections", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 300
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	body, err := json.Marshal(map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	})
	if err != nil {
		return fmt.Errorf("marshal create collection body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create collection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant ensure collection request: %w", err)
	}
	defer resp.Body.Close()

	// 409 means the collection already exists.
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusConflict {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if msg := strings.TrimSpace(string(body)); msg != "" {
			return fmt.Errorf("qdrant ensure collection status: %s: %s", resp.Status, msg)
		}
		return fmt.Errorf("qdrant ensure collection status: %s", resp.Status)
	}

	c.ensureMu.Lock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
	c.ensureMu.Unlock()
	return nil
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, out any, operation string) error {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if msg := strings.TrimSpace(string(raw)); msg != "" {
			return fmt.Errorf("qdrant %s status: %s: %s", operation, resp.Status, msg)
		}
		return fmt.Errorf("qdrant %s status: %s", operation, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func pointID(documentID string, chunkIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "%s:%d", documentID, chunkIndex)).String()
}

func payloadString(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func payloadInt(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}

func payloadInt64(payload map[string]any, key string) int64 {
	switch v := payload[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}
