package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"

	"github.com/oarkflow/ubac"
)

const esAuditIndex = "ubac-audit"

// ESAuditStore appends and queries audit records in Elasticsearch.
type ESAuditStore struct {
	client *elasticsearch.Client
	index  string
}

// NewESAuditStore connects to Elasticsearch at the given URL.
func NewESAuditStore(esURL string) (*ESAuditStore, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{esURL},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &ESAuditStore{client: client, index: esAuditIndex}, nil
}

// NewESAuditStoreWithClient wraps an existing client, for tests and custom transports.
func NewESAuditStoreWithClient(client *elasticsearch.Client, index string) *ESAuditStore {
	if index == "" {
		index = esAuditIndex
	}
	return &ESAuditStore{client: client, index: index}
}

func (s *ESAuditStore) Append(ctx context.Context, rec *ubac.AuditRecord) error {
	doc := *rec
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Timestamp.IsZero() {
		doc.Timestamp = time.Now()
	}
	data, err := json.Marshal(&doc)
	if err != nil {
		return err
	}
	req := esapi.IndexRequest{
		Index:      s.index,
		DocumentID: doc.ID,
		Body:       strings.NewReader(string(data)),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("error indexing document: %s", res.String())
	}
	return nil
}

func (s *ESAuditStore) Query(ctx context.Context, filter ubac.AuditFilter) ([]*ubac.AuditRecord, error) {
	must := make([]interface{}, 0)
	if !filter.StartTime.IsZero() || !filter.EndTime.IsZero() {
		rng := map[string]interface{}{}
		if !filter.StartTime.IsZero() {
			rng["gte"] = filter.StartTime.Format(time.RFC3339)
		}
		if !filter.EndTime.IsZero() {
			rng["lte"] = filter.EndTime.Format(time.RFC3339)
		}
		must = append(must, map[string]interface{}{
			"range": map[string]interface{}{"timestamp": rng},
		})
	}
	if filter.Principal != "" {
		must = append(must, map[string]interface{}{
			"match": map[string]interface{}{"principal_name": filter.Principal},
		})
	}
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"must": must},
		},
		"sort": []interface{}{
			map[string]interface{}{"timestamp": map[string]interface{}{"order": "asc"}},
		},
	}

	var buf strings.Builder
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, err
	}

	opts := []func(*esapi.SearchRequest){
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(strings.NewReader(buf.String())),
	}
	if filter.Limit > 0 {
		opts = append(opts, s.client.Search.WithSize(filter.Limit))
	}
	res, err := s.client.Search(opts...)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("error searching documents: %s", res.String())
	}

	var rmap map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&rmap); err != nil {
		return nil, err
	}
	hitsWrap, ok := rmap["hits"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	hits, ok := hitsWrap["hits"].([]interface{})
	if !ok {
		return nil, nil
	}
	out := make([]*ubac.AuditRecord, 0, len(hits))
	for _, hit := range hits {
		h, ok := hit.(map[string]interface{})
		if !ok {
			continue
		}
		source, err := json.Marshal(h["_source"])
		if err != nil {
			continue
		}
		var rec ubac.AuditRecord
		if err := json.Unmarshal(source, &rec); err != nil {
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}
