package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/pkg/errors"
	"github.com/qubic/hive-streamer/entities"
)

const indexMapping = `{
  "mappings": {
    "properties": {
      "date":          { "type": "date" },
      "contract":      { "type": "keyword" },
      "action":        { "type": "keyword" },
      "transactionId": { "type": "keyword" },
      "operationIndex": { "type": "integer" },
      "blockNumber":   { "type": "long" },
      "payload":       { "type": "object", "enabled": false },
      "data":          { "type": "flattened" }
    }
  }
}`

// defaultPageSize keeps every search well below the index.max_result_window of 10000.
const defaultPageSize = 1000

type elasticHits struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string            `json:"_id"`
			Source json.RawMessage   `json:"_source"`
			Sort   []json.RawMessage `json:"sort"`
		} `json:"hits"`
	} `json:"hits"`
}

type elasticCount struct {
	Count int `json:"count"`
}

type elasticDocument struct {
	Index  string          `json:"_index"`
	Id     string          `json:"_id"`
	Found  bool            `json:"found"`
	Source json.RawMessage `json:"_source"`
}

// EventStore keeps contract events in an elasticsearch index, one document per
// contract, operation and action.
type EventStore struct {
	esClient *elasticsearch.Client
	index    string
	pageSize int
}

func NewEventStore(esClient *elasticsearch.Client, index string) *EventStore {
	return &EventStore{
		esClient: esClient,
		index:    index,
		pageSize: defaultPageSize,
	}
}

func documentID(contract string, op entities.OperationRef, action string) string {
	return fmt.Sprintf("%s-%s-%d-%s", contract, op.TransactionID, op.OperationIndex, action)
}

func term(field string, value any) map[string]any {
	return map[string]any{"term": map[string]any{field: value}}
}

func filterQuery(filters ...map[string]any) map[string]any {
	return map[string]any{"bool": map[string]any{"filter": filters}}
}

func actionFilters(contract, action string, match map[string]string) []map[string]any {
	filters := []map[string]any{term("contract", contract), term("action", action)}
	for field, value := range match {
		filters = append(filters, term("data."+field, value))
	}
	return filters
}

// EnsureIndex creates the events index with keyword mappings if it does not exist yet.
func (es *EventStore) EnsureIndex(ctx context.Context) error {
	res, err := es.esClient.Indices.Exists([]string{es.index}, es.esClient.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("calling elastic: %w", err)
	}
	closeBody(res)
	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = es.esClient.Indices.Create(es.index,
		es.esClient.Indices.Create.WithBody(bytes.NewReader([]byte(indexMapping))),
		es.esClient.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("calling elastic: %w", err)
	}
	defer closeBody(res)

	if res.IsError() {
		return errors.Errorf("creating index [%s]: %s", es.index, res.String())
	}
	return nil
}

func (es *EventStore) AddEvent(ctx context.Context, event entities.ContractEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshalling event")
	}

	res, err := es.esClient.Index(es.index, bytes.NewReader(data),
		es.esClient.Index.WithDocumentID(documentID(event.Contract, event.Operation(), event.Action)),
		es.esClient.Index.WithRefresh("true"),
		es.esClient.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("calling elastic: %w", err)
	}
	defer closeBody(res)

	if res.IsError() {
		return errors.Errorf("indexing event for operation [%s]: %s", event.Operation(), res.String())
	}
	return nil
}

func (es *EventStore) GetEvent(ctx context.Context, contract string, op entities.OperationRef, action string) (entities.ContractEvent, error) {
	res, err := es.esClient.Get(es.index, documentID(contract, op, action), es.esClient.Get.WithContext(ctx))
	if err != nil {
		return entities.ContractEvent{}, fmt.Errorf("calling elastic: %w", err)
	}
	defer closeBody(res)

	if res.StatusCode == http.StatusNotFound {
		return entities.ContractEvent{}, entities.ErrStoreEntityNotFound
	}
	if res.IsError() {
		return entities.ContractEvent{}, errors.Errorf("getting event for operation [%s]: %s", op, res.String())
	}

	var document elasticDocument
	if err = json.NewDecoder(res.Body).Decode(&document); err != nil {
		return entities.ContractEvent{}, errors.Wrap(err, "decoding document")
	}
	if !document.Found {
		return entities.ContractEvent{}, entities.ErrStoreEntityNotFound
	}

	var event entities.ContractEvent
	if err = json.Unmarshal(document.Source, &event); err != nil {
		return entities.ContractEvent{}, errors.Wrapf(err, "unmarshalling event [%s]", document.Id)
	}
	return event, nil
}

func (es *EventStore) HasEvent(ctx context.Context, contract string, op entities.OperationRef) (bool, error) {
	query := map[string]any{
		"size":             0,
		"track_total_hits": true,
		"query": filterQuery(
			term("contract", contract),
			term("transactionId", op.TransactionID),
			term("operationIndex", op.OperationIndex),
		),
	}

	hits, err := es.search(ctx, query)
	if err != nil {
		return false, err
	}
	return hits.Hits.Total.Value > 0, nil
}

// Events returns the events of one contract action in chain order. Only events whose data
// contains every pair of match are returned. Results are paged with search_after.
func (es *EventStore) Events(ctx context.Context, contract, action string, match map[string]string) ([]entities.ContractEvent, error) {
	query := map[string]any{
		"size":  es.pageSize,
		"sort":  []map[string]string{{"blockNumber": "asc"}, {"transactionId": "asc"}, {"operationIndex": "asc"}},
		"query": filterQuery(actionFilters(contract, action, match)...),
	}

	var events []entities.ContractEvent
	for {
		hits, err := es.search(ctx, query)
		if err != nil {
			return nil, err
		}

		for _, hit := range hits.Hits.Hits {
			var event entities.ContractEvent
			if err = json.Unmarshal(hit.Source, &event); err != nil {
				return nil, errors.Wrapf(err, "unmarshalling event [%s]", hit.ID)
			}
			events = append(events, event)
		}

		if len(hits.Hits.Hits) < es.pageSize {
			return events, nil
		}
		last := hits.Hits.Hits[len(hits.Hits.Hits)-1]
		if len(last.Sort) == 0 {
			return nil, errors.Errorf("missing sort values on event [%s]", last.ID)
		}
		query["search_after"] = last.Sort
	}
}

func (es *EventStore) CountEvents(ctx context.Context, contract, action string) (int, error) {
	body, err := json.Marshal(map[string]any{"query": filterQuery(actionFilters(contract, action, nil)...)})
	if err != nil {
		return 0, errors.Wrap(err, "marshalling count query")
	}

	res, err := es.esClient.Count(
		es.esClient.Count.WithContext(ctx),
		es.esClient.Count.WithIndex(es.index),
		es.esClient.Count.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return 0, fmt.Errorf("calling elastic: %w", err)
	}
	defer closeBody(res)

	if res.IsError() {
		return 0, errors.Errorf("counting events: %s", res.String())
	}

	var count elasticCount
	if err = json.NewDecoder(res.Body).Decode(&count); err != nil {
		return 0, errors.Wrap(err, "decoding count response")
	}
	return count.Count, nil
}

func (es *EventStore) search(ctx context.Context, query map[string]any) (elasticHits, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return elasticHits{}, errors.Wrap(err, "marshalling search query")
	}

	res, err := es.esClient.Search(
		es.esClient.Search.WithContext(ctx),
		es.esClient.Search.WithIndex(es.index),
		es.esClient.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return elasticHits{}, fmt.Errorf("calling elastic: %w", err)
	}
	defer closeBody(res)

	if res.IsError() {
		return elasticHits{}, errors.Errorf("searching events: %s", res.String())
	}

	var hits elasticHits
	if err = json.NewDecoder(res.Body).Decode(&hits); err != nil {
		return elasticHits{}, errors.Wrap(err, "decoding search response")
	}
	return hits, nil
}

func closeBody(res *esapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, res.Body)
	if err := res.Body.Close(); err != nil {
		log.Printf("Error closing body: %v", err)
	}
}
