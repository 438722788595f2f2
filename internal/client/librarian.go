package client

import (
	"context"
	"encoding/json"
	"net/http"
)

// Librarian is the client for the persistence service. Mission Control
// uses its typed endpoints and never sees the storage engine behind them.
type Librarian struct {
	base    *Client
	baseURL string
}

// NewLibrarian creates a Librarian client.
func NewLibrarian(base *Client, baseURL string) *Librarian {
	return &Librarian{base: base, baseURL: baseURL}
}

type storeDataRequest struct {
	ID         string `json:"id"`
	Collection string `json:"collection"`
	Data       any    `json:"data"`
}

// StoreData writes a document keyed by id into a collection.
func (l *Librarian) StoreData(ctx context.Context, id, collection string, data any) error {
	return l.base.Do(ctx, http.MethodPost, l.baseURL+"/storeData", storeDataRequest{
		ID:         id,
		Collection: collection,
		Data:       data,
	}, nil)
}

type loadDataResponse struct {
	Data json.RawMessage `json:"data"`
}

// LoadData reads the document keyed by id from a collection. A missing
// document surfaces as the 404 the Librarian returns.
func (l *Librarian) LoadData(ctx context.Context, id, collection string) (json.RawMessage, error) {
	var resp loadDataResponse
	url := l.baseURL + "/loadData/" + id + "?collection=" + collection
	if err := l.base.Do(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

type queryDataRequest struct {
	Collection string         `json:"collection"`
	Query      map[string]any `json:"query"`
}

type queryDataResponse struct {
	Data []json.RawMessage `json:"data"`
}

// QueryData returns every document in a collection matching the query.
func (l *Librarian) QueryData(ctx context.Context, collection string, query map[string]any) ([]json.RawMessage, error) {
	var resp queryDataResponse
	if err := l.base.Do(ctx, http.MethodPost, l.baseURL+"/queryData", queryDataRequest{
		Collection: collection,
		Query:      query,
	}, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// DeleteCollection removes every document in a collection.
func (l *Librarian) DeleteCollection(ctx context.Context, collection string) error {
	return l.base.Do(ctx, http.MethodDelete, l.baseURL+"/deleteCollection?collection="+collection, nil, nil)
}
