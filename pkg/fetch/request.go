package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Request describes one logical HTTP request. Pagination drivers clone a
// base request per page instead of mutating it, so concurrent page fetches
// never share mutable state.
type Request struct {
	Method string
	URL    string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// NewRequest creates a GET-by-default request for the given URL.
func NewRequest(method, rawURL string) *Request {
	if method == "" {
		method = http.MethodGet
	}
	return &Request{
		Method: method,
		URL:    rawURL,
		Query:  url.Values{},
		Header: http.Header{},
	}
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	query := url.Values{}
	for key, vals := range r.Query {
		query[key] = append([]string(nil), vals...)
	}
	header := r.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	var body []byte
	if r.Body != nil {
		body = append([]byte(nil), r.Body...)
	}
	return &Request{
		Method: r.Method,
		URL:    r.URL,
		Query:  query,
		Header: header,
		Body:   body,
	}
}

// WithQuery returns a copy of the request with the query parameter set.
func (r *Request) WithQuery(key, value string) *Request {
	clone := r.Clone()
	clone.Query.Set(key, value)
	return clone
}

// WithHeader returns a copy of the request with the header set.
func (r *Request) WithHeader(key, value string) *Request {
	clone := r.Clone()
	clone.Header.Set(key, value)
	return clone
}

// WithJSONBody returns a copy of the request carrying v as a JSON body.
func (r *Request) WithJSONBody(v any) (*Request, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	clone := r.Clone()
	clone.Body = data
	clone.Header.Set("Content-Type", "application/json")
	return clone, nil
}

// Endpoint returns the request path for logging and metric labels.
// Query values stay out of labels to bound cardinality.
func (r *Request) Endpoint() string {
	parsed, err := url.Parse(r.URL)
	if err != nil {
		return r.URL
	}
	return parsed.Path
}

// build materializes the descriptor into an *http.Request.
func (r *Request) build(ctx context.Context) (*http.Request, error) {
	parsed, err := url.Parse(r.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", r.URL, err)
	}

	// Merge descriptor query on top of any query already in the URL.
	if len(r.Query) > 0 {
		merged := parsed.Query()
		for key, vals := range r.Query {
			merged[key] = vals
		}
		parsed.RawQuery = merged.Encode()
	}

	var body *bytes.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, parsed.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for key, vals := range r.Header {
		for _, val := range vals {
			req.Header.Add(key, val)
		}
	}

	return req, nil
}
