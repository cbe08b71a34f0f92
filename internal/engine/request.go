// package engine performs authenticated calls against the REST API: credential attachment,
// retries, request deduplication and pagination.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/desertthunder/spotcore/internal/shared"
)

// Param is one query parameter. Order is kept when the request is sent.
type Param struct {
	Name  string
	Value string
}

// Q builds a [Param].
func Q(name, value string) Param {
	return Param{Name: name, Value: value}
}

// NoContent is the result type for calls answered with 204. It is never decoded.
type NoContent struct{}

// Request describes one logical call. Values are treated as immutable once built.
type Request struct {
	Method string
	Path   string // relative to the base URL, or an absolute URL such as a page's next link
	Query  []Param
	Body   any // encoded as JSON; []byte and json.RawMessage are sent as is

	// Shared routes the call through the deduplication registry. Only set it for idempotent reads.
	Shared bool
}

// Get returns a shared GET request.
func Get(path string, query ...Param) Request {
	return Request{Method: http.MethodGet, Path: path, Query: query, Shared: true}
}

// Put returns a PUT request with a JSON body.
func Put(path string, body any, query ...Param) Request {
	return Request{Method: http.MethodPut, Path: path, Query: query, Body: body}
}

// Post returns a POST request with a JSON body.
func Post(path string, body any, query ...Param) Request {
	return Request{Method: http.MethodPost, Path: path, Query: query, Body: body}
}

// Delete returns a DELETE request. body may be nil.
func Delete(path string, body any, query ...Param) Request {
	return Request{Method: http.MethodDelete, Path: path, Query: query, Body: body}
}

func (r Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// encodeBody serializes the body once per logical call so every attempt sends identical bytes.
func (r Request) encodeBody() ([]byte, error) {
	switch b := r.Body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	}

	data, err := json.Marshal(r.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode body for %s: %v", shared.ErrInvalidRequest, r.Path, err)
	}
	return data, nil
}

// Fingerprint canonicalizes the request for deduplication.
//
// Query parameters are sorted by name then value, so two requests that differ only in
// parameter order share a fingerprint.
func (r Request) Fingerprint() (string, error) {
	body, err := r.encodeBody()
	if err != nil {
		return "", err
	}
	return r.fingerprint(body), nil
}

func (r Request) fingerprint(body []byte) string {
	query := slices.Clone(r.Query)
	slices.SortFunc(query, func(a, b Param) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.Value, b.Value)
	})

	var b strings.Builder
	b.WriteString(strconv.Quote(r.method()))
	b.WriteByte(' ')
	b.WriteString(strconv.Quote(r.Path))
	b.WriteByte(' ')
	b.WriteString(strconv.Quote(encodeQuery(query)))
	b.WriteByte('\n')
	b.Write(body)
	return b.String()
}

// encodeQuery escapes params in the given order.
func encodeQuery(params []Param) string {
	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}

// resolve joins the request path and query onto baseURL.
func (r Request) resolve(baseURL string) (string, error) {
	target := r.Path
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		if !strings.HasPrefix(target, "/") {
			target = "/" + target
		}
		target = strings.TrimRight(baseURL, "/") + target
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("%w: bad path %q: %v", shared.ErrInvalidRequest, r.Path, err)
	}
	if len(r.Query) > 0 {
		q := encodeQuery(r.Query)
		if u.RawQuery != "" {
			u.RawQuery += "&" + q
		} else {
			u.RawQuery = q
		}
	}
	return u.String(), nil
}

func (r Request) newHTTPRequest(ctx context.Context, baseURL string, body []byte) (*http.Request, error) {
	target, err := r.resolve(baseURL)
	if err != nil {
		return nil, err
	}

	var req *http.Request
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, r.method(), target, bytes.NewReader(body))
	} else {
		req, err = http.NewRequestWithContext(ctx, r.method(), target, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", shared.ErrInvalidRequest, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
