// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const maxRESTResponseSize = 10 * 1024 * 1024

type restSource struct {
	client  *http.Client
	baseURL string
	headers map[string]string
}

func (r *Runner) restSource(ds Datasource) (*restSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if src, ok := r.rest[ds.ID]; ok {
		return src, nil
	}

	client := r.client
	switch {
	case ds.AWS != nil:
		signer, err := newSigV4Transport(context.Background(), *ds.AWS, r.client.Transport)
		if err != nil {
			return nil, fmt.Errorf("datasource %s: %w", ds.ID, err)
		}
		client = &http.Client{Transport: signer, Timeout: r.client.Timeout}
	case ds.OAuth2 != nil:
		o := ds.OAuth2
		cc := &clientcredentials.Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			TokenURL:     o.TokenURL,
			Scopes:       o.Scopes,
		}
		// Token requests go through the same client as the API calls.
		tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, r.client)
		client = &http.Client{
			Transport: &oauth2.Transport{
				Source: cc.TokenSource(tokenCtx),
				Base:   r.client.Transport,
			},
			Timeout: r.client.Timeout,
		}
	}

	src := &restSource{
		client:  client,
		baseURL: strings.TrimRight(ds.BaseURL, "/"),
		headers: ds.Headers,
	}
	r.rest[ds.ID] = src
	return src, nil
}

func (s *restSource) run(ctx context.Context, q Query, params map[string]any) (*Result, error) {
	method := strings.ToUpper(q.Method)
	if method == "" {
		method = http.MethodGet
	}

	target := s.baseURL
	if q.Path != "" {
		target += "/" + strings.TrimLeft(interpolate(q.Path, params), "/")
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, &QueryError{QueryID: q.ID, Cause: fmt.Errorf("invalid url: %w", err)}
	}
	if len(q.Query) > 0 {
		values := u.Query()
		for k, v := range q.Query {
			values.Set(k, interpolate(v, params))
		}
		u.RawQuery = values.Encode()
	}

	var body io.Reader
	if q.Body != "" {
		body = strings.NewReader(interpolate(q.Body, params))
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, &QueryError{QueryID: q.ID, Cause: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range s.headers {
		req.Header.Set(k, interpolate(v, params))
	}
	for k, v := range q.Headers {
		req.Header.Set(k, interpolate(v, params))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, u.Redacted(), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRESTResponseSize))
	if err != nil {
		return nil, &QueryError{QueryID: q.ID, Status: resp.StatusCode, Cause: err}
	}

	var response any = string(data)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") && len(data) > 0 {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, &QueryError{QueryID: q.ID, Status: resp.StatusCode, Cause: fmt.Errorf("invalid JSON response: %w", err)}
		}
		response = v
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &QueryError{QueryID: q.ID, Status: resp.StatusCode, Cause: fmt.Errorf("%s", strings.TrimSpace(string(data)))}
	}

	return &Result{
		Response: response,
		Info: map[string]any{
			"code": resp.StatusCode,
			"size": len(data),
		},
	}, nil
}
