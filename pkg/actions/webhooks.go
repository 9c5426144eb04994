package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tombee/autoflow/pkg/automation"
)

// maxResponseSize caps how much of a webhook response is read.
const maxResponseSize = 10 * 1024 * 1024

// failedResponse is reported when a response body cannot be read or parsed.
const failedResponse = "Failed to retrieve response"

// webhooks sends the outgoing webhook family.
type webhooks struct {
	client *http.Client
}

// request is one outgoing call.
type request struct {
	method  string
	url     string
	headers map[string]string
	body    []byte
}

func (w *webhooks) outgoing(ctx context.Context, in automation.OutgoingWebhookInputs, _ *automation.RunContext) (automation.ExternalAppOutputs, error) {
	method := strings.ToUpper(strings.TrimSpace(in.RequestMethod))
	if method == "" {
		method = http.MethodPost
	}

	headers := map[string]string{}
	if strings.TrimSpace(in.Headers) != "" {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(in.Headers), &parsed); err != nil {
			return automation.ExternalAppOutputs{}, automation.Failf("invalid headers JSON: %v", err)
		}
		for k, v := range parsed {
			headers[k] = fmt.Sprint(v)
		}
	}

	var body []byte
	if strings.TrimSpace(in.RequestBody) != "" && method != http.MethodGet && method != http.MethodHead {
		if !json.Valid([]byte(in.RequestBody)) {
			return automation.ExternalAppOutputs{}, automation.Failf("invalid payload JSON")
		}
		body = []byte(in.RequestBody)
		if _, set := headers["Content-Type"]; !set {
			headers["Content-Type"] = "application/json"
		}
	}

	return w.send(ctx, request{method: method, url: in.URL, headers: headers, body: body})
}

func (w *webhooks) discord(ctx context.Context, in automation.DiscordInputs, _ *automation.RunContext) (automation.ExternalAppOutputs, error) {
	payload := map[string]any{"content": in.Content}
	if in.Username != "" {
		payload["username"] = in.Username
	}
	if in.AvatarURL != "" {
		payload["avatar_url"] = in.AvatarURL
	}
	return w.postJSON(ctx, in.URL, payload)
}

func (w *webhooks) slack(ctx context.Context, in automation.SlackInputs, _ *automation.RunContext) (automation.ExternalAppOutputs, error) {
	return w.postJSON(ctx, in.URL, map[string]any{"text": in.Text})
}

// zapier posts the payload with the platform marker Zapier uses to label the
// source of a catch hook.
func (w *webhooks) zapier(ctx context.Context, in automation.ZapierInputs, _ *automation.RunContext) (automation.ExternalAppOutputs, error) {
	body, err := payloadObject(in.Body)
	if err != nil {
		return automation.ExternalAppOutputs{}, err
	}
	body["platform"] = "autoflow"
	return w.postJSON(ctx, in.URL, body)
}

func (w *webhooks) integromat(ctx context.Context, in automation.IntegromatInputs, _ *automation.RunContext) (automation.ExternalAppOutputs, error) {
	body, err := payloadObject(in.Body)
	if err != nil {
		return automation.ExternalAppOutputs{}, err
	}
	return w.postJSON(ctx, in.URL, body)
}

// n8n sends the payload as a JSON body, or as query parameters for methods
// that carry no body.
func (w *webhooks) n8n(ctx context.Context, in automation.N8NInputs, _ *automation.RunContext) (automation.ExternalAppOutputs, error) {
	method := strings.ToUpper(strings.TrimSpace(in.Method))
	if method == "" {
		method = http.MethodPost
	}
	body, err := payloadObject(in.Body)
	if err != nil {
		return automation.ExternalAppOutputs{}, err
	}

	headers := map[string]string{}
	if in.Authorization != "" {
		headers["Authorization"] = in.Authorization
	}

	req := request{method: method, url: in.URL, headers: headers}
	if method == http.MethodGet || method == http.MethodHead {
		u, err := url.Parse(in.URL)
		if err != nil {
			return automation.ExternalAppOutputs{}, automation.Failf("invalid url %q: %v", in.URL, err)
		}
		q := u.Query()
		for k, v := range body {
			q.Set(k, fmt.Sprint(v))
		}
		u.RawQuery = q.Encode()
		req.url = u.String()
	} else {
		data, err := json.Marshal(body)
		if err != nil {
			return automation.ExternalAppOutputs{}, automation.Failf("encode payload: %v", err)
		}
		req.body = data
		headers["Content-Type"] = "application/json"
	}
	return w.send(ctx, req)
}

func (w *webhooks) postJSON(ctx context.Context, target string, payload any) (automation.ExternalAppOutputs, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return automation.ExternalAppOutputs{}, automation.Failf("encode payload: %v", err)
	}
	headers := map[string]string{"Content-Type": "application/json"}
	return w.send(ctx, request{method: http.MethodPost, url: target, headers: headers, body: data})
}

// send performs the request. A non-2xx response is an ActionFailure carrying
// the status; transport errors are returned as they are.
func (w *webhooks) send(ctx context.Context, r request) (automation.ExternalAppOutputs, error) {
	u, err := url.Parse(r.url)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return automation.ExternalAppOutputs{}, automation.Failf("invalid url %q", r.url)
	}

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return automation.ExternalAppOutputs{}, automation.Failf("build request: %v", err)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return automation.ExternalAppOutputs{}, fmt.Errorf("%s %s: %w", r.method, u.Redacted(), err)
	}
	defer resp.Body.Close()

	status, message := fetchResponse(resp)
	if status < 200 || status > 299 {
		return automation.ExternalAppOutputs{}, &automation.ActionFailure{
			Message: fmt.Sprintf("request failed: %s", describe(message)),
			Status:  status,
		}
	}
	return automation.ExternalAppOutputs{HTTPStatus: status, Response: message, Success: true}, nil
}

// fetchResponse decodes a JSON body when the content type says so and
// returns the text otherwise.
func fetchResponse(resp *http.Response) (int, any) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp.StatusCode, failedResponse
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return resp.StatusCode, failedResponse
		}
		return resp.StatusCode, v
	}
	return resp.StatusCode, string(data)
}

// payloadObject accepts a JSON object, its string encoding, or nothing.
func payloadObject(v any) (map[string]any, error) {
	switch t := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = val
		}
		return out, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return map[string]any{}, nil
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(t), &out); err != nil {
			return nil, automation.Failf("invalid payload JSON: %v", err)
		}
		if out == nil {
			out = map[string]any{}
		}
		return out, nil
	default:
		return nil, automation.Failf("payload must be a JSON object, got %T", v)
	}
}

func describe(message any) string {
	switch t := message.(type) {
	case string:
		if len(t) > 200 {
			return t[:200] + "..."
		}
		return t
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return describe(string(data))
	}
}
