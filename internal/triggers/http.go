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

package triggers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tombee/autoflow/internal/log"
	"github.com/tombee/autoflow/internal/runner"
	"github.com/tombee/autoflow/internal/store"
	"github.com/tombee/autoflow/pkg/automation"
	"github.com/tombee/autoflow/pkg/errors"
)

// DefaultMaxBodyBytes caps trigger request bodies.
const DefaultMaxBodyBytes = 1 << 20

// RowReader fetches the row a ROW_ACTION was clicked on.
type RowReader interface {
	GetRow(ctx context.Context, tableID, id string) (store.Row, error)
}

// HTTPConfig configures an HTTPHandler.
type HTTPConfig struct {
	// Secret turns on bearer authentication. Requests must then carry an
	// HS256 token signed with it.
	Secret string

	MaxBodyBytes int64
	Logger       *slog.Logger
}

// Claims are the token claims the handler reads. The subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

func (c *Claims) user() map[string]any {
	if c == nil {
		return nil
	}
	u := map[string]any{"_id": c.Subject}
	if c.Email != "" {
		u["email"] = c.Email
	}
	if c.Name != "" {
		u["name"] = c.Name
	}
	return u
}

// IssueToken signs claims for the handler's secret. A zero ttl leaves the
// token without expiry.
func IssueToken(secret string, claims Claims, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("no signing secret configured")
	}
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// HTTPHandler receives WEBHOOK posts, APP invocations and ROW_ACTION clicks.
//
//	POST /api/webhooks/trigger/{automationID}              202, async
//	POST /api/automations/{automationID}/trigger           200, waits for the run
//	POST /api/tables/{tableID}/actions/{actionID}/trigger  202, async
type HTTPHandler struct {
	catalog Catalog
	starter Starter
	rows    RowReader
	secret  []byte
	maxBody int64
	logger  *slog.Logger
	handler http.Handler
}

// NewHTTPHandler builds the trigger endpoints. rows may be nil, in which case
// the row action route is not served.
func NewHTTPHandler(catalog Catalog, starter Starter, rows RowReader, cfg HTTPConfig) *HTTPHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	h := &HTTPHandler{
		catalog: catalog,
		starter: starter,
		rows:    rows,
		maxBody: cfg.MaxBodyBytes,
		logger:  log.WithComponent(logger, "http-trigger"),
	}
	if cfg.Secret != "" {
		h.secret = []byte(cfg.Secret)
	}

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	h.handler = log.HTTPMiddleware(h.logger, mux)
	return h
}

// RegisterRoutes registers the trigger routes on mux without request
// logging.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/webhooks/trigger/{automationID}", h.handleWebhook)
	mux.HandleFunc("POST /api/automations/{automationID}/trigger", h.handleApp)
	if h.rows != nil {
		mux.HandleFunc("POST /api/tables/{tableID}/actions/{actionID}/trigger", h.handleRowAction)
	}
}

// ServeHTTP implements http.Handler with request logging.
func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

func (h *HTTPHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}
	a, ok := h.load(w, r, automation.TriggerWebhook)
	if !ok {
		return
	}

	var body map[string]any
	if !h.decode(w, r, &body) {
		return
	}
	if body == nil {
		body = map[string]any{}
	}

	runID, err := h.starter.StartRun(r.Context(), a, map[string]any{"body": body})
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "triggered",
		"runId":        runID,
		"automationId": a.ID,
	})
}

type appRequest struct {
	Fields map[string]any `json:"fields"`
}

func (h *HTTPHandler) handleApp(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	a, ok := h.load(w, r, automation.TriggerApp)
	if !ok {
		return
	}

	var req appRequest
	if !h.decode(w, r, &req) {
		return
	}
	payload := map[string]any{"fields": req.Fields}
	if u := claims.user(); u != nil {
		payload["user"] = u
	}

	res, err := h.starter.RunSync(r.Context(), a, payload)
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type rowActionRequest struct {
	RowID string `json:"rowId"`
}

func (h *HTTPHandler) handleRowAction(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	tableID := r.PathValue("tableID")
	actionID := r.PathValue("actionID")

	var req rowActionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.RowID == "" {
		writeError(w, http.StatusBadRequest, "rowId is required")
		return
	}

	autos, err := listByKind(r.Context(), h.catalog, automation.TriggerRowAction)
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	var targets []*automation.Automation
	for _, a := range autos {
		in, ok := a.Trigger.Inputs.(automation.RowActionTriggerInputs)
		if ok && in.TableID == tableID && in.RowActionID == actionID {
			targets = append(targets, a)
		}
	}
	if len(targets) == 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no automation handles row action %s on table %s", actionID, tableID))
		return
	}

	row, err := h.rows.GetRow(r.Context(), tableID, req.RowID)
	if err != nil {
		h.writeRunError(w, err)
		return
	}

	payload := map[string]any{"row": row}
	if u := claims.user(); u != nil {
		payload["user"] = u
	}
	// Runs that started stay started; the caller gets their ids alongside
	// the automations that could not start.
	runIDs := make([]string, 0, len(targets))
	var (
		failed   []rowActionFailure
		firstErr error
	)
	for _, a := range targets {
		runID, err := h.starter.StartRun(r.Context(), a, payload)
		if err != nil {
			h.logger.Warn("row action run not started",
				slog.String(log.AutomationIDKey, a.ID),
				log.Error(err),
			)
			failed = append(failed, rowActionFailure{AutomationID: a.ID, Error: err.Error()})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		runIDs = append(runIDs, runID)
	}
	if len(runIDs) == 0 {
		h.writeRunError(w, firstErr)
		return
	}

	resp := map[string]any{
		"status": "triggered",
		"runIds": runIDs,
	}
	if len(failed) > 0 {
		resp["failed"] = failed
	}
	writeJSON(w, http.StatusAccepted, resp)
}

type rowActionFailure struct {
	AutomationID string `json:"automationId"`
	Error        string `json:"error"`
}

// authenticate checks the bearer token when a secret is configured. It writes
// the 401 itself.
func (h *HTTPHandler) authenticate(w http.ResponseWriter, r *http.Request) (*Claims, bool) {
	if len(h.secret) == 0 {
		return nil, true
	}
	raw, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found || raw == "" {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return nil, false
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return h.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		h.logger.Warn("trigger authentication failed", slog.String("path", r.URL.Path), log.Error(err))
		writeError(w, http.StatusUnauthorized, "invalid bearer token")
		return nil, false
	}
	return claims, true
}

// load fetches the automation named in the path and checks its trigger kind.
func (h *HTTPHandler) load(w http.ResponseWriter, r *http.Request, kind automation.StepID) (*automation.Automation, bool) {
	id := r.PathValue("automationID")
	a, err := h.catalog.LoadAutomation(r.Context(), id)
	if err != nil {
		h.writeRunError(w, err)
		return nil, false
	}
	if a.Trigger.StepID != kind {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("automation %s is triggered by %s, not %s", id, a.Trigger.StepID, kind))
		return nil, false
	}
	return a, true
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return false
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return true
	}
	if err := json.Unmarshal(data, v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("body must be a JSON object: %v", err))
		return false
	}
	return true
}

func (h *HTTPHandler) writeRunError(w http.ResponseWriter, err error) {
	var (
		verr *errors.ValidationError
		serr *automation.StepError
	)
	switch {
	case errors.Is(err, runner.ErrDraining):
		w.Header().Set("Retry-After", "10")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &verr) && verr.Field == "disabled":
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &verr), errors.As(err, &serr):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("trigger request failed", log.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
