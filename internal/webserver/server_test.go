package webserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tejzpr/training-desk/internal/auth"
	"github.com/tejzpr/training-desk/internal/db"
	"github.com/tejzpr/training-desk/internal/db/dbtest"
	"github.com/tejzpr/training-desk/internal/errcodes"
	"github.com/tejzpr/training-desk/internal/notify"
	"github.com/tejzpr/training-desk/internal/workflow"
)

var (
	member   = auth.Actor{ID: "1001", Name: "deputy.a", Claims: []string{"dst"}}
	reviewer = auth.Actor{ID: "2002", Name: "fto.b", Claims: []string{"fto"}}
	outsider = auth.Actor{ID: "3003", Name: "cadet.c"}
)

type testDesk struct {
	server *Server
	tokens *auth.Tokens
	broker *notify.Broker
}

func setup(t *testing.T, opts ...Option) *testDesk {
	t.Helper()
	tokens, err := auth.NewTokens("test-secret")
	if err != nil {
		t.Fatalf("failed to create tokens: %v", err)
	}
	broker := notify.NewBroker("review", "results")
	engine := workflow.New(dbtest.Open(t), broker, workflow.Config{
		Claims:         workflow.Claims{Standard: "dst", Elevated: "evoc", Reviewer: "fto"},
		ReviewChannel:  "review",
		ResultsChannel: "results",
		CooldownWindow: time.Hour,
	})
	opts = append([]Option{WithBroker(broker), WithReviewerClaim("fto")}, opts...)
	return &testDesk{server: New(engine, tokens, opts...), tokens: tokens, broker: broker}
}

func (d *testDesk) do(t *testing.T, actor *auth.Actor, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if actor != nil {
		token, err := d.tokens.Issue(*actor, time.Hour)
		if err != nil {
			t.Fatalf("failed to issue token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	d.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var eb errorBody
	if err := json.NewDecoder(w.Body).Decode(&eb); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return eb
}

func TestHealth(t *testing.T) {
	d := setup(t)
	w := d.do(t, nil, "GET", "/api/health", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), healthMagic) {
		t.Fatalf("unexpected health response %d: %s", w.Code, w.Body.String())
	}
}

func TestSubmitStandard(t *testing.T) {
	d := setup(t)

	w := d.do(t, &member, "POST", "/api/trainings/standard", `{"availability":"Fri 6pm","eligible":true}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Request  db.Request         `json:"request"`
		Warnings []workflow.Warning `json:"warnings"`
		Message  string             `json:"message"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Request.ID != "LASD-DST001" {
		t.Errorf("expected LASD-DST001, got %q", body.Request.ID)
	}
	// Nobody is subscribed for the member, so the DM warning is expected.
	if len(body.Warnings) != 1 || !strings.Contains(body.Message, "couldn't DM you") {
		t.Errorf("expected DM warning, got %+v / %q", body.Warnings, body.Message)
	}
}

func TestSubmitCooldown(t *testing.T) {
	d := setup(t)
	d.do(t, &member, "POST", "/api/trainings/standard", `{"availability":"Fri","eligible":true}`)

	w := d.do(t, &member, "POST", "/api/trainings/standard", `{"availability":"Sat","eligible":true}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if eb := decodeError(t, w); eb.Code != errcodes.Cooldown {
		t.Errorf("expected code %s, got %s", errcodes.Cooldown, eb.Code)
	}
}

func TestSubmitStatusMapping(t *testing.T) {
	d := setup(t)

	tests := []struct {
		name   string
		actor  *auth.Actor
		body   string
		status int
		code   string
	}{
		{"no token", nil, `{"availability":"Fri","eligible":true}`, http.StatusUnauthorized, ""},
		{"no claim", &outsider, `{"availability":"Fri","eligible":true}`, http.StatusForbidden, errcodes.StandardRoleRequired},
		{"not eligible", &member, `{"availability":"Fri","eligible":false}`, http.StatusUnprocessableEntity, errcodes.NotEligible},
		{"missing availability", &member, `{"eligible":true}`, http.StatusUnprocessableEntity, errcodes.InvalidInput},
		{"bad json", &member, `{`, http.StatusBadRequest, errcodes.InvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := d.do(t, tt.actor, "POST", "/api/trainings/standard", tt.body)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if eb := decodeError(t, w); eb.Code != tt.code {
				t.Errorf("expected code %q, got %q", tt.code, eb.Code)
			}
		})
	}
}

func TestAcceptFlow(t *testing.T) {
	d := setup(t)
	d.do(t, &member, "POST", "/api/trainings/standard", `{"availability":"Fri","eligible":true}`)

	if w := d.do(t, &member, "POST", "/api/trainings/LASD-DST001/accept", ""); w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-reviewer, got %d", w.Code)
	}

	w := d.do(t, &reviewer, "POST", "/api/trainings/LASD-DST001/accept", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res workflow.AcceptResult
	json.NewDecoder(w.Body).Decode(&res)
	if res.Request.Status != db.StatusAccepted {
		t.Errorf("expected accepted, got %q", res.Request.Status)
	}

	if w := d.do(t, &reviewer, "POST", "/api/trainings/LASD-DST001/accept", ""); w.Code != http.StatusConflict {
		t.Errorf("expected 409 on second accept, got %d", w.Code)
	}
	if w := d.do(t, &reviewer, "POST", "/api/trainings/LASD-DST404/accept", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", w.Code)
	}
}

func TestGetAndList(t *testing.T) {
	d := setup(t)
	d.do(t, &member, "POST", "/api/trainings/standard", `{"availability":"Fri","eligible":true}`)

	w := d.do(t, &member, "GET", "/api/trainings/LASD-DST001", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := d.do(t, &outsider, "GET", "/api/trainings/LASD-DST001", ""); w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for other member, got %d", w.Code)
	}

	w = d.do(t, &reviewer, "GET", "/api/trainings?status=pending&category=dst", "")
	var requests []db.Request
	json.NewDecoder(w.Body).Decode(&requests)
	if len(requests) != 1 {
		t.Errorf("expected 1 pending DST request, got %d", len(requests))
	}

	w = d.do(t, &outsider, "GET", "/api/trainings", "")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty list for outsider, got %s", w.Body.String())
	}

	if w := d.do(t, &reviewer, "GET", "/api/trainings?limit=x", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", w.Code)
	}
}

func TestLogResult(t *testing.T) {
	d := setup(t)
	body := `{"trainee":"cadet.c","score":"90","status":"Passed","category":"EVOC"}`

	if w := d.do(t, &reviewer, "POST", "/api/results", body); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if w := d.do(t, &member, "POST", "/api/results", body); w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestErrorCatalog(t *testing.T) {
	d := setup(t)

	w := d.do(t, nil, "GET", "/api/errors/lasd-e-2581", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var entry errcodes.Entry
	json.NewDecoder(w.Body).Decode(&entry)
	if entry.Code != errcodes.Cooldown {
		t.Errorf("expected %s, got %s", errcodes.Cooldown, entry.Code)
	}

	if w := d.do(t, nil, "GET", "/api/errors/LASD-E-0000", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}

	w = d.do(t, nil, "GET", "/api/errors", "")
	var all []errcodes.Entry
	json.NewDecoder(w.Body).Decode(&all)
	if len(all) != len(errcodes.All()) {
		t.Errorf("expected %d entries, got %d", len(errcodes.All()), len(all))
	}
}

func TestRateLimit(t *testing.T) {
	d := setup(t, WithLimiter(NewLimiter(0.001, 1)))

	if w := d.do(t, &reviewer, "GET", "/api/trainings", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w := d.do(t, &reviewer, "GET", "/api/trainings", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestEventStreamDeliversDirectMessages(t *testing.T) {
	d := setup(t)
	srv := httptest.NewServer(d.server.Handler())
	defer srv.Close()

	token, _ := d.tokens.Issue(member, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/events?token="+token, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	// Wait for the keepalive so the subscription is registered.
	if _, err := reader.ReadString('\n'); err != nil {
		t.Fatalf("failed to read keepalive: %v", err)
	}

	w := d.do(t, &member, "POST", "/api/trainings/standard", `{"availability":"Fri","eligible":true}`)
	var body struct {
		Warnings []workflow.Warning `json:"warnings"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if len(body.Warnings) != 0 {
		t.Errorf("expected DM to reach the subscribed member, got warnings %+v", body.Warnings)
	}

	deadline := time.After(2 * time.Second)
	lines := make(chan string, 64)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- line
		}
	}()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed before notification")
			}
			if strings.HasPrefix(line, "data: ") && strings.Contains(line, "LASD-DST001") {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for notification")
		}
	}
}

func TestClientForwardsToPrimary(t *testing.T) {
	d := setup(t)
	srv := httptest.NewServer(d.server.Handler())
	defer srv.Close()

	if !IsRunning(srv.URL) {
		t.Fatal("expected IsRunning to detect the desk")
	}

	c := NewClient(srv.URL, d.tokens)
	ctx := context.Background()

	res, err := c.SubmitStandard(ctx, member, workflow.SubmitStandard{Availability: "Fri", Eligible: true})
	if err != nil {
		t.Fatalf("SubmitStandard failed: %v", err)
	}
	if res.Request.ID != "LASD-DST001" {
		t.Errorf("expected LASD-DST001, got %q", res.Request.ID)
	}

	_, err = c.SubmitStandard(ctx, member, workflow.SubmitStandard{Availability: "Sat", Eligible: true})
	if workflow.Code(err) != errcodes.Cooldown {
		t.Errorf("expected cooldown rejection, got %v", err)
	}
	if !strings.HasPrefix(workflow.Message(err), "You must wait") {
		t.Errorf("expected remote message to carry the wait, got %q", workflow.Message(err))
	}

	if _, err := c.Accept(ctx, reviewer, workflow.Accept{ID: "LASD-DST001"}); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	_, err = c.Accept(ctx, reviewer, workflow.Accept{ID: "LASD-DST001"})
	if workflow.Code(err) != errcodes.AlreadyAccepted {
		t.Errorf("expected already accepted, got %v", err)
	}

	rec, err := c.Get(ctx, member, "LASD-DST001")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Status != db.StatusAccepted {
		t.Errorf("expected accepted, got %q", rec.Status)
	}

	list, err := c.List(ctx, reviewer, workflow.ListQuery{Status: db.StatusAccepted, Limit: 5})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 accepted request, got %d", len(list))
	}
}

func TestLimiterCleanup(t *testing.T) {
	l := NewLimiter(1, 1)
	now := time.Now()
	l.now = func() time.Time { return now }
	l.Allow("a")

	now = now.Add(time.Hour)
	l.Cleanup()
	if len(l.entries) != 0 {
		t.Errorf("expected idle entry to be dropped, got %d", len(l.entries))
	}
}
