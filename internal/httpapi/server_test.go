package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/service"
	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/store/memory"
	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/types"
	"github.com/BrandonDHaskell/Bulletin/internal/httpapi"
	"github.com/BrandonDHaskell/Bulletin/internal/notify"
	"github.com/BrandonDHaskell/Bulletin/internal/obs"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	ts    *httptest.Server
	rec   *notify.Recorder
	clock *clock
}

type envOptions struct {
	ready   func(ctx context.Context) error
	metrics *obs.Metrics
	origins []string
}

// newTestEnv wires up the full dependency graph using in-memory stores and
// returns an httptest.Server whose URL can be hit with a plain http.Client.
func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	clk := &clock{t: time.Now().UTC()}
	rec := &notify.Recorder{}
	logger := log.New(io.Discard, "", 0)

	accessSvc := service.NewAccessService(service.AccessDeps{
		Generator: service.NewCodeGenerator(service.GeneratorConfig{Now: clk.Now}),
		Codes:     memory.NewCodeStore(),
		Events:    memory.NewAccessEventStore(),
		Notifier:  rec,
		Logger:    logger,
		Now:       clk.Now,
	})
	annSvc := service.NewAnnouncementService(service.AnnouncementDeps{
		Store:    memory.NewAnnouncementStore(service.DefaultAnnouncements(clk.Now())),
		Notifier: rec,
		Logger:   logger,
		Now:      clk.Now,
	})
	gate, err := service.NewGate(service.GateConfig{
		Secret:      []byte(testSecret),
		Revocations: memory.NewRevocationStore(),
		Now:         clk.Now,
	})
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:              logger,
		Addr:                ":0",
		AccessService:       accessSvc,
		AnnouncementService: annSvc,
		Gate:                gate,
		Metrics:             opts.metrics,
		Ready:               opts.ready,
		HasWebhook:          true,
		AllowedOrigins:      opts.origins,
		Now:                 clk.Now,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, rec: rec, clock: clk}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rdr = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			rdr = bytes.NewReader(data)
		}
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// issue runs generate-code and returns the session id and the code the
// notifier saw.
func (e *testEnv) issue(t *testing.T) (string, string) {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/generate-code", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate-code: expected 200, got %d", resp.StatusCode)
	}
	var issued types.IssueResponse
	decode(t, resp, &issued)
	if !issued.Success || issued.SessionID == "" {
		t.Fatalf("unexpected issue response: %+v", issued)
	}

	msgs := e.rec.Messages()
	if len(msgs) == 0 || len(msgs[len(msgs)-1].Embeds) == 0 {
		t.Fatal("expected the code to be delivered")
	}
	code := strings.Trim(msgs[len(msgs)-1].Embeds[0].Fields[0].Value, "`")
	return issued.SessionID, code
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	sid, code := e.issue(t)
	resp := e.do(t, http.MethodPost, "/api/verify-code", "", types.VerifyRequest{SessionID: sid, Code: code})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify-code: expected 200, got %d", resp.StatusCode)
	}
	var vr types.VerifyResponse
	decode(t, resp, &vr)
	if vr.Token == "" {
		t.Fatal("expected a session token")
	}
	return vr.Token
}

// ── Access ───────────────────────────────────────────────────────────────────

func TestGenerateCode_DoesNotLeakCode(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.do(t, http.MethodPost, "/api/generate-code", "", nil)
	raw, _ := io.ReadAll(resp.Body)

	msgs := env.rec.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 delivered message, got %d", len(msgs))
	}
	code := strings.Trim(msgs[0].Embeds[0].Fields[0].Value, "`")
	if strings.Contains(string(raw), code) {
		t.Fatalf("response body leaks the code: %s", raw)
	}

	var issued types.IssueResponse
	if err := json.Unmarshal(raw, &issued); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := env.clock.Now().Add(service.DefaultCodeTTL).UnixMilli()
	if issued.Expiration != want {
		t.Errorf("expiration=%d, want %d", issued.Expiration, want)
	}
}

func TestGenerateCode_NotifyFailure_BadGateway(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.rec.SetErr(errors.New("webhook down"))

	resp := env.do(t, http.MethodPost, "/api/generate-code", "", nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	var er types.ErrorResponse
	decode(t, resp, &er)
	if er.Success || er.Code != "notify_failed" {
		t.Errorf("unexpected error body: %+v", er)
	}
}

func TestVerifyCode_GrantThenReuseDenied(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	sid, code := env.issue(t)

	resp := env.do(t, http.MethodPost, "/api/verify-code", "", types.VerifyRequest{SessionID: sid, Code: strings.ToLower(code)})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var vr types.VerifyResponse
	decode(t, resp, &vr)
	if !vr.Success || vr.Message != "Access granted" || vr.Token == "" {
		t.Fatalf("unexpected grant: %+v", vr)
	}

	resp = env.do(t, http.MethodPost, "/api/verify-code", "", types.VerifyRequest{SessionID: sid, Code: code})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 on reuse, got %d", resp.StatusCode)
	}
	decode(t, resp, &vr)
	if vr.Success || vr.Reason != "already_used" {
		t.Errorf("expected already_used, got %+v", vr)
	}
}

func TestVerifyCode_Denials(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	t.Run("unknown session", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/verify-code", "", types.VerifyRequest{SessionID: "nope", Code: "ABC123"})
		var vr types.VerifyResponse
		decode(t, resp, &vr)
		if resp.StatusCode != http.StatusUnauthorized || vr.Reason != "invalid_session" {
			t.Errorf("got %d %+v", resp.StatusCode, vr)
		}
		if vr.Message != "Invalid or expired session" {
			t.Errorf("message=%q", vr.Message)
		}
	})

	t.Run("wrong code", func(t *testing.T) {
		sid, code := env.issue(t)
		wrong := "ZZZZZZ"
		if code == wrong {
			wrong = "YYYYYY"
		}
		resp := env.do(t, http.MethodPost, "/api/verify-code", "", types.VerifyRequest{SessionID: sid, Code: wrong})
		var vr types.VerifyResponse
		decode(t, resp, &vr)
		if resp.StatusCode != http.StatusUnauthorized || vr.Reason != "invalid_code" {
			t.Errorf("got %d %+v", resp.StatusCode, vr)
		}

		// A wrong guess does not burn the code.
		resp = env.do(t, http.MethodPost, "/api/verify-code", "", types.VerifyRequest{SessionID: sid, Code: code})
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected the correct code to still work, got %d", resp.StatusCode)
		}
	})

	t.Run("expired", func(t *testing.T) {
		sid, code := env.issue(t)
		env.clock.Advance(service.DefaultCodeTTL + time.Second)
		resp := env.do(t, http.MethodPost, "/api/verify-code", "", types.VerifyRequest{SessionID: sid, Code: code})
		var vr types.VerifyResponse
		decode(t, resp, &vr)
		if resp.StatusCode != http.StatusUnauthorized || vr.Reason != "expired" {
			t.Errorf("got %d %+v", resp.StatusCode, vr)
		}
	})
}

func TestVerifyCode_BadRequests(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	cases := map[string]any{
		"missing code":    types.VerifyRequest{SessionID: "abc"},
		"missing session": types.VerifyRequest{Code: "ABC123"},
		"malformed json":  `{"sessionId":`,
		"blank fields":    types.VerifyRequest{SessionID: "  ", Code: " "},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/verify-code", "", body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
			var vr types.VerifyResponse
			decode(t, resp, &vr)
			if vr.Success || vr.Message != "Missing required parameters" {
				t.Errorf("unexpected body: %+v", vr)
			}
		})
	}
}

// ── Gate ─────────────────────────────────────────────────────────────────────

func TestAnnouncements_RequireSession(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	for _, tc := range []struct {
		method, path, token string
	}{
		{http.MethodGet, "/api/announcements", ""},
		{http.MethodGet, "/api/announcements", "not-a-token"},
		{http.MethodPost, "/api/send-announcement", ""},
		{http.MethodPost, "/api/logout", ""},
	} {
		resp := env.do(t, tc.method, tc.path, tc.token, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", tc.method, tc.path, resp.StatusCode)
		}
		if resp.Header.Get("WWW-Authenticate") == "" {
			t.Errorf("%s %s: expected WWW-Authenticate header", tc.method, tc.path)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	token := env.login(t)

	resp := env.do(t, http.MethodGet, "/api/announcements", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	var list types.ListResponse
	decode(t, resp, &list)
	if len(list.Announcements) != 2 || list.Announcements[0].ID != "seed-welcome" {
		t.Fatalf("expected the two seeded announcements newest first, got %+v", list.Announcements)
	}

	env.clock.Advance(time.Minute)
	resp = env.do(t, http.MethodPost, "/api/send-announcement", token, types.PublishRequest{
		Title:    "Maintenance",
		Content:  "Tonight at 22:00",
		Priority: "alert",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("publish: expected 200, got %d", resp.StatusCode)
	}
	var pub types.PublishResponse
	decode(t, resp, &pub)
	if !pub.Success || pub.Announcement.Priority != "alert" || pub.Announcement.ID == "" {
		t.Fatalf("unexpected publish response: %+v", pub)
	}
	if _, err := time.Parse(time.RFC3339, pub.Announcement.Timestamp); err != nil {
		t.Errorf("timestamp not RFC 3339: %q", pub.Announcement.Timestamp)
	}

	resp = env.do(t, http.MethodGet, "/api/announcements", token, nil)
	decode(t, resp, &list)
	if len(list.Announcements) != 3 || list.Announcements[0].Title != "Maintenance" {
		t.Fatalf("expected the new announcement first, got %+v", list.Announcements)
	}

	resp = env.do(t, http.MethodPost, "/api/logout", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/api/announcements", token, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", resp.StatusCode)
	}
}

func TestSendAnnouncement_Validation(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	token := env.login(t)

	resp := env.do(t, http.MethodPost, "/api/send-announcement", token, types.PublishRequest{Title: "only a title"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var er types.ErrorResponse
	decode(t, resp, &er)
	if er.Error != "Title and content are required" {
		t.Errorf("unexpected error: %+v", er)
	}
}

func TestSendAnnouncement_NotifyFailureIsBestEffort(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	token := env.login(t)
	env.rec.SetErr(errors.New("webhook down"))

	resp := env.do(t, http.MethodPost, "/api/send-announcement", token, types.PublishRequest{Title: "t", Content: "c"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 under best-effort policy, got %d", resp.StatusCode)
	}
}

// ── Protobuf ─────────────────────────────────────────────────────────────────

func TestVerifyCode_Protobuf(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	sid, code := env.issue(t)

	st, err := structpb.NewStruct(map[string]any{"sessionId": sid, "code": code})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	data, err := proto.Marshal(st)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	resp, err := http.Post(env.ts.URL+"/api/verify-code", "application/x-protobuf", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-protobuf" {
		t.Fatalf("expected protobuf response, got %q", ct)
	}

	raw, _ := io.ReadAll(resp.Body)
	var out structpb.Struct
	if err := proto.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	fields := out.GetFields()
	if !fields["success"].GetBoolValue() {
		t.Error("expected success=true")
	}
	if fields["token"].GetStringValue() == "" {
		t.Error("expected a token")
	}
}

func TestProbe_AcceptProtobuf(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/api/test", nil)
	req.Header.Set("Accept", "application/x-protobuf")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var out structpb.Struct
	if err := proto.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.GetFields()["status"].GetStringValue() != "ok" {
		t.Errorf("unexpected probe: %v", out.AsMap())
	}
}

// ── Probes and plumbing ──────────────────────────────────────────────────────

func TestProbe_JSON(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.do(t, http.MethodGet, "/api/test", "", nil)
	var pr types.ProbeResponse
	decode(t, resp, &pr)
	if pr.Status != "ok" || !pr.HasWebhook {
		t.Errorf("unexpected probe: %+v", pr)
	}
	if _, err := time.Parse(time.RFC3339, pr.Timestamp); err != nil {
		t.Errorf("timestamp not RFC 3339: %q", pr.Timestamp)
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t, envOptions{origins: []string{"https://dash.example.com"}})

	req, _ := http.NewRequest(http.MethodOptions, env.ts.URL+"/api/verify-code", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://dash.example.com" {
		t.Errorf("allow-origin=%q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Headers"); !strings.Contains(got, "Authorization") {
		t.Errorf("allow-headers=%q", got)
	}

	req, _ = http.NewRequest(http.MethodOptions, env.ts.URL+"/api/verify-code", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	defer resp2.Body.Close()
	if got := resp2.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unexpected allow-origin for foreign origin: %q", got)
	}
}

func TestReadyz(t *testing.T) {
	var mu sync.Mutex
	var readyErr error
	env := newTestEnv(t, envOptions{ready: func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		return readyErr
	}})

	if resp := env.do(t, http.MethodGet, "/readyz", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	mu.Lock()
	readyErr = errors.New("db down")
	mu.Unlock()

	if resp := env.do(t, http.MethodGet, "/readyz", "", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodGet, "/healthz", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz should not depend on readiness, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, envOptions{metrics: obs.New()})

	env.do(t, http.MethodGet, "/api/test", "", nil)
	env.do(t, http.MethodGet, "/no/such/path", "", nil)

	resp := env.do(t, http.MethodGet, "/metrics", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	body := string(raw)
	if !strings.Contains(body, `bulletin_http_requests_total{method="GET",path="/api/test",status="200"} 1`) {
		t.Errorf("expected probe request counted:\n%s", body)
	}
	if !strings.Contains(body, `path="other"`) {
		t.Error("expected unknown path folded into other")
	}
}

func TestUnknownRoute_NotFound(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	if resp := env.do(t, http.MethodGet, "/v1/unknown", "", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
