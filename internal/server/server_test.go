package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"vigil/internal/app"
	"vigil/internal/domain"
)

const testSecret = "test-secret"

var serverNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*httptest.Server, *app.App) {
	t.Helper()
	dir := t.TempDir()
	if err := app.Init(dir, "acme", serverNow); err != nil {
		t.Fatal(err)
	}
	a, err := app.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	a.Now = func() time.Time { return serverNow }

	handler, err := New(Config{App: a, BasePath: "/v1", Auth: AuthConfig{JWTSecret: testSecret}})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, a
}

func signToken(t *testing.T, subject, secret string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func doRequest(t *testing.T, srv *httptest.Server, method, path, token, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, _ := doRequest(t, srv, http.MethodGet, "/v1/health", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestMissingTokenRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := doRequest(t, srv, http.MethodGet, "/v1/status", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "invalid_credentials") {
		t.Fatalf("body %s", body)
	}
}

func TestBadTokenRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	wrong := signToken(t, "tester", "other-secret")
	resp, _ := doRequest(t, srv, http.MethodGet, "/v1/status", wrong, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestTokenWithoutSubjectRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, _ := doRequest(t, srv, http.MethodGet, "/v1/status", signToken(t, "", testSecret), "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := doRequest(t, srv, http.MethodGet, "/v1/status", signToken(t, "tester", testSecret), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var got StatusBody
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.Project != "acme" || got.Stage != domain.StageOK {
		t.Fatalf("body %+v", got)
	}
}

func TestRenewEndpoint(t *testing.T) {
	srv, a := newTestServer(t)
	token := signToken(t, "tester", testSecret)
	resp, body := doRequest(t, srv, http.MethodPost, "/v1/renew", token, `{"extend_minutes": 120}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var got StatusBody
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.RenewalCount != 1 {
		t.Fatalf("body %+v", got)
	}
	want := serverNow.Add(120 * time.Minute).Format(time.RFC3339)
	if got.Deadline != want {
		t.Fatalf("deadline %q, want %q", got.Deadline, want)
	}

	st, err := a.LoadState()
	if err != nil {
		t.Fatal(err)
	}
	if st.Renewal.Count != 1 {
		t.Fatal("renewal not persisted")
	}
}

func TestReleaseEndpoint(t *testing.T) {
	srv, a := newTestServer(t)
	token := signToken(t, "tester", testSecret)
	resp, body := doRequest(t, srv, http.MethodPost, "/v1/release", token, `{"target_stage":"PARTIAL","delay_minutes":15}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var got struct {
		Release domain.Release `json:"release"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if !got.Release.Triggered || got.Release.TargetStage != domain.StagePartial {
		t.Fatalf("release %+v", got.Release)
	}

	st, err := a.LoadState()
	if err != nil {
		t.Fatal(err)
	}
	if !st.Release.Triggered {
		t.Fatal("release not persisted")
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, a := newTestServer(t)
	token := signToken(t, "tester", testSecret)

	if _, err := a.Renew(60); err != nil {
		t.Fatal(err)
	}
	if _, err := a.ArmRelease("", 0); err != nil {
		t.Fatal(err)
	}

	resp, body := doRequest(t, srv, http.MethodGet, "/v1/events?type=release_armed", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var events []map[string]any
	if err := json.Unmarshal(body, &events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0]["type"] != "release_armed" {
		t.Fatalf("events %+v", events)
	}
}

func TestAuthenticateJWT(t *testing.T) {
	p, err := authenticateJWT(signToken(t, "ops", testSecret), testSecret)
	if err != nil {
		t.Fatal(err)
	}
	if p.Subject != "ops" {
		t.Fatalf("principal %+v", p)
	}

	if _, err := authenticateJWT("garbage", testSecret); err == nil {
		t.Fatal("expected parse failure")
	}
	if _, err := authenticateJWT(signToken(t, "ops", testSecret), ""); err == nil {
		t.Fatal("expected failure without configured secret")
	}
}

func TestBearerToken(t *testing.T) {
	if tok, ok := bearerToken("Bearer abc"); !ok || tok != "abc" {
		t.Fatalf("got %q %v", tok, ok)
	}
	if _, ok := bearerToken("Basic abc"); ok {
		t.Fatal("basic auth accepted")
	}
	if _, ok := bearerToken("Bearer "); ok {
		t.Fatal("empty token accepted")
	}
}
