package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"stashbin/cfg"
	"stashbin/pkg/domain"
	"stashbin/svc/lim"
	"stashbin/svc/store"
	"stashbin/svc/svc"
	"stashbin/svc/util"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	util.InitLog("error", false)
	c := &cfg.Cfg{
		Port:           "0",
		Environment:    "test",
		LogLevel:       "error",
		BaseURL:        "http://localhost:8080",
		Backend:        cfg.BackendFile,
		MaxPasteSize:   4 * 1024 * 1024,
		DefaultTTL:     7 * 24 * time.Hour,
		SweepInterval:  time.Minute,
		ContextTimeout: 10 * time.Second,
		RateLimit:      cfg.RateLimitCfg{RPM: 100000, Burst: 100000},
	}
	dsn := fmt.Sprintf("file:apitest%d?mode=memory&cache=shared", time.Now().UnixNano())
	meta, err := store.NewSQLite(dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { meta.Close() })
	content, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	p := svc.NewPaste(meta, content, nil, nil, c)
	l := lim.New(c.RateLimit.RPM, c.RateLimit.Burst, nil)
	t.Cleanup(l.Stop)
	return NewServer(c, p, l, meta, nil)
}

func createPlain(t *testing.T, srv *Server, body string) *domain.CreateResult {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var res domain.CreateResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	return &res
}

func TestCreatePlainText(t *testing.T) {
	srv := newTestServer(t)
	res := createPlain(t, srv, "hello world")
	if len(res.ID) != domain.IDLength {
		t.Fatalf("id length = %d, want %d", len(res.ID), domain.IDLength)
	}
	if len(res.Key) != domain.KeyLength {
		t.Fatalf("key length = %d, want %d", len(res.Key), domain.KeyLength)
	}
	if res.TTL != 604800 {
		t.Fatalf("ttl = %d, want 604800", res.TTL)
	}
	if res.Link != "http://localhost:8080/"+res.ID {
		t.Fatalf("link = %q", res.Link)
	}
}

func TestCreateForm(t *testing.T) {
	srv := newTestServer(t)
	form := url.Values{"paste": {"form content here"}}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var res domain.CreateResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}

	get := httptest.NewRequest(http.MethodGet, "/"+res.ID, nil)
	getRec := httptest.NewRecorder()
	srv.ServeHTTP(getRec, get)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get status = %d", getRec.Code)
	}
	if getRec.Body.String() != "form content here" {
		t.Fatalf("body = %q", getRec.Body.String())
	}
}

func TestCreateJSON(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"content":"json content"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestCreateRejectsUnknownJSONFields(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"content":"x","admin":true}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateUnsupportedMediaType(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("<xml/>"))
	req.Header.Set("Content-Type", "application/xml")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", rec.Code)
	}
}

func TestCreateOversizedDeclaredLength(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("tiny"))
	req.Header.Set("Content-Type", "text/plain")
	req.ContentLength = 999999999
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestCreateEmptyBody(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetPasteRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	res := createPlain(t, srv, "hello world")

	req := httptest.NewRequest(http.MethodGet, "/"+res.ID, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type = %q", ct)
	}
	if rec.Body.String() != "hello world" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestGetPasteJSONAccept(t *testing.T) {
	srv := newTestServer(t)
	res := createPlain(t, srv, "hello world")

	req := httptest.NewRequest(http.MethodGet, "/"+res.ID, nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["paste"] != "hello world" {
		t.Fatalf("paste = %q", body["paste"])
	}
}

func TestGetPasteNotFound(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/aB3dEfGh1jKlMnOpQrStUvWx", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetPasteInvalidID(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/not-a-valid-id", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRemovePaste(t *testing.T) {
	srv := newTestServer(t)
	res := createPlain(t, srv, "to be removed")

	form := url.Values{"paste_id": {res.ID}, "paste_key": {res.Key}}
	req := httptest.NewRequest(http.MethodPost, "/remove", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["success"] != "Paste "+res.ID+" removed" {
		t.Fatalf("success = %q", body["success"])
	}

	get := httptest.NewRequest(http.MethodGet, "/"+res.ID, nil)
	getRec := httptest.NewRecorder()
	srv.ServeHTTP(getRec, get)
	if getRec.Code != http.StatusNotFound {
		t.Fatalf("get after remove = %d, want 404", getRec.Code)
	}
}

func TestRemovePasteWrongKeyGenericError(t *testing.T) {
	srv := newTestServer(t)
	res := createPlain(t, srv, "still here")

	cases := []url.Values{
		{"paste_id": {res.ID}, "paste_key": {"0000000000000000"}},
		{"paste_id": {"aB3dEfGh1jKlMnOpQrStUvWx"}, "paste_key": {res.Key}},
		{"paste_id": {"garbage"}, "paste_key": {"garbage"}},
	}
	for _, form := range cases {
		req := httptest.NewRequest(http.MethodPost, "/remove", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401 for %v", rec.Code, form)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body["error"] != "Invalid Paste ID or Key" {
			t.Fatalf("error = %q, want the generic message", body["error"])
		}
	}

	get := httptest.NewRequest(http.MethodGet, "/"+res.ID, nil)
	getRec := httptest.NewRecorder()
	srv.ServeHTTP(getRec, get)
	if getRec.Code != http.StatusOK {
		t.Fatal("paste must survive failed remove attempts")
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(t)
	res := createPlain(t, srv, "headers")
	req := httptest.NewRequest(http.MethodGet, "/"+res.ID, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing X-Content-Type-Options")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatal("missing X-Frame-Options")
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestReadyEndpoint(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body ReadyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.Ready || body.Database != "up" || body.Cache != "unavailable" {
		t.Fatalf("ready = %+v", body)
	}
}
