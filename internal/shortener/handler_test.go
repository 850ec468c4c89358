package shortener

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sundayezeilo/shortspace/internal/httpx"
)

type handlerFixture struct {
	store    *mockStore
	recorder *ClickRecorder
	router   http.Handler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	store := newMockStore()
	recorder := NewClickRecorder(store, &ClickRecorderConfig{Workers: 2, Logger: quietLogger()})
	recorder.Start()
	t.Cleanup(func() { stopRecorder(t, recorder) })

	svc := NewService(testResolver(t), store, &ServiceConfig{
		Redirector: NewRedirector(store, &RedirectorConfig{Clicks: recorder, Logger: quietLogger()}),
	})
	h := NewHandler(HandlerConfig{
		Service:     svc,
		Logger:      quietLogger(),
		ClickStats:  recorder.Stats,
		ServiceName: "shortspace",
		Version:     "test",
	})

	r := chi.NewRouter()
	r.Post("/api/links", h.CreateLink)
	r.Get("/api/links", h.ListLinks)
	r.Get("/api/links/{slug}", h.GetLink)
	r.Get("/api/links/{slug}/qr", h.LinkQRCode)
	r.Get("/api/namespaces", h.ListNamespaces)
	r.Get("/x/health", h.Health)
	r.Get("/{slug}", h.Redirect)

	return &handlerFixture{store: store, recorder: recorder, router: r}
}

func (f *handlerFixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHandler_CreateRedirectAndCount(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "http://short.test/api/links", HTTPCreateLinkRequest{URL: "https://example.com/a?b=c"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[LinkResponse](t, rec)
	if len(created.Slug) != DefaultSlugLength {
		t.Errorf("slug %q has length %d, want %d", created.Slug, len(created.Slug), DefaultSlugLength)
	}
	if created.ShortURL != "https://short.test/"+created.Slug {
		t.Errorf("short_url = %q", created.ShortURL)
	}
	if created.Namespace != "links_short" || created.Clicks != 0 {
		t.Errorf("created = %+v", created)
	}
	if _, err := time.Parse(time.RFC3339, created.CreatedAt); err != nil {
		t.Errorf("created_at %q is not RFC3339: %v", created.CreatedAt, err)
	}

	for range 2 {
		rec = f.do(t, http.MethodGet, "http://short.test/"+created.Slug, nil)
		if rec.Code != http.StatusFound {
			t.Fatalf("redirect status = %d, want 302", rec.Code)
		}
		if loc := rec.Header().Get("Location"); loc != "https://example.com/a?b=c" {
			t.Errorf("Location = %q", loc)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec = f.do(t, http.MethodGet, "http://short.test/api/links/"+created.Slug, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("get status = %d", rec.Code)
		}
		if got := decodeBody[LinkResponse](t, rec); got.Clicks == 2 {
			break
		} else if got.Clicks > 2 {
			t.Fatalf("clicks = %d, want 2", got.Clicks)
		}
		if time.Now().After(deadline) {
			t.Fatal("clicks never reached 2")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandler_CreateErrors(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"not a url", "http://short.test/api/links", HTTPCreateLinkRequest{URL: "not a url"}, http.StatusBadRequest, CodeInvalidURL},
		{"slug too short", "http://short.test/api/links", HTTPCreateLinkRequest{URL: "https://example.com", CustomSlug: "a"}, http.StatusBadRequest, CodeInvalidSlug},
		{"unknown host", "http://evil.test/api/links", HTTPCreateLinkRequest{URL: "https://example.com"}, http.StatusForbidden, CodeInvalidHost},
		{"unknown host in body", "http://short.test/api/links", HTTPCreateLinkRequest{URL: "https://example.com", Host: "evil.test"}, http.StatusForbidden, CodeInvalidHost},
		{"malformed json", "http://short.test/api/links", `{"url":`, http.StatusBadRequest, CodeInvalidRequest},
		{"unknown field", "http://short.test/api/links", `{"url":"https://example.com","slug":"x"}`, http.StatusBadRequest, CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t)
			rec := f.do(t, http.MethodPost, tt.target, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if got := decodeBody[httpx.ErrorResponse](t, rec); got.Error != tt.wantCode {
				t.Errorf("error code = %q, want %q", got.Error, tt.wantCode)
			}
		})
	}
}

func TestHandler_CustomSlugConflict(t *testing.T) {
	f := newHandlerFixture(t)
	body := HTTPCreateLinkRequest{URL: "https://example.com", CustomSlug: "launch"}

	if rec := f.do(t, http.MethodPost, "http://shortly.pp.ua/api/links", body); rec.Code != http.StatusCreated {
		t.Fatalf("first create status = %d", rec.Code)
	}
	rec := f.do(t, http.MethodPost, "http://shortly.pp.ua/api/links", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second create status = %d, want 409", rec.Code)
	}
	if got := decodeBody[httpx.ErrorResponse](t, rec); got.Error != CodeSlugTaken {
		t.Errorf("error code = %q, want %q", got.Error, CodeSlugTaken)
	}

	// The same slug is free on a host bound to another namespace.
	if rec := f.do(t, http.MethodPost, "http://short.test/api/links", body); rec.Code != http.StatusCreated {
		t.Errorf("create in other namespace status = %d, want 201", rec.Code)
	}
}

func TestHandler_RedirectMisses(t *testing.T) {
	f := newHandlerFixture(t)
	seedLink(t, f.store, "links_short", "exists", "https://example.com")

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantCode   string
	}{
		{"unknown slug", "http://short.test/missing1", http.StatusNotFound, CodeNotFound},
		{"slug in other namespace", "http://shortly.pp.ua/exists", http.StatusNotFound, CodeNotFound},
		{"unknown host", "http://nowhere.test/exists", http.StatusNotFound, CodeNotFound},
		{"invalid slug", "http://short.test/bad%20slug", http.StatusBadRequest, CodeInvalidSlug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.target, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Header().Get("Location") != "" {
				t.Error("miss must not set Location")
			}
			if got := decodeBody[httpx.ErrorResponse](t, rec); got.Error != tt.wantCode {
				t.Errorf("error code = %q, want %q", got.Error, tt.wantCode)
			}
		})
	}

	if stats := f.recorder.Stats(); stats.Enqueued != 0 {
		t.Errorf("misses enqueued %d clicks", stats.Enqueued)
	}
}

func TestHandler_RedirectStoreDown(t *testing.T) {
	f := newHandlerFixture(t)
	f.store.getFunc = func(context.Context, string, string) (Link, error) {
		return Link{}, unavailable("mock.Get")
	}

	rec := f.do(t, http.MethodGet, "http://short.test/abc12345", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Errorf("body leaks store error: %s", rec.Body.String())
	}
}

func TestHandler_ListLinks(t *testing.T) {
	f := newHandlerFixture(t)
	for _, slug := range []string{"first", "second", "third"} {
		seedLink(t, f.store, "links_short", slug, "https://example.com/"+slug)
		time.Sleep(time.Millisecond)
	}

	rec := f.do(t, http.MethodGet, "http://short.test/api/links?limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decodeBody[struct {
		Links []LinkResponse `json:"links"`
	}](t, rec)
	if len(got.Links) != 2 || got.Links[0].Slug != "third" {
		t.Errorf("links = %+v", got.Links)
	}

	rec = f.do(t, http.MethodGet, "http://admin.test/api/links?host=shortly.pp.ua", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status with host param = %d", rec.Code)
	}
	if got := decodeBody[struct {
		Links []LinkResponse `json:"links"`
	}](t, rec); len(got.Links) != 0 {
		t.Errorf("links for empty namespace = %+v", got.Links)
	}

	for _, bad := range []string{"0", "-1", "ten"} {
		if rec := f.do(t, http.MethodGet, "http://short.test/api/links?limit="+bad, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d, want 400", bad, rec.Code)
		}
	}
}

func TestHandler_LinkQRCode(t *testing.T) {
	f := newHandlerFixture(t)
	seedLink(t, f.store, "links_short", "qrcode", "https://example.com")

	rec := f.do(t, http.MethodGet, "http://short.test/api/links/qrcode/qr?size=128", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG\r\n\x1a\n")) {
		t.Error("body is not a PNG")
	}

	if rec := f.do(t, http.MethodGet, "http://short.test/api/links/qrcode/qr?size=5000", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("oversized qr status = %d, want 400", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "http://short.test/api/links/nothere/qr", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing link qr status = %d, want 404", rec.Code)
	}
}

func TestHandler_ListNamespaces(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodGet, "http://short.test/api/namespaces", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decodeBody[struct {
		Namespaces []NamespaceResponse `json:"namespaces"`
	}](t, rec)
	if len(got.Namespaces) != len(testNamespaces()) {
		t.Fatalf("namespaces = %+v", got.Namespaces)
	}
	if got.Namespaces[1].SlugPrefix != "sh" || len(got.Namespaces[1].Hosts) != 2 {
		t.Errorf("namespaces[1] = %+v", got.Namespaces[1])
	}
}

func TestHandler_Health(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodGet, "http://short.test/x/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decodeBody[HealthResponse](t, rec)
	if got.Status != "ok" || got.Store != "ok" || got.Service != "shortspace" || got.Clicks == nil {
		t.Errorf("health = %+v", got)
	}

	f.store.pingFunc = func(context.Context) error { return errStoreDown }
	rec = f.do(t, http.MethodGet, "http://short.test/x/health", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded status = %d, want 503", rec.Code)
	}
	if got := decodeBody[HealthResponse](t, rec); got.Status != "degraded" || got.Store != "unreachable" {
		t.Errorf("degraded health = %+v", got)
	}
}
