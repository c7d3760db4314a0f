package cdn

import (
	"bytes"
	"compress/zlib"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/galaxy-dl/galaxy-dl/internal/galerr"
	"github.com/galaxy-dl/galaxy-dl/internal/httpx/httpxtest"
)

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
}

func zlibResponse(body string) *http.Response {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	zw.Write([]byte(body))
	zw.Close()
	return &http.Response{
		StatusCode: http.StatusOK,
		Status:     http.StatusText(http.StatusOK),
		Body:       io.NopCloser(&buf),
		Header:     make(http.Header),
	}
}

func newTestClient(t *testing.T, calls []httpxtest.Call) *Client {
	t.Helper()
	mock := &httpxtest.MockClient{Calls: calls, SkipURLValidation: true}
	return New(mock, Config{
		ContentSystemBase: "https://content-system.test",
		CDNBase:           "https://cdn.test",
		MaxAttempts:       3,
	})
}

func TestBuildsDecodesPlainJSON(t *testing.T) {
	c := newTestClient(t, []httpxtest.Call{
		{Response: jsonResponse(http.StatusOK, `{"items":[]}`)},
	})
	body, err := c.Builds(context.Background(), "1234567890", "windows", GenerationV2)
	if err != nil {
		t.Fatalf("Builds() failed: %v", err)
	}
	if string(body) != `{"items":[]}` {
		t.Fatalf("body = %q", body)
	}
}

func TestV2ManifestInflatesCompressedBody(t *testing.T) {
	c := newTestClient(t, []httpxtest.Call{
		{Response: zlibResponse(`{"depot":"x"}`)},
	})
	body, err := c.V2Manifest(context.Background(), "7ac66c0f148de9519b8bd264312c4d64")
	if err != nil {
		t.Fatalf("V2Manifest() failed: %v", err)
	}
	if string(body) != `{"depot":"x"}` {
		t.Fatalf("body = %q, want decompressed JSON", body)
	}
}

func TestNotFoundSurfacesWithoutRetry(t *testing.T) {
	mock := &httpxtest.MockClient{
		Calls:             []httpxtest.Call{{Response: jsonResponse(http.StatusNotFound, "")}},
		SkipURLValidation: true,
	}
	c := New(mock, Config{MaxAttempts: 5})
	_, err := c.PatchInfo(context.Background(), "pid", "a", "b")
	if err == nil {
		t.Fatal("expected error")
	}
	if galerr.KindOf(err) != galerr.NotFound {
		t.Fatalf("KindOf(err) = %v, want NotFound", galerr.KindOf(err))
	}
	if mock.CallCount() != 1 {
		t.Fatalf("CallCount() = %d, want 1 (no retry on 404)", mock.CallCount())
	}
}

func TestTransientRetriesThenSucceeds(t *testing.T) {
	c := newTestClient(t, []httpxtest.Call{
		{Response: jsonResponse(http.StatusServiceUnavailable, "")},
		{Response: jsonResponse(http.StatusTooManyRequests, "")},
		{Response: jsonResponse(http.StatusOK, `{"ok":true}`)},
	})
	body, err := c.SecureLink(context.Background(), "pid", GenerationV2, "/store")
	if err != nil {
		t.Fatalf("SecureLink() failed: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("body = %q", body)
	}
}

func TestTransientExhaustsRetryBudget(t *testing.T) {
	c := newTestClient(t, []httpxtest.Call{
		{Response: jsonResponse(http.StatusInternalServerError, "")},
		{Response: jsonResponse(http.StatusInternalServerError, "")},
		{Response: jsonResponse(http.StatusInternalServerError, "")},
	})
	_, err := c.PatchInfo(context.Background(), "pid", "a", "b")
	if err == nil {
		t.Fatal("expected error")
	}
	if galerr.KindOf(err) != galerr.Transient {
		t.Fatalf("KindOf(err) = %v, want Transient", galerr.KindOf(err))
	}
}

func TestUnauthorizedRetriedOnceThenFails(t *testing.T) {
	c := newTestClient(t, []httpxtest.Call{
		{Response: jsonResponse(http.StatusUnauthorized, "")},
		{Response: jsonResponse(http.StatusUnauthorized, "")},
	})
	_, err := c.Builds(context.Background(), "pid", "windows", GenerationAny)
	if err == nil {
		t.Fatal("expected error")
	}
	if galerr.KindOf(err) != galerr.AuthExpired {
		t.Fatalf("KindOf(err) = %v, want AuthExpired", galerr.KindOf(err))
	}
}

type fakeTokenProvider struct{ invalidated int }

func (p *fakeTokenProvider) Token(context.Context) (string, error) { return "tok", nil }
func (p *fakeTokenProvider) Invalidate()                           { p.invalidated++ }

func TestUnauthorizedInvalidatesTokenOnceBeforeRetry(t *testing.T) {
	mock := &httpxtest.MockClient{
		Calls: []httpxtest.Call{
			{Response: jsonResponse(http.StatusUnauthorized, "")},
			{Response: jsonResponse(http.StatusUnauthorized, "")},
		},
		SkipURLValidation: true,
	}
	tokens := &fakeTokenProvider{}
	c := New(mock, Config{
		ContentSystemBase: "https://content-system.test",
		CDNBase:           "https://cdn.test",
		MaxAttempts:       3,
		Tokens:            tokens,
	})
	if _, err := c.Builds(context.Background(), "pid", "windows", GenerationAny); err == nil {
		t.Fatal("expected error")
	}
	if tokens.invalidated != 1 {
		t.Fatalf("Invalidate() called %d times, want 1", tokens.invalidated)
	}
}

type doFunc func(*http.Request) (*http.Response, error)

func (f doFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func TestGetRangeSetsHeader(t *testing.T) {
	mock := &httpxtest.MockClient{
		Calls:             []httpxtest.Call{{Response: jsonResponse(http.StatusPartialContent, "chunk-bytes")}},
		SkipURLValidation: true,
	}
	var gotRange string
	c := New(doFunc(func(req *http.Request) (*http.Response, error) {
		gotRange = req.Header.Get("Range")
		return mock.Do(req)
	}), Config{})
	body, err := c.GetRange(context.Background(), "https://cdn.test/store/ab/cd/abcd", 10, 5)
	if err != nil {
		t.Fatalf("GetRange() failed: %v", err)
	}
	if gotRange != "bytes=10-14" {
		t.Fatalf("Range header = %q, want %q", gotRange, "bytes=10-14")
	}
	if string(body) != "chunk-bytes" {
		t.Fatalf("body = %q", body)
	}
}
