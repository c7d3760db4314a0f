package seclink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/galaxy-dl/galaxy-dl/internal/cdn"
	"github.com/galaxy-dl/galaxy-dl/internal/httpx/httpxtest"
)

func secureLinkBody(expiresAt int64) string {
	return fmt.Sprintf(`{"expires_at":%d,"urls":[
		{"url_format":"https://b.test/{GALAXY_PATH}","parameters":{"priority":2,"cdn_name":"b"}},
		{"url_format":"https://a.test/{GALAXY_PATH}","parameters":{"priority":1,"cdn_name":"a"}}
	]}`, expiresAt)
}

func jsonResp(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Status:     http.StatusText(http.StatusOK),
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
}

func TestGetSortsByPriorityAndCachesFreshEntry(t *testing.T) {
	mock := &httpxtest.MockClient{
		Calls:             []httpxtest.Call{{Response: jsonResp(secureLinkBody(time.Now().Add(time.Hour).Unix()))}},
		SkipURLValidation: true,
	}
	p := New(cdn.New(mock, cdn.Config{}))

	templates, err := p.Get(context.Background(), "pid", cdn.GenerationV2, StorePath)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if len(templates) != 2 || templates[0].Priority != 1 || templates[1].Priority != 2 {
		t.Fatalf("templates not sorted by priority: %+v", templates)
	}

	if _, err := p.Get(context.Background(), "pid", cdn.GenerationV2, StorePath); err != nil {
		t.Fatalf("second Get() failed: %v", err)
	}
	if mock.CallCount() != 1 {
		t.Fatalf("CallCount() = %d, want 1 (second Get should hit cache)", mock.CallCount())
	}
}

func TestGetRefreshesExpiredEntry(t *testing.T) {
	mock := &httpxtest.MockClient{
		Calls: []httpxtest.Call{
			{Response: jsonResp(secureLinkBody(time.Now().Add(-time.Hour).Unix()))},
			{Response: jsonResp(secureLinkBody(time.Now().Add(time.Hour).Unix()))},
		},
		SkipURLValidation: true,
	}
	p := New(cdn.New(mock, cdn.Config{}))

	if _, err := p.Get(context.Background(), "pid", cdn.GenerationV2, StorePath); err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if _, err := p.Get(context.Background(), "pid", cdn.GenerationV2, StorePath); err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if mock.CallCount() != 2 {
		t.Fatalf("CallCount() = %d, want 2 (expired entry should refetch)", mock.CallCount())
	}
}

func TestPatchStorePathIsDistinctFromStore(t *testing.T) {
	if PatchStorePath("1234") == StorePath {
		t.Fatal("patch store path must not equal the ordinary store path")
	}
}
