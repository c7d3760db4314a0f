package patchres

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/galaxy-dl/galaxy-dl/internal/cdn"
	"github.com/galaxy-dl/galaxy-dl/internal/galerr"
	"github.com/galaxy-dl/galaxy-dl/internal/httpx/httpxtest"
	"github.com/galaxy-dl/galaxy-dl/internal/manifest"
)

func jsonResp(body string) *http.Response {
	return &http.Response{StatusCode: http.StatusOK, Status: "200 OK", Body: io.NopCloser(bytes.NewBufferString(body)), Header: make(http.Header)}
}

func newResolver(calls []httpxtest.Call) (*Resolver, *httpxtest.MockClient) {
	mock := &httpxtest.MockClient{Calls: calls, SkipURLValidation: true}
	client := cdn.New(mock, cdn.Config{MaxAttempts: 1})
	return New(client), mock
}

func v2(buildID string) manifest.Manifest {
	return manifest.Manifest{BaseProductID: "1001", BuildID: buildID, Generation: manifest.GenerationV2}
}

func TestGetPatchReturnsNilOnErrorBody(t *testing.T) {
	r, _ := newResolver([]httpxtest.Call{
		{Response: jsonResp(`{"error":"not_found"}`)},
	})
	patch, err := r.GetPatch(context.Background(), "1001", v2("new"), v2("old"), "en-US", nil)
	if err != nil {
		t.Fatalf("GetPatch() error = %v, want nil", err)
	}
	if patch != nil {
		t.Fatalf("GetPatch() = %v, want nil (error body means no patch)", patch)
	}
}

func TestGetPatchReturnsNilOnEmptyManifestSentinel(t *testing.T) {
	r, _ := newResolver([]httpxtest.Call{
		{Response: jsonResp(`{"id":"p1","from":"old","to":"new","link":"https://cdn.test/v2/store/patch.json"}`)},
		{Response: jsonResp(`{}`)},
	})
	patch, err := r.GetPatch(context.Background(), "1001", v2("new"), v2("old"), "en-US", nil)
	if err != nil {
		t.Fatalf("GetPatch() error = %v, want nil", err)
	}
	if patch != nil {
		t.Fatalf("GetPatch() = %v, want nil (empty root manifest sentinel)", patch)
	}
}

func TestGetPatchAssemblesFilesFromMatchingDepots(t *testing.T) {
	root := `{
		"algorithm":"xdelta3",
		"clientId":"cid",
		"clientSecret":"secret",
		"depots":[
			{"productId":"1001","manifest":"depotpatch1","languages":["en-US"]},
			{"productId":"1001","manifest":"depotpatch2","languages":["fr-FR"]},
			{"productId":"9999","manifest":"depotpatch3","languages":["en-US"]}
		]
	}`
	depotPatch := `{"depot":{"items":[
		{"sourcePath":"bin/app.exe","targetPath":"bin/app.exe","md5Source":"aaa","md5Target":"bbb","chunks":[]}
	]}}`

	r, mock := newResolver([]httpxtest.Call{
		{Response: jsonResp(`{"id":"p1","from":"old","to":"new","link":"https://cdn.test/v2/store/patch.json"}`)},
		{Response: jsonResp(root)},
		{Response: jsonResp(depotPatch)}, // only the en-US, pid=1001 depot is fetched
	})

	patch, err := r.GetPatch(context.Background(), "1001", v2("new"), v2("old"), "en-US", nil)
	if err != nil {
		t.Fatalf("GetPatch() error = %v", err)
	}
	if patch == nil {
		t.Fatal("GetPatch() = nil, want a patch")
	}
	if patch.Algorithm != "xdelta3" {
		t.Fatalf("Algorithm = %q, want xdelta3", patch.Algorithm)
	}
	if patch.ClientID != "cid" || patch.ClientSecret != "secret" {
		t.Fatalf("credentials = %q/%q, want cid/secret", patch.ClientID, patch.ClientSecret)
	}
	if len(patch.Files) != 1 {
		t.Fatalf("len(Files) = %d, want 1", len(patch.Files))
	}
	if patch.Files[0].TargetPath != "bin/app.exe" {
		t.Fatalf("TargetPath = %q, want bin/app.exe", patch.Files[0].TargetPath)
	}
	if mock.CallCount() != 3 {
		t.Fatalf("CallCount() = %d, want 3 (patch_info + root + one matching depot)", mock.CallCount())
	}
}

func TestGetPatchRejectsNonXdelta3Algorithm(t *testing.T) {
	r, _ := newResolver([]httpxtest.Call{
		{Response: jsonResp(`{"id":"p1","from":"old","to":"new","link":"https://cdn.test/v2/store/patch.json"}`)},
		{Response: jsonResp(`{"algorithm":"bsdiff","depots":[]}`)},
	})
	_, err := r.GetPatch(context.Background(), "1001", v2("new"), v2("old"), "en-US", nil)
	if err == nil {
		t.Fatal("expected error for unsupported algorithm")
	}
	if galerr.KindOf(err) != galerr.Unsupported {
		t.Fatalf("KindOf(err) = %v, want Unsupported", galerr.KindOf(err))
	}
}

func TestGetPatchSkipsV1Builds(t *testing.T) {
	r, mock := newResolver(nil)
	v1m := manifest.Manifest{BaseProductID: "1001", BuildID: "old", Generation: manifest.GenerationV1}
	patch, err := r.GetPatch(context.Background(), "1001", v2("new"), v1m, "en-US", nil)
	if err != nil {
		t.Fatalf("GetPatch() error = %v, want nil", err)
	}
	if patch != nil {
		t.Fatalf("GetPatch() = %v, want nil for a V1 build", patch)
	}
	if mock.CallCount() != 0 {
		t.Fatalf("CallCount() = %d, want 0 (V1 builds never hit the network)", mock.CallCount())
	}
}
