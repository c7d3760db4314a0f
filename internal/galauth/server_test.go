package galauth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// newTestTokenServer stands in for an OAuth token endpoint, recording the
// authorization code it was exchanged with and returning a fixed token.
func newTestTokenServer(t *testing.T, onExchange func(code string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		onExchange(r.Form.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-access","refresh_token":"tok-refresh","token_type":"bearer","expires_in":3600}`))
	}))
}
