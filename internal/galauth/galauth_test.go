package galauth

import (
	"context"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func TestLoginWithExplicitCode(t *testing.T) {
	var exchanged string
	ts := newTestTokenServer(t, func(code string) { exchanged = code })
	defer ts.Close()

	config := &oauth2.Config{
		ClientID: "client",
		Endpoint: oauth2.Endpoint{TokenURL: ts.URL},
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if err := Login(context.Background(), config, &strings.Builder{}, strings.NewReader(""), "the-code"); err != nil {
		t.Fatalf("Login() failed: %v", err)
	}
	if exchanged != "the-code" {
		t.Fatalf("exchanged code = %q, want %q", exchanged, "the-code")
	}
}

func TestStaticTokenProvider(t *testing.T) {
	p := StaticTokenProvider("abc123")
	tok, err := p.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() failed: %v", err)
	}
	if tok != "abc123" {
		t.Fatalf("Token() = %q, want %q", tok, "abc123")
	}
}
