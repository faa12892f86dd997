package relayinfo

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/context"
)

func TestHTTPURL(t *testing.T) {
	for _, tc := range []struct{ in, want string }{
		{"wss://relay.example.com", "https://relay.example.com"},
		{"ws://127.0.0.1:7777", "http://127.0.0.1:7777"},
		{"relay.example.com/sub/", "https://relay.example.com/sub"},
	} {
		got, err := HTTPURL(tc.in)
		if chk.E(err) {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Fatalf("HTTPURL(%q): got %q want %q", tc.in, got, tc.want)
		}
	}
	if _, err := HTTPURL("not a url \x00"); err == nil {
		t.Fatal("expected error for unparseable url")
	}
}

func TestFetch(t *testing.T) {
	doc := &T{
		Name:        "test relay",
		Description: "serves the info document",
		Nips: GetList(
			BasicProtocol, Authentication, CountingResults,
			NegentropySyncing,
		),
		Limitation: Limits{AuthRequired: true, MaxMessageLength: 524288},
	}
	router := chi.NewRouter()
	router.Get(
		"/", func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(
				r.Header.Get("Accept"), "application/nostr+json",
			) {
				http.Error(w, "not a nostr client", http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/nostr+json")
			if err := json.NewEncoder(w).Encode(doc); chk.E(err) {
				t.Error(err)
			}
		},
	)
	srv := httptest.NewServer(router)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	c, cancel := context.Timeout(context.Bg(), 5*time.Second)
	defer cancel()
	info, err := Fetch(c, nil, wsURL)
	if chk.E(err) {
		t.Fatal(err)
	}
	if info.Name != doc.Name {
		t.Fatalf("name: got %q want %q", info.Name, doc.Name)
	}
	if !info.Limitation.AuthRequired {
		t.Fatal("auth_required lost in round trip")
	}
	if !info.Supports(NegentropySyncing) {
		t.Fatal("supported nip 77 lost in round trip")
	}
	if info.Supports(RelayListMetadata) {
		t.Fatal("unsupported nip reported as supported")
	}
}

func TestFetchRejectsNonDocument(t *testing.T) {
	router := chi.NewRouter()
	router.Get(
		"/", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>not json</html>"))
		},
	)
	srv := httptest.NewServer(router)
	defer srv.Close()
	c, cancel := context.Timeout(context.Bg(), 5*time.Second)
	defer cancel()
	if _, err := Fetch(
		c, nil, "ws"+strings.TrimPrefix(srv.URL, "http"),
	); err == nil {
		t.Fatal("malformed document accepted")
	}
}
