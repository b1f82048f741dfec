package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGraph is a minimal Graph API double covering debug_token and /me.
type fakeGraph struct {
	appID   string
	valid   bool
	profile map[string]string
}

func (g *fakeGraph) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug_token", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("input_token") == "" || r.URL.Query().Get("access_token") == "" {
			http.Error(w, "missing params", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if g.valid {
			_, _ = w.Write([]byte(`{"data":{"app_id":"` + g.appID + `","is_valid":true}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"app_id":"` + g.appID + `","is_valid":false}}`))
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"` + g.profile["id"] + `","name":"` + g.profile["name"] +
			`","email":"` + g.profile["email"] + `"}`))
	})
	return mux
}

func newTestFacebook(t *testing.T, graph *fakeGraph) *Facebook {
	t.Helper()
	srv := httptest.NewServer(graph.handler())
	t.Cleanup(srv.Close)

	f, err := NewFacebook(FacebookConfig{
		AppID:      graph.appID,
		AppSecret:  "shhh",
		GraphURL:   srv.URL,
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return f
}

func TestFacebookResolve(t *testing.T) {
	f := newTestFacebook(t, &fakeGraph{
		appID: "app-1",
		valid: true,
		profile: map[string]string{
			"id": "fb-99", "name": "Alice Doe", "email": "alice@halcyonair.com",
		},
	})

	identity, err := f.Resolve(context.Background(), "user-token")
	require.NoError(t, err)
	assert.Equal(t, "fb-99", identity.ID)
	assert.Equal(t, "alice@halcyonair.com", identity.Email)
	assert.Equal(t, "Alice Doe", identity.Name)
}

func TestFacebookRejectsInvalidToken(t *testing.T) {
	f := newTestFacebook(t, &fakeGraph{appID: "app-1", valid: false})

	_, err := f.Resolve(context.Background(), "stale-token")
	assert.Error(t, err)
}

func TestFacebookRejectsTokenForAnotherApp(t *testing.T) {
	graph := &fakeGraph{appID: "someone-elses-app", valid: true,
		profile: map[string]string{"id": "fb-1", "email": "a@b.c"}}
	srv := httptest.NewServer(graph.handler())
	t.Cleanup(srv.Close)

	f, err := NewFacebook(FacebookConfig{
		AppID: "app-1", AppSecret: "shhh", GraphURL: srv.URL, HTTPClient: srv.Client(),
	})
	require.NoError(t, err)

	_, err = f.Resolve(context.Background(), "foreign-token")
	assert.Error(t, err)
}

func TestFacebookRequiresEmailPermission(t *testing.T) {
	f := newTestFacebook(t, &fakeGraph{
		appID:   "app-1",
		valid:   true,
		profile: map[string]string{"id": "fb-99", "name": "Alice Doe", "email": ""},
	})

	_, err := f.Resolve(context.Background(), "user-token")
	assert.Error(t, err)
}

func TestFacebookRejectsEmptyToken(t *testing.T) {
	f := newTestFacebook(t, &fakeGraph{appID: "app-1", valid: true})

	_, err := f.Resolve(context.Background(), "")
	assert.Error(t, err)
}

func TestNewFacebookRequiresCredentials(t *testing.T) {
	_, err := NewFacebook(FacebookConfig{AppID: "app-1"})
	assert.Error(t, err)
	_, err = NewFacebook(FacebookConfig{AppSecret: "shhh"})
	assert.Error(t, err)
}
