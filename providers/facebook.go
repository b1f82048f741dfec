package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/halcyonair/aeroauth"
)

const facebookGraphURL = "https://graph.facebook.com/v18.0"

// FacebookConfig configures the Facebook introspector. AppID and AppSecret
// form the app access token used to call debug_token.
type FacebookConfig struct {
	AppID     string
	AppSecret string

	// GraphURL overrides the Graph API base, for tests.
	GraphURL string

	HTTPClient *http.Client
}

// Facebook introspects user access tokens against the Graph API: debug_token
// confirms the token is live and was issued for this app, then /me resolves
// the profile.
type Facebook struct {
	appID      string
	appSecret  string
	graphURL   string
	httpClient *http.Client
}

func NewFacebook(cfg FacebookConfig) (*Facebook, error) {
	if cfg.AppID == "" || cfg.AppSecret == "" {
		return nil, errors.New("providers: facebook app id and secret required")
	}
	f := &Facebook{
		appID:      cfg.AppID,
		appSecret:  cfg.AppSecret,
		graphURL:   cfg.GraphURL,
		httpClient: cfg.HTTPClient,
	}
	if f.graphURL == "" {
		f.graphURL = facebookGraphURL
	}
	if f.httpClient == nil {
		f.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return f, nil
}

// Resolve validates the token and fetches the profile behind it.
func (f *Facebook) Resolve(ctx context.Context, accessToken string) (*aeroauth.Identity, error) {
	if accessToken == "" {
		return nil, errors.New("providers: empty facebook token")
	}
	if err := f.debugToken(ctx, accessToken); err != nil {
		return nil, err
	}
	return f.me(ctx, accessToken)
}

func (f *Facebook) debugToken(ctx context.Context, accessToken string) error {
	q := url.Values{}
	q.Set("input_token", accessToken)
	q.Set("access_token", f.appID+"|"+f.appSecret)

	var body struct {
		Data struct {
			AppID   string `json:"app_id"`
			IsValid bool   `json:"is_valid"`
		} `json:"data"`
	}
	if err := f.get(ctx, "/debug_token", q, &body); err != nil {
		return err
	}
	if !body.Data.IsValid || body.Data.AppID != f.appID {
		return errors.New("providers: facebook token not valid for this app")
	}
	return nil
}

func (f *Facebook) me(ctx context.Context, accessToken string) (*aeroauth.Identity, error) {
	q := url.Values{}
	q.Set("fields", "id,name,email")
	q.Set("access_token", accessToken)

	var body struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := f.get(ctx, "/me", q, &body); err != nil {
		return nil, err
	}
	if body.ID == "" || body.Email == "" {
		// email permission not granted; the engine cannot provision
		// without an address
		return nil, errors.New("providers: facebook profile incomplete")
	}
	return &aeroauth.Identity{ID: body.ID, Email: body.Email, Name: body.Name}, nil
}

func (f *Facebook) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.graphURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("providers: facebook %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("providers: facebook %s status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("providers: facebook %s decode: %w", path, err)
	}
	return nil
}
