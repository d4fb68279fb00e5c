// Spotify Web API client.
//
// Response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/desertthunder/melodymind/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"

	// tokenExpiryMargin is subtracted from the provider expiry at issuance
	// so tokens are refreshed before they actually lapse.
	tokenExpiryMargin = 60 * time.Second
)

// TokenPair is a plaintext access/refresh token pair with its adjusted
// absolute expiry. Pairs are issued and rotated together, never partially.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// SpotifyArtist represents a Spotify artist.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type spotifyAlbum struct {
	Name string `json:"name"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Artists    []SpotifyArtist `json:"artists"`
	Album      spotifyAlbum    `json:"album"`
	DurationMS int             `json:"duration_ms"`
	URI        string          `json:"uri"`
}

// ArtistNames joins the track's artist names for display.
func (t SpotifyTrack) ArtistNames() string {
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}

// SpotifyUser represents the authenticated user's profile.
type SpotifyUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// SpotifyPlaylist represents a created playlist.
type SpotifyPlaylist struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ExternalURLs struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
}

// Seeds are recommendation inputs. The API accepts at most five combined
// seed values; extra entries are dropped in track, genre, artist order.
type Seeds struct {
	Tracks  []string
	Genres  []string
	Artists []string
}

func (s Seeds) capped() Seeds {
	remaining := 5
	take := func(vals []string) []string {
		if len(vals) > remaining {
			vals = vals[:remaining]
		}
		remaining -= len(vals)
		return vals
	}
	return Seeds{Tracks: take(s.Tracks), Genres: take(s.Genres), Artists: take(s.Artists)}
}

// Empty reports whether no seed values are present.
func (s Seeds) Empty() bool {
	return len(s.Tracks)+len(s.Genres)+len(s.Artists) == 0
}

// SpotifyService is the typed Spotify Web API client. App-level calls use
// the client-credentials grant; user-level calls take a bearer token from
// the token lifecycle manager.
type SpotifyService struct {
	config     *oauth2.Config
	baseURL    string
	httpClient *http.Client
	retry      shared.RetryPolicy

	appTokens oauth2.TokenSource
	mu        sync.Mutex
}

// NewSpotifyService creates a Spotify client from OAuth2 credentials.
func NewSpotifyService(cfg shared.SpotifyConfig) (*SpotifyService, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: spotify client_id/client_secret", shared.ErrMissingCredentials)
	}

	redirectURI := cfg.RedirectURI
	if redirectURI == "" {
		redirectURI = "http://localhost:8080/callback"
	}

	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes: []string{
			"user-read-recently-played",
			"user-top-read",
			"playlist-modify-private",
		},
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyAuthURL,
			TokenURL: spotifyTokenURL,
		},
	}

	return &SpotifyService{
		config:     config,
		baseURL:    spotifyBaseURL,
		httpClient: http.DefaultClient,
		retry:      shared.RetryPolicy{Attempts: 3, BaseWait: time.Second, MaxWait: 10 * time.Second},
	}, nil
}

func (s *SpotifyService) Name() string { return "Spotify" }

// AuthURL returns the authorization URL embedding state as the opaque
// correlation token.
func (s *SpotifyService) AuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a token pair.
func (s *SpotifyService) Exchange(ctx context.Context, code string) (*TokenPair, error) {
	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		return nil, mapOAuthError(err)
	}
	return pairFromToken(token, "")
}

// Refresh trades a refresh token for a fresh pair. The provider may rotate
// the refresh token; when it does not, the old one is carried forward so the
// returned pair is always complete.
func (s *SpotifyService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	src := s.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, mapOAuthError(err)
	}
	return pairFromToken(token, refreshToken)
}

func pairFromToken(token *oauth2.Token, fallbackRefresh string) (*TokenPair, error) {
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", shared.ErrRefreshFailed)
	}

	refresh := token.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}
	if refresh == "" {
		return nil, fmt.Errorf("%w: provider returned no refresh token", shared.ErrRefreshFailed)
	}

	expiry := token.Expiry
	if expiry.IsZero() {
		expiry = time.Now().Add(time.Hour)
	}

	return &TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    expiry.Add(-tokenExpiryMargin),
	}, nil
}

// mapOAuthError classifies token-endpoint failures: an invalid_grant class
// response means the refresh token itself is revoked, anything else at the
// transport level is transient.
func mapOAuthError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == "invalid_grant" ||
			retrieveErr.Response.StatusCode == http.StatusBadRequest ||
			retrieveErr.Response.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %v", shared.ErrAuthExpiredOrRevoked, err)
		}
		return fmt.Errorf("%w: %v", shared.ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %v", shared.ErrTransientNetwork, err)
}

// appToken returns a valid client-credentials token, cached by the
// underlying token source until expiry.
func (s *SpotifyService) appToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.appTokens == nil {
		cc := &clientcredentials.Config{
			ClientID:     s.config.ClientID,
			ClientSecret: s.config.ClientSecret,
			TokenURL:     spotifyTokenURL,
		}
		s.appTokens = cc.TokenSource(ctx)
	}
	src := s.appTokens
	s.mu.Unlock()

	token, err := src.Token()
	if err != nil {
		return "", mapOAuthError(err)
	}
	return token.AccessToken, nil
}

// doRequest performs an authenticated request against the Web API and maps
// failure statuses onto the shared taxonomy.
func (s *SpotifyService) doRequest(ctx context.Context, method, endpoint, bearer string, body, result any) error {
	var payload *bytes.Buffer
	if body != nil {
		payload = &bytes.Buffer{}
		if err := json.NewEncoder(payload).Encode(body); err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	var req *http.Request
	var err error
	if payload != nil {
		req, err = http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, payload)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, nil)
	}
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: spotify status %d", shared.ErrAuthExpiredOrRevoked, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: spotify status %d", shared.ErrNotFound, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: spotify status %d", shared.ErrTransientNetwork, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: spotify status %d", shared.ErrUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: spotify status %d", shared.ErrUnclassified, resp.StatusCode)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// SearchTrack finds the best track match for a free-text query using the
// app-level token.
func (s *SpotifyService) SearchTrack(ctx context.Context, query string) (*SpotifyTrack, error) {
	bearer, err := s.appToken(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("/search?q=%s&type=track&limit=1", url.QueryEscape(query))

	var response struct {
		Tracks struct {
			Items []SpotifyTrack `json:"items"`
		} `json:"tracks"`
	}
	if err := s.doRequest(ctx, http.MethodGet, endpoint, bearer, nil, &response); err != nil {
		return nil, err
	}

	if len(response.Tracks.Items) == 0 {
		return nil, fmt.Errorf("%w: no track for %q", shared.ErrNotFound, query)
	}
	return &response.Tracks.Items[0], nil
}

// SearchArtistID resolves an artist name to a Spotify artist id for seeding.
func (s *SpotifyService) SearchArtistID(ctx context.Context, name string) (string, error) {
	bearer, err := s.appToken(ctx)
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("/search?q=%s&type=artist&limit=1", url.QueryEscape(name))

	var response struct {
		Artists struct {
			Items []SpotifyArtist `json:"items"`
		} `json:"artists"`
	}
	if err := s.doRequest(ctx, http.MethodGet, endpoint, bearer, nil, &response); err != nil {
		return "", err
	}

	if len(response.Artists.Items) == 0 {
		return "", fmt.Errorf("%w: no artist for %q", shared.ErrNotFound, name)
	}
	return response.Artists.Items[0].ID, nil
}

// Recommendations fetches up to limit tracks biased by the given seeds.
// Transient failures are retried with backoff.
func (s *SpotifyService) Recommendations(ctx context.Context, seeds Seeds, limit int) ([]SpotifyTrack, error) {
	seeds = seeds.capped()
	if seeds.Empty() {
		return nil, fmt.Errorf("%w: no recommendation seeds", shared.ErrMissingArgument)
	}
	if limit <= 0 {
		limit = 5
	}

	bearer, err := s.appToken(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("limit", fmt.Sprintf("%d", limit))
	if len(seeds.Tracks) > 0 {
		params.Set("seed_tracks", strings.Join(seeds.Tracks, ","))
	}
	if len(seeds.Genres) > 0 {
		params.Set("seed_genres", strings.Join(seeds.Genres, ","))
	}
	if len(seeds.Artists) > 0 {
		params.Set("seed_artists", strings.Join(seeds.Artists, ","))
	}

	var response struct {
		Tracks []SpotifyTrack `json:"tracks"`
	}
	err = s.retry.Do(ctx, func() error {
		err := s.doRequest(ctx, http.MethodGet, "/recommendations?"+params.Encode(), bearer, nil, &response)
		if err != nil && !errors.Is(err, shared.ErrTransientNetwork) {
			return shared.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	return response.Tracks, nil
}

// Profile retrieves the linked user's profile with their bearer token.
func (s *SpotifyService) Profile(ctx context.Context, bearer string) (*SpotifyUser, error) {
	var user SpotifyUser
	if err := s.doRequest(ctx, http.MethodGet, "/me", bearer, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// CreatePlaylist creates a private playlist on the linked user's account.
func (s *SpotifyService) CreatePlaylist(ctx context.Context, bearer, spotifyUserID, name, description string) (*SpotifyPlaylist, error) {
	endpoint := fmt.Sprintf("/users/%s/playlists", url.PathEscape(spotifyUserID))
	body := map[string]any{"name": name, "public": false, "description": description}

	var playlist SpotifyPlaylist
	if err := s.doRequest(ctx, http.MethodPost, endpoint, bearer, body, &playlist); err != nil {
		return nil, err
	}
	return &playlist, nil
}

type playedItem struct {
	Track SpotifyTrack `json:"track"`
}

// RecentlyPlayed returns the linked user's most recent listens.
func (s *SpotifyService) RecentlyPlayed(ctx context.Context, bearer string, limit int) ([]SpotifyTrack, error) {
	if limit <= 0 {
		limit = 10
	}
	endpoint := fmt.Sprintf("/me/player/recently-played?limit=%d", limit)

	var response struct {
		Items []playedItem `json:"items"`
	}
	if err := s.doRequest(ctx, http.MethodGet, endpoint, bearer, nil, &response); err != nil {
		return nil, err
	}

	tracks := make([]SpotifyTrack, len(response.Items))
	for i, item := range response.Items {
		tracks[i] = item.Track
	}
	return tracks, nil
}

// TopTracks returns the linked user's short-term top tracks.
func (s *SpotifyService) TopTracks(ctx context.Context, bearer string, limit int) ([]SpotifyTrack, error) {
	if limit <= 0 {
		limit = 10
	}
	endpoint := fmt.Sprintf("/me/top/tracks?limit=%d&time_range=short_term", limit)

	var response struct {
		Items []SpotifyTrack `json:"items"`
	}
	if err := s.doRequest(ctx, http.MethodGet, endpoint, bearer, nil, &response); err != nil {
		return nil, err
	}
	return response.Items, nil
}
