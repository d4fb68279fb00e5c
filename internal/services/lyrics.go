package services

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/desertthunder/melodymind/internal/shared"
)

const geniusBaseURL = "https://api.genius.com"

// GeniusService resolves lyrics through the Genius API. The API returns song
// metadata and a page URL only; the lyrics text itself is scraped from the
// song page.
type GeniusService struct {
	accessToken string
	apiBaseURL  string
	httpClient  *http.Client
}

var _ LyricsProvider = (*GeniusService)(nil)

// NewGeniusService creates a lyrics client.
func NewGeniusService(cfg shared.GeniusConfig) (*GeniusService, error) {
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("%w: genius access_token", shared.ErrMissingCredentials)
	}
	return &GeniusService{
		accessToken: cfg.AccessToken,
		apiBaseURL:  geniusBaseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type geniusHit struct {
	Result struct {
		Title         string `json:"title"`
		URL           string `json:"url"`
		PrimaryArtist struct {
			Name string `json:"name"`
		} `json:"primary_artist"`
	} `json:"result"`
}

// Search finds the best lyrics match for a title and optional artist.
// Returns shared.ErrLyricsNotFound when Genius has no usable match.
func (g *GeniusService) Search(ctx context.Context, title, artist string) (*Lyrics, error) {
	query := title
	if artist != "" {
		query = artist + " " + title
	}

	endpoint := fmt.Sprintf("%s/search?q=%s", g.apiBaseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.accessToken)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: genius status %d", shared.ErrUnavailable, resp.StatusCode)
	}

	var body struct {
		Response struct {
			Hits []geniusHit `json:"hits"`
		} `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	if len(body.Response.Hits) == 0 {
		return nil, fmt.Errorf("%w: no hits for %q", shared.ErrLyricsNotFound, query)
	}
	hit := body.Response.Hits[0].Result

	text, err := g.scrapeLyrics(ctx, hit.URL)
	if err != nil {
		return nil, err
	}

	return &Lyrics{
		Title:  hit.Title,
		Artist: hit.PrimaryArtist.Name,
		Text:   text,
	}, nil
}

var (
	lyricsContainerRe = regexp.MustCompile(`(?s)<div[^>]+data-lyrics-container="true"[^>]*>(.*?)</div>`)
	brRe              = regexp.MustCompile(`<br\s*/?>`)
	tagRe             = regexp.MustCompile(`<[^>]+>`)
	embedSuffixRe     = regexp.MustCompile(`\d*Embed\s*$`)
	blankRunsRe       = regexp.MustCompile(`\n{3,}`)
)

// scrapeLyrics pulls the lyrics containers out of a Genius song page.
func (g *GeniusService) scrapeLyrics(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: lyrics page status %d", shared.ErrLyricsNotFound, resp.StatusCode)
	}

	page, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrTransientNetwork, err)
	}

	matches := lyricsContainerRe.FindAllSubmatch(page, -1)
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: no lyrics container on page", shared.ErrLyricsNotFound)
	}

	var sb strings.Builder
	for _, m := range matches {
		sb.Write(m[1])
		sb.WriteString("\n")
	}

	text := cleanLyrics(sb.String())
	if text == "" {
		return "", fmt.Errorf("%w: empty lyrics after cleanup", shared.ErrLyricsNotFound)
	}
	return text, nil
}

// cleanLyrics converts container markup to plain text: line breaks survive,
// tags and the trailing Embed marker do not.
func cleanLyrics(raw string) string {
	text := brRe.ReplaceAllString(raw, "\n")
	text = tagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = embedSuffixRe.ReplaceAllString(text, "")
	text = blankRunsRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
