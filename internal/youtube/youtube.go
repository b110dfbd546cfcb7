package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	playerEndpoint = "https://www.youtube.com/youtubei/v1/player"
	oembedEndpoint = "https://www.youtube.com/oembed"

	androidVersion = "20.10.38"
	androidUA      = "com.google.android.youtube/" + androidVersion + " (Linux; U; Android 11) gzip"
)

var idRe = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// Client fetches video transcripts via the player RPC and timed-text
// endpoints, identifying as the Android app.
type Client struct {
	http *http.Client
}

func New() *Client {
	return &Client{http: &http.Client{Timeout: 15 * time.Second}}
}

// VideoID extracts the 11-character video id from a watch, short,
// embed, or shorts URL.
func VideoID(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))

	switch host {
	case "youtu.be":
		id := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)[0]
		return id, idRe.MatchString(id)
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		if u.Path == "/watch" {
			id := u.Query().Get("v")
			return id, idRe.MatchString(id)
		}
		for _, prefix := range []string{"/embed/", "/shorts/"} {
			if strings.HasPrefix(u.Path, prefix) {
				id := strings.SplitN(strings.TrimPrefix(u.Path, prefix), "/", 2)[0]
				return id, idRe.MatchString(id)
			}
		}
	}
	return "", false
}

// Transcript returns the video title and a Markdown transcript.
// Any failure yields ok=false rather than an error so callers can
// fall through to the generic HTML path.
func (c *Client) Transcript(ctx context.Context, rawURL string) (title, md string, ok bool) {
	videoID, found := VideoID(rawURL)
	if !found {
		return "", "", false
	}

	trackURL, err := c.captionTrackURL(ctx, videoID)
	if err != nil || trackURL == "" {
		return "", "", false
	}
	if !allowedTimedTextHost(trackURL) {
		return "", "", false
	}

	segments, err := c.fetchTimedText(ctx, trackURL)
	if err != nil || len(segments) == 0 {
		return "", "", false
	}

	title = c.oembedTitle(ctx, rawURL)
	if title == "" {
		title = "YouTube Video"
	}

	var b strings.Builder
	b.WriteString("# " + title + "\n\n")
	b.WriteString("**Video:** " + rawURL + "\n\n")
	b.WriteString("## Transcript\n\n")
	for _, s := range segments {
		b.WriteString("[" + formatTimestamp(s.start) + "] " + s.text + "\n")
	}
	return title, b.String(), true
}

type playerRequest struct {
	Context struct {
		Client struct {
			ClientName    string `json:"clientName"`
			ClientVersion string `json:"clientVersion"`
			AndroidSDK    int    `json:"androidSdkVersion"`
		} `json:"client"`
	} `json:"context"`
	VideoID string `json:"videoId"`
}

type playerResponse struct {
	Captions struct {
		PlayerCaptionsTracklistRenderer struct {
			CaptionTracks []struct {
				BaseURL      string `json:"baseUrl"`
				LanguageCode string `json:"languageCode"`
			} `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
}

// captionTrackURL asks the player RPC for the caption track list and
// picks English, falling back to the first track.
func (c *Client) captionTrackURL(ctx context.Context, videoID string) (string, error) {
	var body playerRequest
	body.Context.Client.ClientName = "ANDROID"
	body.Context.Client.ClientVersion = androidVersion
	body.Context.Client.AndroidSDK = 30
	body.VideoID = videoID

	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, playerEndpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", androidUA)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("player RPC status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", err
	}

	var pr playerResponse
	if err := json.Unmarshal(data, &pr); err != nil {
		return "", err
	}

	tracks := pr.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks
	if len(tracks) == 0 {
		return "", nil
	}
	for _, t := range tracks {
		if t.LanguageCode == "en" || strings.HasPrefix(t.LanguageCode, "en-") {
			return t.BaseURL, nil
		}
	}
	return tracks[0].BaseURL, nil
}

// allowedTimedTextHost restricts the caption URL to the expected
// hosts; the value comes from a remote JSON document and is never
// trusted blindly.
func allowedTimedTextHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "www.youtube.com" || host == "youtube.com"
}

type segment struct {
	start float64
	text  string
}

type timedText struct {
	Body struct {
		P []timedNode `xml:"p"`
	} `xml:"body"`
	Text []timedNode `xml:"text"`
}

type timedNode struct {
	T     string `xml:"t,attr"`
	D     string `xml:"d,attr"`
	Start string `xml:"start,attr"`
	Dur   string `xml:"dur,attr"`
	Value string `xml:",chardata"`
	Spans []struct {
		Value string `xml:",chardata"`
	} `xml:"s"`
}

func (c *Client) fetchTimedText(ctx context.Context, trackURL string) ([]segment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, trackURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", androidUA)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("timedtext status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	return parseTimedText(data)
}

// parseTimedText handles both the modern srv3 format (<p t d>) with
// millisecond offsets and the legacy format (<text start dur>) with
// second offsets.
func parseTimedText(data []byte) ([]segment, error) {
	var tt timedText
	if err := xml.Unmarshal(data, &tt); err != nil {
		return nil, err
	}

	nodes := tt.Body.P
	legacy := false
	if len(nodes) == 0 {
		nodes = tt.Text
		legacy = true
	}

	var out []segment
	for _, n := range nodes {
		text := n.Value
		if strings.TrimSpace(text) == "" {
			var parts []string
			for _, s := range n.Spans {
				parts = append(parts, s.Value)
			}
			text = strings.Join(parts, "")
		}
		text = strings.TrimSpace(html.UnescapeString(text))
		if text == "" {
			continue
		}

		var start float64
		if legacy {
			start, _ = strconv.ParseFloat(n.Start, 64)
		} else {
			ms, _ := strconv.ParseFloat(n.T, 64)
			start = ms / 1000
		}
		out = append(out, segment{start: start, text: text})
	}
	return out, nil
}

func formatTimestamp(seconds float64) string {
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

type oembedResponse struct {
	Title string `json:"title"`
}

func (c *Client) oembedTitle(ctx context.Context, videoURL string) string {
	q := url.Values{"url": {videoURL}, "format": {"json"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, oembedEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return ""
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var oe oembedResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&oe); err != nil {
		return ""
	}
	return strings.TrimSpace(oe.Title)
}
