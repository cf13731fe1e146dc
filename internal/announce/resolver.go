package announce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	// DefaultEndpoint is the public oEmbed endpoint for posts.
	DefaultEndpoint = "https://publish.twitter.com/oembed"

	defaultHTTPTimeout = 10 * time.Second
	maxResponseBytes   = 1 << 20
	maxTextLength      = 1000
)

// ErrInvalidURL is returned when the requested URL is not an absolute
// http(s) URL.
var ErrInvalidURL = errors.New("announce: invalid url")

// Resolver turns a post URL into an Announcement.
type Resolver interface {
	Resolve(ctx context.Context, postURL string) (Announcement, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, postURL string) (Announcement, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, postURL string) (Announcement, error) {
	return f(ctx, postURL)
}

// OEmbedResolver resolves announcements through an oEmbed endpoint.
type OEmbedResolver struct {
	endpoint   string
	httpClient *http.Client
}

// Option customizes the OEmbedResolver.
type Option func(*OEmbedResolver)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(r *OEmbedResolver) {
		if client != nil {
			r.httpClient = client
		}
	}
}

// WithEndpoint overrides the oEmbed endpoint (useful for tests).
func WithEndpoint(endpoint string) Option {
	return func(r *OEmbedResolver) {
		endpoint = strings.TrimSpace(endpoint)
		if endpoint != "" {
			r.endpoint = endpoint
		}
	}
}

// NewOEmbedResolver constructs a resolver.
func NewOEmbedResolver(opts ...Option) *OEmbedResolver {
	r := &OEmbedResolver{
		endpoint:   DefaultEndpoint,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type oembedResponse struct {
	AuthorName string `json:"author_name"`
	HTML       string `json:"html"`
}

// ValidateURL checks postURL is an absolute http or https URL.
func ValidateURL(postURL string) error {
	u, err := url.Parse(strings.TrimSpace(postURL))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, postURL)
	}
	return nil
}

// Resolve fetches the oEmbed document for postURL and extracts the author
// and the text of the first paragraph of the embed HTML.
func (r *OEmbedResolver) Resolve(ctx context.Context, postURL string) (Announcement, error) {
	var empty Announcement
	postURL = strings.TrimSpace(postURL)
	if err := ValidateURL(postURL); err != nil {
		return empty, err
	}

	endpoint, err := url.Parse(r.endpoint)
	if err != nil {
		return empty, fmt.Errorf("announce resolve: endpoint: %w", err)
	}
	q := endpoint.Query()
	q.Set("url", postURL)
	q.Set("omit_script", "true")
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return empty, fmt.Errorf("announce resolve: request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return empty, fmt.Errorf("announce resolve: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return empty, fmt.Errorf("announce resolve: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return empty, fmt.Errorf("announce resolve: http %d", resp.StatusCode)
	}

	var doc oembedResponse
	if err := json.Unmarshal(body, &doc); err != nil {
		return empty, fmt.Errorf("announce resolve: decode response: %w", err)
	}

	text, err := FirstParagraphText(doc.HTML)
	if err != nil {
		return empty, fmt.Errorf("announce resolve: parse html: %w", err)
	}

	return Announcement{
		Author: strings.TrimSpace(doc.AuthorName),
		Text:   text,
		URL:    postURL,
	}, nil
}

// FirstParagraphText returns the text content of the first <p> element in
// fragment, with entities decoded, <br> as a newline and surrounding
// whitespace trimmed. It returns "" when there is no paragraph.
func FirstParagraphText(fragment string) (string, error) {
	if strings.TrimSpace(fragment) == "" {
		return "", nil
	}
	root, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return "", err
	}

	p := findElement(root, "p")
	if p == nil {
		return "", nil
	}

	var b strings.Builder
	collectText(p, &b)
	text := strings.TrimSpace(b.String())
	if r := []rune(text); len(r) > maxTextLength {
		text = string(r[:maxTextLength])
	}
	return text, nil
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func collectText(n *html.Node, b *strings.Builder) {
	switch {
	case n.Type == html.TextNode:
		b.WriteString(n.Data)
	case n.Type == html.ElementNode && n.Data == "br":
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}
