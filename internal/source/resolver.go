// Package source validates input URLs and downloads source videos to local
// temporary files.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/kiranshivaraju/vidaudio/internal/config"
	"github.com/kiranshivaraju/vidaudio/internal/progress"
	"github.com/kiranshivaraju/vidaudio/pkg/models"
)

const (
	userAgent        = "Mozilla/5.0 (compatible; vidaudio/1.0)"
	maxInterstitial  = 1 << 20
	defaultExtension = ".mp4"
)

var (
	// Sharing-link shapes, matched on path and query of any host.
	fileIDPath  = regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`)
	fileIDQuery = regexp.MustCompile(`^/(?:open|uc)$`)
	idValue     = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	confirmToken = regexp.MustCompile(`confirm=([0-9A-Za-z_-]+)`)
)

// Resolver normalizes and fetches source URLs.
type Resolver struct {
	client     *http.Client
	tempDir    string
	domains    []string
	extensions []string
}

// NewResolver creates a Resolver from configuration.
func NewResolver(cfg config.SourceConfig) *Resolver {
	maxRedirects := cfg.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = 5
	}
	exts := make([]string, 0, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	domains := make([]string, 0, len(cfg.AllowedDomains))
	for _, d := range cfg.AllowedDomains {
		domains = append(domains, strings.ToLower(d))
	}
	return &Resolver{
		client: &http.Client{
			Timeout: cfg.FetchTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		tempDir:    cfg.TempDir,
		domains:    domains,
		extensions: exts,
	}
}

// IsWellFormedURL reports whether s is an absolute http(s) URL with a host.
func IsWellFormedURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// IsSupportedSource reports whether the URL points at a known video host, ends
// with a known video extension, or has a recognised sharing-link shape.
func (r *Resolver) IsSupportedSource(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return false
	}
	if r.allowedHost(u.Hostname()) {
		return true
	}
	if r.allowedExtension(u.Path) {
		return true
	}
	_, ok := sharingFileID(u)
	return ok
}

func (r *Resolver) allowedHost(host string) bool {
	host = strings.ToLower(host)
	for _, d := range r.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func (r *Resolver) allowedExtension(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	for _, e := range r.extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// sharingFileID extracts the file identifier from a sharing link.
func sharingFileID(u *url.URL) (string, bool) {
	if m := fileIDPath.FindStringSubmatch(u.Path); m != nil {
		return m[1], true
	}
	if fileIDQuery.MatchString(u.Path) {
		if id := u.Query().Get("id"); idValue.MatchString(id) {
			return id, true
		}
	}
	return "", false
}

// Normalize rewrites sharing links into their direct-download form. Other URLs
// are returned unchanged.
func Normalize(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}

	if id, ok := sharingFileID(u); ok {
		// A link that is already a direct download keeps its other parameters.
		if u.Path == "/uc" && u.Query().Get("export") == "download" {
			return u.String()
		}
		host := u.Host
		if strings.EqualFold(u.Hostname(), "docs.google.com") {
			host = "drive.google.com"
		}
		direct := url.URL{
			Scheme:   u.Scheme,
			Host:     host,
			Path:     "/uc",
			RawQuery: url.Values{"export": {"download"}, "id": {id}}.Encode(),
		}
		return direct.String()
	}

	host := strings.ToLower(u.Hostname())
	if host == "dropbox.com" || strings.HasSuffix(host, ".dropbox.com") {
		q := u.Query()
		if q.Get("dl") == "0" {
			q.Set("dl", "1")
			u.RawQuery = q.Encode()
			return u.String()
		}
	}

	return u.String()
}

// Fetch downloads the source to a temporary file and returns its path.
// Progress is reported as a 0-100 percentage of the body when the length is known.
// On failure any partial file is removed.
func (r *Resolver) Fetch(ctx context.Context, jobID, rawURL string, sink progress.Sink) (string, error) {
	if sink == nil {
		sink = progress.Discard
	}
	target := Normalize(rawURL)
	if target != rawURL {
		slog.Info("rewrote sharing link", "job_id", jobID, "url", target)
	}

	resp, err := r.get(ctx, target)
	if err != nil {
		return "", err
	}

	if isHTML(resp) {
		token, err := interstitialToken(resp)
		if err != nil {
			return "", err
		}
		confirmed, err := withConfirm(target, token)
		if err != nil {
			return "", fmt.Errorf("%w: %v", models.ErrFetch, err)
		}
		slog.Info("following confirmation page", "job_id", jobID)

		resp, err = r.get(ctx, confirmed)
		if err != nil {
			return "", err
		}
		if isHTML(resp) {
			resp.Body.Close()
			return "", fmt.Errorf("%w: source returned an HTML page after confirmation", models.ErrFetch)
		}
	}
	defer resp.Body.Close()

	f, err := os.CreateTemp(r.tempDir, jobID+"_video*"+r.extensionFor(target))
	if err != nil {
		return "", fmt.Errorf("%w: create temp file: %v", models.ErrFetch, err)
	}
	dst := f.Name()

	w := &progressWriter{w: f, total: resp.ContentLength, sink: sink}
	_, copyErr := io.Copy(w, resp.Body)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(dst)
		if copyErr == nil {
			copyErr = closeErr
		}
		return "", classifyError(copyErr)
	}

	slog.Info("source downloaded", "job_id", jobID, "bytes", w.written, "path", dst)
	return dst, nil
}

// get issues a GET and returns the response only for 2xx statuses.
func (r *Resolver) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", models.ErrFetch, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: source responded with status %d", models.ErrFetch, resp.StatusCode)
	}
	return resp, nil
}

// interstitialToken reads a confirmation page and closes its body.
func interstitialToken(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxInterstitial))
	if err != nil {
		return "", classifyError(err)
	}
	m := confirmToken.FindSubmatch(body)
	if m == nil {
		return "", fmt.Errorf("%w: source returned an HTML page instead of media", models.ErrFetch)
	}
	return string(m[1]), nil
}

func withConfirm(target, token string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("confirm", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func isHTML(resp *http.Response) bool {
	mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return err == nil && mt == "text/html"
}

func (r *Resolver) extensionFor(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return defaultExtension
	}
	if r.allowedExtension(u.Path) {
		return strings.ToLower(path.Ext(u.Path))
	}
	return defaultExtension
}

// classifyError maps transport and I/O errors onto the error taxonomy.
// Timeouts match both ErrFetch and ErrTimeout.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w: %v", models.ErrFetch, models.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w: %v", models.ErrFetch, models.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", models.ErrFetch, err)
}

// progressWriter counts bytes and reports whole-percent changes.
type progressWriter struct {
	w       io.Writer
	total   int64
	written int64
	last    int
	sink    progress.Sink
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	if p.total > 0 {
		pct := int(p.written * 100 / p.total)
		if pct > p.last {
			p.last = pct
			p.sink.Report(float64(min(pct, 100)))
		}
	}
	return n, err
}
