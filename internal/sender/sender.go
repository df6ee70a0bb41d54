// Package sender posts framed bulk bodies to a document store endpoint.
package sender

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/framing"
)

// ErrTransport marks a request that never got an HTTP response.
var ErrTransport = errors.New("bulk transport failure")

// maxErrorBody bounds how much of a failed response is kept for logging.
const maxErrorBody = 512

// Config configures a Sender.
type Config struct {
	BaseURL        string
	Index          string
	Format         framing.Format
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration // 0 disables the response timeout
	MaxConns       int           // idle connections kept per host, usually the worker count
	Compress       bool          // gzip request bodies
}

// Result describes one bulk request that got an HTTP response.
type Result struct {
	StatusCode int
	Docs       int
	Bytes      int
	Latency    time.Duration
	// ErrorBody holds the start of the response body for failed requests.
	ErrorBody string
}

// OK reports whether the endpoint accepted the batch.
func (r Result) OK() bool { return r.StatusCode < 300 }

// Sender is safe for concurrent use by multiple workers.
type Sender struct {
	cfg      Config
	endpoint string
	client   *http.Client
	compress func([]byte) ([]byte, error)
}

// New builds a Sender with a persistent HTTP/1.1 connection pool.
func New(cfg Config) (*Sender, error) {
	endpoint, err := BulkURL(cfg.BaseURL, cfg.Index)
	if err != nil {
		return nil, err
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 1
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxConns,
		MaxIdleConnsPerHost:   cfg.MaxConns,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		DisableCompression:    true,
		// An empty, non-nil map keeps TLS connections on HTTP/1.1.
		TLSNextProto: map[string]func(string, *tls.Conn) http.RoundTripper{},
	}

	return &Sender{
		cfg:      cfg,
		endpoint: endpoint,
		client:   &http.Client{Transport: transport},
		compress: gzipBody,
	}, nil
}

// BulkURL joins the base URL and index into the bulk endpoint.
func BulkURL(base, index string) (string, error) {
	if index == "" {
		return "", errors.New("index is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse endpoint url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("endpoint url %q: scheme must be http or https", base)
	}
	if u.Host == "" {
		return "", fmt.Errorf("endpoint url %q: missing host", base)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + url.PathEscape(index) + "/_bulk"
	return u.String(), nil
}

// Endpoint returns the bulk URL requests are posted to.
func (s *Sender) Endpoint() string { return s.endpoint }

// Send posts one framed bulk body. A non-2xx status is reported through the
// Result with a nil error. Every returned error means the batch never got a
// response and wraps ErrTransport.
func (s *Sender) Send(ctx context.Context, body []byte, docs int) (Result, error) {
	res := Result{Docs: docs, Bytes: len(body)}

	payload := body
	if s.cfg.Compress {
		var err error
		if payload, err = s.compress(body); err != nil {
			return res, fmt.Errorf("%w: compress bulk body: %w", ErrTransport, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return res, fmt.Errorf("%w: create request: %w", ErrTransport, err)
	}
	s.cfg.Format.SetHeaders(req.Header)
	if s.cfg.Compress {
		req.Header.Set("Content-Encoding", "gzip")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		res.Latency = time.Since(start)
		return res, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	if !res.OK() {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		res.ErrorBody = string(b)
	}
	// Drain so the connection goes back to the pool.
	_, _ = io.Copy(io.Discard, resp.Body)
	res.Latency = time.Since(start)
	return res, nil
}

// Close releases idle connections.
func (s *Sender) Close() {
	s.client.CloseIdleConnections()
}

func gzipBody(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(body) / 4)
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(body); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
