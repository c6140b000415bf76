package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/nanogit/gitcore/log"
	"github.com/nanogit/gitcore/retry"
)

// httpBackend implements Backend over the Smart HTTP transport, per
// https://git-scm.com/docs/http-protocol and protocol v2's HTTP binding:
// https://git-scm.com/docs/protocol-v2#_http_transport
type httpBackend struct {
	base   *url.URL
	client *http.Client
	cfg    *Config
}

func dialHTTP(_ context.Context, u *url.URL, opts ...Option) (Backend, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	base := *u
	base.Path = strings.TrimRight(base.Path, "/")
	// Credentials embedded in the URL never go out on the wire as part of
	// the request line; they become a basic-auth header (unless an explicit
	// option already supplied one) and the URL is stripped.
	if base.User != nil {
		if cfg.BasicAuth == nil && cfg.AuthToken == "" {
			password, _ := base.User.Password()
			cfg.BasicAuth = &BasicAuth{Username: base.User.Username(), Password: password}
		}
		base.User = nil
	}
	return &httpBackend{base: &base, client: cfg.HTTPClient, cfg: cfg}, nil
}

func (b *httpBackend) addDefaultHeaders(req *http.Request) {
	req.Header.Set("Git-Protocol", "version=2")
	req.Header.Set("User-Agent", b.cfg.UserAgent)
	switch {
	case b.cfg.BasicAuth != nil:
		req.SetBasicAuth(b.cfg.BasicAuth.Username, b.cfg.BasicAuth.Password)
	case b.cfg.AuthToken != "":
		req.Header.Set("Authorization", b.cfg.AuthToken)
	}
}

// SmartInfo implements Backend.
func (b *httpBackend) SmartInfo(ctx context.Context, service string) (io.ReadCloser, error) {
	u := b.base.JoinPath("info/refs")
	q := make(url.Values)
	q.Set("service", service)
	u.RawQuery = q.Encode()

	target := b.proxied(u)
	return retry.Do(ctx, func() (io.ReadCloser, error) {
		return b.doGet(ctx, target)
	})
}

// proxied rewrites u through the configured CORS proxy, if any: a proxy
// ending in "?" gets the original URL as its query string verbatim, any
// other proxy form gets "<proxy>/<host><path>".
func (b *httpBackend) proxied(u *url.URL) string {
	proxy := b.cfg.CORSProxy
	if proxy == "" {
		return u.String()
	}
	if strings.HasSuffix(proxy, "?") {
		return proxy + u.String()
	}
	rest := u.Path
	if u.RawQuery != "" {
		rest += "?" + u.RawQuery
	}
	return strings.TrimRight(proxy, "/") + "/" + u.Host + rest
}

// UploadPack implements Backend.
func (b *httpBackend) UploadPack(ctx context.Context, request io.Reader) (io.ReadCloser, error) {
	return b.post(ctx, "git-upload-pack", "application/x-git-upload-pack-request", request)
}

// ReceivePack implements Backend.
func (b *httpBackend) ReceivePack(ctx context.Context, request io.Reader) (io.ReadCloser, error) {
	return b.post(ctx, "git-receive-pack", "application/x-git-receive-pack-request", request)
}

// Close is a no-op: the underlying *http.Client owns no per-repository
// connection state worth releasing early.
func (b *httpBackend) Close() error { return nil }

// doGet performs a discovery GET. If the server rejects it with 401 and
// auth callbacks are configured, Fill is consulted and the request retried
// exactly once with the returned credentials; a second rejection invokes
// Failure and fails, a pass invokes Success and the filled credentials are
// kept for the connection's subsequent POSTs.
func (b *httpBackend) doGet(ctx context.Context, u string) (io.ReadCloser, error) {
	body, err := b.tryGet(ctx, u, nil)
	cb := b.cfg.AuthCallbacks
	if err == nil || cb == nil || cb.Fill == nil || !errors.Is(err, ErrUnauthorized) {
		return body, err
	}

	current := Auth{}
	if b.cfg.BasicAuth != nil {
		current.Username = b.cfg.BasicAuth.Username
		current.Password = b.cfg.BasicAuth.Password
	}
	filled, cancel, err := cb.Fill(ctx, u, current)
	if err != nil {
		return nil, fmt.Errorf("transport: auth fill callback: %w", err)
	}
	if cancel {
		return nil, ErrUserCanceled
	}

	body, err = b.tryGet(ctx, u, &filled)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) && cb.Failure != nil {
			cb.Failure(ctx, u, filled)
		}
		return nil, err
	}
	if cb.Success != nil {
		cb.Success(ctx, u, filled)
	}
	if filled.Username != "" || filled.Password != "" {
		b.cfg.BasicAuth = &BasicAuth{Username: filled.Username, Password: filled.Password}
	}
	return body, nil
}

func (b *httpBackend) tryGet(ctx context.Context, u string, auth *Auth) (io.ReadCloser, error) {
	logger := log.FromContextOrNoop(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	b.addDefaultHeaders(req)
	if auth != nil {
		if auth.Username != "" || auth.Password != "" {
			req.SetBasicAuth(auth.Username, auth.Password)
		}
		for k, v := range auth.Headers {
			req.Header.Set(k, v)
		}
	}

	logger.Debug("transport: GET", "url", u)
	res, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	return b.checkResponse(res)
}

// post sends data to one of the git-upload-pack/git-receive-pack
// endpoints. The request body is buffered into memory first: once a POST
// has been sent, it cannot be safely retried (the body reader may already
// be consumed), so httpBackend deliberately does not wrap POSTs in
// retry.Do beyond what the caller's own retrier decides is safe via
// HTTPRetrier's idempotency check.
func (b *httpBackend) post(ctx context.Context, service, contentType string, data io.Reader) (io.ReadCloser, error) {
	logger := log.FromContextOrNoop(ctx)
	body, err := io.ReadAll(data)
	if err != nil {
		return nil, fmt.Errorf("transport: buffering %s request: %w", service, err)
	}

	u := b.proxied(b.base.JoinPath(service))
	return retry.Do(ctx, func() (io.ReadCloser, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		b.addDefaultHeaders(req)

		logger.Debug("transport: POST", "url", u, "requestSize", len(body))
		res, err := b.client.Do(req)
		if err != nil {
			return nil, err
		}
		return b.checkResponse(res)
	})
}

// maxBodyPreview caps how much of a failing response's body is captured
// into the returned error for diagnostics.
const maxBodyPreview = 256

func (b *httpBackend) checkResponse(res *http.Response) (io.ReadCloser, error) {
	if err := CheckServerUnavailable(res); err != nil {
		res.Body.Close()
		return nil, err
	}
	if err := CheckHTTPClientError(res); err != nil {
		res.Body.Close()
		return nil, err
	}
	// Some auth-rewriting proxies hand back 203 where the origin said 401.
	if res.StatusCode == http.StatusNonAuthoritativeInfo {
		res.Body.Close()
		return nil, &ClientError{
			Sentinel:   ErrUnauthorized,
			StatusCode: res.StatusCode,
			Operation:  res.Request.Method,
			Endpoint:   extractEndpoint(res.Request.URL.Path),
			Underlying: fmt.Errorf("got status code %d: %s", res.StatusCode, res.Status),
		}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer res.Body.Close()
		preview, _ := io.ReadAll(io.LimitReader(res.Body, maxBodyPreview))
		return nil, fmt.Errorf("transport: got status code %d: %s: %s", res.StatusCode, res.Status, strings.TrimSpace(string(preview)))
	}
	return res.Body, nil
}
