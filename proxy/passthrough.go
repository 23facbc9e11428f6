package proxy

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/agentorch/agentserver/telemetry"
)

// passthroughProxy forwards requests verbatim to an Anthropic-compatible
// upstream, only overriding the API key the node was configured with
// (spec.md §4.8, api_format "anthropic").
type passthroughProxy struct {
	upstream *url.URL
	apiKey   string
	logger   telemetry.Logger
	client   *http.Client
}

func newPassthroughProxy(cfg Config, logger telemetry.Logger) http.Handler {
	u, err := url.Parse(cfg.UpstreamURL)
	if err != nil || cfg.UpstreamURL == "" {
		u = &url.URL{Scheme: "https", Host: "api.anthropic.com"}
	}
	return &passthroughProxy{
		upstream: u,
		apiKey:   cfg.APIKey,
		logger:   logger,
		client:   &http.Client{Timeout: 5 * time.Minute},
	}
}

func (p *passthroughProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	out := r.Clone(ctx)
	out.URL = &url.URL{
		Scheme:   p.upstream.Scheme,
		Host:     p.upstream.Host,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}
	out.Host = p.upstream.Host
	out.RequestURI = ""
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = int64(len(body))
	if p.apiKey != "" {
		out.Header.Set("x-api-key", p.apiKey)
	}

	p.logger.Info(ctx, "proxy passthrough request", "path", r.URL.Path, "bytes", len(body))

	resp, err := p.client.Do(out)
	if err != nil {
		p.logger.Error(ctx, "proxy passthrough upstream call failed", "error", err)
		http.Error(w, "upstream request failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.logger.Warn(ctx, "proxy passthrough response copy interrupted", "error", err)
	}
}
