// Package egress confines lookup traffic to an allowlist of upstream hosts by
// routing it through a local filtering proxy.
package egress

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/elazarl/goproxy"
	"github.com/neoclaw-ai/promptsmith/internal/logging"
)

// ErrHostDenied is returned for hosts outside the allowlist.
var ErrHostDenied = errors.New("host not in egress allowlist")

// Allowlist matches hostnames exactly or, for "*.example.com" entries, by suffix.
type Allowlist struct {
	exact    map[string]bool
	suffixes []string
}

// NewAllowlist builds an allowlist from host patterns.
func NewAllowlist(hosts []string) Allowlist {
	a := Allowlist{exact: make(map[string]bool, len(hosts))}
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		switch {
		case h == "":
		case strings.HasPrefix(h, "*."):
			a.suffixes = append(a.suffixes, h[1:])
		default:
			a.exact[h] = true
		}
	}
	return a
}

// Allow reports whether host (optionally with a port) may be contacted.
func (a Allowlist) Allow(host string) error {
	name := strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(name); err == nil {
		name = h
	}
	if a.exact[name] {
		return nil
	}
	for _, suffix := range a.suffixes {
		if strings.HasSuffix(name, suffix) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrHostDenied, name)
}

// Proxy is a local HTTP proxy enforcing an Allowlist.
type Proxy struct {
	server *http.Server
	addr   string
}

// Addr returns the proxy listen address as an HTTP URL.
func (p *Proxy) Addr() string {
	if p == nil {
		return ""
	}
	return p.addr
}

// Close stops the proxy server.
func (p *Proxy) Close() error {
	if p == nil || p.server == nil {
		return nil
	}
	return p.server.Close()
}

// Client returns an HTTP client that sends every request through the proxy.
func (p *Proxy) Client(timeout time.Duration) (*http.Client, error) {
	proxyURL, err := url.Parse(p.Addr())
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
	}, nil
}

// Start listens on a loopback port and serves the filtering proxy.
func Start(allow Allowlist) (*Proxy, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen egress proxy: %w", err)
	}

	proxy := goproxy.NewProxyHttpServer()
	proxy.Verbose = false
	proxy.OnRequest().HandleConnectFunc(func(host string, _ *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		if err := allow.Allow(host); err != nil {
			logging.Logger().Warn("egress denied", "host", host, "method", http.MethodConnect)
			return goproxy.RejectConnect, host
		}
		return goproxy.OkConnect, host
	})
	proxy.OnRequest().DoFunc(func(req *http.Request, _ *goproxy.ProxyCtx) (*http.Request, *http.Response) {
		if req == nil || req.URL == nil {
			return req, nil
		}
		if err := allow.Allow(req.URL.Host); err != nil {
			logging.Logger().Warn("egress denied", "host", req.URL.Host, "method", req.Method)
			return req, goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusForbidden, err.Error())
		}
		return req, nil
	})

	server := &http.Server{Handler: proxy, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		_ = server.Serve(ln)
	}()

	return &Proxy{
		server: server,
		addr:   "http://" + ln.Addr().String(),
	}, nil
}
