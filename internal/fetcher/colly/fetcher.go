// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/sitegraph/internal/crawler"
)

// linkSelectors lists the tag/attribute pairs whose values become links, in
// extraction order.
var linkSelectors = []struct {
	selector string
	attr     string
}{
	{selector: "a[href]", attr: "href"},
	{selector: "script[src]", attr: "src"},
	{selector: "form[action]", attr: "action"},
}

// Config controls collector behavior for one crawl run.
type Config struct {
	UserAgent string
	// Timeout bounds each request; zero means no limit.
	Timeout         time.Duration
	Proxy           string
	Headers         http.Header
	FollowRedirects bool
	// MaxContentKB skips pages whose Content-Length is larger; <= 0 disables the check.
	MaxContentKB int
	VerifyTLS    bool
}

// ConfigFromOptions maps run options onto a fetcher Config.
func ConfigFromOptions(opts crawler.Options, defaultUserAgent string) Config {
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return Config{
		UserAgent:       ua,
		Timeout:         max(opts.RequestTimeout, 0),
		Proxy:           opts.Proxy,
		Headers:         crawler.ParseHeaders(opts.RawHeaders),
		FollowRedirects: opts.FollowRedirects,
		MaxContentKB:    opts.MaxContentKB,
		VerifyTLS:       opts.VerifyTLS,
	}
}

// NewFactory returns a crawler.FetcherFactory that builds one Fetcher per run.
func NewFactory(defaultUserAgent string) crawler.FetcherFactory {
	return func(opts crawler.Options) (crawler.Fetcher, error) {
		return New(ConfigFromOptions(opts, defaultUserAgent))
	}
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponseHeaders(colly.ResponseHeadersCallback)
	OnResponse(colly.ResponseCallback)
	OnHTML(string, colly.HTMLCallback)
}

// New builds a Fetcher. Clones of the base collector share its transport,
// so proxy and TLS settings apply to every fetch of the run.
func New(cfg Config) (*Fetcher, error) {
	transport, err := newHTTPTransport(cfg)
	if err != nil {
		return nil, err
	}

	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)
	// Walkers own visited state; the collector must fetch whatever it is given.
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	c.MaxBodySize = 0
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if !cfg.FollowRedirects {
		c.SetRedirectHandler(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		})
	}

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}, nil
}

// fetchState collects what the collector callbacks observe during one visit.
type fetchState struct {
	result  crawler.FetchResult
	skipped bool
	// base is the page's <base href>, when it declares one.
	base *url.URL
}

// Fetch executes a single HTTP GET using Colly and returns the extracted links.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (crawler.FetchResult, error) {
	state := &fetchState{result: crawler.FetchResult{URL: rawURL}}
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, state)

	err := f.runCollector(ctx, collector, rawURL)
	switch {
	case state.skipped || errors.Is(err, colly.ErrAbortedAfterHeaders):
		return crawler.FetchResult{URL: rawURL, StatusCode: state.result.StatusCode, Skipped: true}, nil
	case err == nil:
		return state.result, nil
	default:
		return crawler.FetchResult{}, &crawler.FetchError{URL: rawURL, Cause: err}
	}
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, state *fetchState) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
	})

	hooks.OnResponseHeaders(func(r *colly.Response) {
		state.result.StatusCode = r.StatusCode
		if f.exceedsBudget(r.Headers) {
			state.skipped = true
			r.Request.Abort()
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		state.result.StatusCode = r.StatusCode
	})

	// Registered before the link selectors so it runs first.
	hooks.OnHTML("base[href]", func(e *colly.HTMLElement) {
		if state.base != nil || e.Request.URL == nil {
			return
		}
		if ref, err := url.Parse(strings.TrimSpace(e.Attr("href"))); err == nil {
			state.base = e.Request.URL.ResolveReference(ref)
		}
	})

	for _, sel := range linkSelectors {
		attr := sel.attr
		hooks.OnHTML(sel.selector, func(e *colly.HTMLElement) {
			base := state.base
			if base == nil {
				base = e.Request.URL
			}
			link := resolveLink(base, e.Attr(attr))
			if link == "" {
				return
			}
			state.result.Links = append(state.result.Links, link)
		})
	}
}

// resolveLink makes href absolute against base. Fragments and the path are
// kept as written, so "#top" stays a distinct URL and "https://x.test" gains
// no trailing slash.
func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || base == nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// runCollector visits rawURL synchronously; the collector's Context carries
// cancellation into the HTTP request itself.
func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("colly fetch canceled: %w", err)
	}
	if err := collector.Visit(rawURL); err != nil {
		return fmt.Errorf("colly visit failed: %w", err)
	}
	return nil
}

func (f *Fetcher) exceedsBudget(headers *http.Header) bool {
	if f.cfg.MaxContentKB <= 0 || headers == nil {
		return false
	}
	raw := headers.Get("Content-Length")
	if raw == "" {
		return false
	}
	length, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	return length > int64(f.cfg.MaxContentKB)*1024
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	if f.cfg.Headers == nil {
		return
	}
	for key, values := range f.cfg.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport(cfg Config) (*http.Transport, error) {
	proxy := http.ProxyFromEnvironment
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy: %w", err)
		}
		proxy = http.ProxyURL(proxyURL)
	}
	return &http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !cfg.VerifyTLS, //nolint:gosec // verification is opt-in per run
		},
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}, nil
}
