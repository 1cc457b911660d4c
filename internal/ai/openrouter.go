package ai

import (
	"net/http"
)

// OpenRouterProvider streams through OpenRouter's OpenAI-compatible API. The
// optional site URL and app name are sent as attribution headers.
type OpenRouterProvider struct {
	*OpenAIProvider
	SiteURL string
	AppName string
}

func NewOpenRouterProvider(baseURL, apiKey, model, siteURL, appName string) (*OpenRouterProvider, error) {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	// no client timeout: the stream can run long, ctx bounds it
	hc := &http.Client{Transport: attributionTransport{
		base:    http.DefaultTransport,
		siteURL: siteURL,
		appName: appName,
	}}
	p, err := newOpenAICompatible(baseURL, apiKey, model, 0, 0, hc)
	if err != nil {
		return nil, err
	}
	return &OpenRouterProvider{OpenAIProvider: p, SiteURL: siteURL, AppName: appName}, nil
}

type attributionTransport struct {
	base    http.RoundTripper
	siteURL string
	appName string
}

func (t attributionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.siteURL == "" && t.appName == "" {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	if t.siteURL != "" {
		req.Header.Set("HTTP-Referer", t.siteURL)
	}
	if t.appName != "" {
		req.Header.Set("X-Title", t.appName)
	}
	return t.base.RoundTrip(req)
}
