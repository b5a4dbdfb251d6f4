package gateway

import (
	"net/url"
	"strings"

	"github.com/lkarlslund/vertexgate/pkg/config"
)

const (
	GlobalRegion = "global"

	// globalOnlyMarker identifies model families served only from the
	// global endpoint.
	globalOnlyMarker = "gemini-3"
)

// ResolveRegion picks the backend region for one request.
func ResolveRegion(defaultRegion, model string) string {
	if strings.Contains(model, globalOnlyMarker) {
		return GlobalRegion
	}
	return defaultRegion
}

// ChatCompletionsURL builds the OpenAI-compatible endpoint URL for region.
// The global region uses the bare API host; any other region prefixes it.
func ChatCompletionsURL(b config.GatewayConfig, region string) string {
	host := b.APIHost
	if region != GlobalRegion {
		host = region + "-" + b.APIHost
	}
	u := url.URL{
		Scheme: "https",
		Host:   host,
		Path: "/" + b.APIVersion +
			"/projects/" + b.ProjectID +
			"/locations/" + region +
			"/endpoints/" + b.EndpointID +
			"/chat/completions",
	}
	return u.String()
}
