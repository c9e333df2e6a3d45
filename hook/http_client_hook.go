package hook

import (
	"net/http"

	"tradedesk/logger"
)

type SetHttpClientResult struct {
	Err    error
	Client *http.Client
}

func (r *SetHttpClientResult) Error() error {
	if r.Err != nil {
		logger.Warnf("⚠️ SET_HTTP_CLIENT hook failed: %v", r.Err)
	}
	return r.Err
}

func (r *SetHttpClientResult) GetResult() *http.Client {
	r.Error()
	return r.Client
}

// ExchangeHTTPClient lets a registered hook replace the HTTP client an exchange SDK uses
// (proxies, custom transports). The original client is returned when no hook applies.
func ExchangeHTTPClient(exchange string, client *http.Client) *http.Client {
	res := HookExec[SetHttpClientResult](SET_HTTP_CLIENT, exchange, client)
	if res == nil {
		return client
	}
	if replaced := res.GetResult(); replaced != nil && res.Err == nil {
		return replaced
	}
	return client
}
