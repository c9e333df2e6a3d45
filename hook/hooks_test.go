package hook

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExchangeHTTPClient(t *testing.T) {
	original := &http.Client{}
	replacement := &http.Client{Timeout: 3 * time.Second}
	t.Cleanup(func() { UnregisterHook(SET_HTTP_CLIENT) })

	assert.Same(t, original, ExchangeHTTPClient("bybit", original), "no hook registered")

	RegisterHook(SET_HTTP_CLIENT, func(args ...any) any {
		if args[0].(string) != "binance" {
			return &SetHttpClientResult{Client: nil}
		}
		return &SetHttpClientResult{Client: replacement}
	})
	assert.Same(t, replacement, ExchangeHTTPClient("binance", original))
	assert.Same(t, original, ExchangeHTTPClient("bybit", original))

	RegisterHook(SET_HTTP_CLIENT, func(args ...any) any {
		return &SetHttpClientResult{Err: errors.New("proxy pool empty"), Client: replacement}
	})
	assert.Same(t, original, ExchangeHTTPClient("binance", original))
}

func TestHookExec_DisabledAndWrongType(t *testing.T) {
	t.Cleanup(func() {
		EnableHooks = true
		UnregisterHook("WRONG")
	})

	RegisterHook("WRONG", func(args ...any) any { return "not a pointer" })
	assert.Nil(t, HookExec[SetHttpClientResult]("WRONG"))

	EnableHooks = false
	RegisterHook(SET_HTTP_CLIENT, func(args ...any) any { return &SetHttpClientResult{} })
	defer UnregisterHook(SET_HTTP_CLIENT)
	assert.Nil(t, HookExec[SetHttpClientResult](SET_HTTP_CLIENT))
}

func TestSetHttpClientResult_GetResult(t *testing.T) {
	c := &http.Client{}
	assert.Same(t, c, (&SetHttpClientResult{Client: c}).GetResult())

	failed := &SetHttpClientResult{Err: errors.New("no proxy"), Client: c}
	assert.Same(t, c, failed.GetResult(), "the client is returned even when an error is reported")
	assert.Error(t, failed.Error())
}
