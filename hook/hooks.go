package hook

import (
	"tradedesk/logger"
)

type HookFunc func(args ...any) any

var (
	Hooks       map[string]HookFunc = map[string]HookFunc{}
	EnableHooks                     = true
)

// HookExec runs the hook registered under key; nil when disabled, missing or of another result type
func HookExec[T any](key string, args ...any) *T {
	if !EnableHooks {
		logger.Debugf("🔌 Hooks are disabled, skip hook: %s", key)
		return nil
	}
	hook, exists := Hooks[key]
	if !exists || hook == nil {
		logger.Debugf("🔌 Do not find hook: %s", key)
		return nil
	}
	logger.Debugf("🔌 Execute hook: %s", key)
	res, ok := hook(args...).(*T)
	if !ok {
		logger.Warnf("⚠️ Hook %s returned unexpected result type", key)
		return nil
	}
	return res
}

func RegisterHook(key string, hook HookFunc) {
	Hooks[key] = hook
}

// UnregisterHook removes the hook registered under key
func UnregisterHook(key string) {
	delete(Hooks, key)
}

// hook list
const (
	SET_HTTP_CLIENT = "SET_HTTP_CLIENT" // func (exchange string, client *http.Client) *SetHttpClientResult
)
