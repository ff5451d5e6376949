package registry

import "github.com/spdci/registry-mock/internal/envelope"

type route struct {
	callbackAction string
	async          bool
	result         func(b *envelope.Builder, d envelope.Domain, c envelope.Correlation) any
}

func searchResult(b *envelope.Builder, d envelope.Domain, c envelope.Correlation) any {
	return b.SearchResult(d, c)
}

func subscribeResult(b *envelope.Builder, d envelope.Domain, c envelope.Correlation) any {
	return b.SubscribeResult(d, c)
}

func unsubscribeResult(b *envelope.Builder, d envelope.Domain, c envelope.Correlation) any {
	return b.UnsubscribeResult(d, c)
}

func txnStatusResult(b *envelope.Builder, d envelope.Domain, c envelope.Correlation) any {
	return b.TxnStatusResult(d, c)
}

var routes = map[string]route{
	"/registry/search":          {callbackAction: "on-search", async: true, result: searchResult},
	"/registry/subscribe":       {callbackAction: "on-subscribe", async: true, result: subscribeResult},
	"/registry/unsubscribe":     {callbackAction: "on-unsubscribe", async: true, result: unsubscribeResult},
	"/registry/txn/status":      {callbackAction: "txn-on-status", async: true, result: txnStatusResult},
	"/registry/sync/search":     {callbackAction: "on-search", result: searchResult},
	"/registry/sync/txn/status": {callbackAction: "txn-on-status", result: txnStatusResult},
}

// Operations lists the registry paths the handler answers, with whether
// each is acknowledged and answered by callback.
func Operations() map[string]bool {
	out := make(map[string]bool, len(routes))
	for path, rt := range routes {
		out[path] = rt.async
	}
	return out
}
