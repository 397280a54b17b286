package provider

import (
	"github.com/alphadose/haxmap"
	"golang.org/x/time/rate"
)

// accountLimiters hands out one rate limiter per vendor account, shared by
// every adapter logged in as that account.
type accountLimiters struct {
	limit    rate.Limit
	burst    int
	accounts *haxmap.Map[string, *rate.Limiter]
}

func newAccountLimiters(limit rate.Limit, burst int) *accountLimiters {
	return &accountLimiters{
		limit:    limit,
		burst:    burst,
		accounts: haxmap.New[string, *rate.Limiter](),
	}
}

func (l *accountLimiters) get(account string) *rate.Limiter {
	lim, _ := l.accounts.GetOrCompute(account, func() *rate.Limiter {
		return rate.NewLimiter(l.limit, l.burst)
	})
	return lim
}
