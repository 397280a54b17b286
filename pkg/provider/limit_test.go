package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestAccountLimiters(t *testing.T) {
	l := newAccountLimiters(rate.Every(time.Hour), 1)

	a := l.get("alice")
	assert.Same(t, a, l.get("alice"))
	assert.True(t, a.Allow())
	assert.False(t, a.Allow())

	// another account is not throttled by alice's calls
	assert.True(t, l.get("bob").Allow())
}
