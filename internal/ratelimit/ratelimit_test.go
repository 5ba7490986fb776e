package ratelimit

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyRetryAfter_SecondsHeaderPushesBackoffOut(t *testing.T) {
	lr := New(600)
	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{"Retry-After": []string{"2"}}}

	before := time.Now()
	lr.ApplyRetryAfter(resp)

	lr.mu.Lock()
	until := lr.blockedUntil
	lr.mu.Unlock()

	assert.True(t, until.After(before.Add(1*time.Second)))
}

func TestApplyRetryAfter_IgnoresNonTooManyRequests(t *testing.T) {
	lr := New(600)
	resp := &http.Response{StatusCode: http.StatusOK, Header: http.Header{"Retry-After": []string{"5"}}}
	lr.ApplyRetryAfter(resp)

	lr.mu.Lock()
	until := lr.blockedUntil
	lr.mu.Unlock()
	assert.True(t, until.IsZero())
}

func TestApplyRetryAfter_NeverShrinksAnExistingBackoff(t *testing.T) {
	lr := New(600)
	far := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{"Retry-After": []string{"30"}}}
	near := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{"Retry-After": []string{"1"}}}

	lr.ApplyRetryAfter(far)
	lr.mu.Lock()
	firstUntil := lr.blockedUntil
	lr.mu.Unlock()

	lr.ApplyRetryAfter(near)
	lr.mu.Lock()
	secondUntil := lr.blockedUntil
	lr.mu.Unlock()

	assert.Equal(t, firstUntil, secondUntil)
}
