package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/containr/signup/pkg/testutil"
)

func TestHealth(t *testing.T) {
	rr := testutil.DoRequest(t, Health("signup"), http.MethodGet, "/health", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)

	var body map[string]string
	testutil.ParseJSON(t, rr, &body)
	assert.Equal(t, map[string]string{"status": "ok", "service": "signup"}, body)
}

func TestHello(t *testing.T) {
	rr := testutil.DoRequest(t, Hello(), http.MethodGet, "/", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Equal(t, `"hello"`, rr.Body.String())
	assert.Equal(t, "application/json; charset=utf-8", rr.Header().Get("Content-Type"))
}
