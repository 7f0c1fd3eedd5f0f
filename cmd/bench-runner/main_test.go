package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/storefront-checkout-go/internal/apiclient"
	"github.com/nazeru/storefront-checkout-go/internal/httpapi"
)

func TestPercentiles(t *testing.T) {
	p50, p90, p95, p99 := calcPercentiles([]float64{5, 1, 4, 2, 3, 10, 9, 8, 7, 6})
	assert.Equal(t, 5.0, p50)
	assert.Equal(t, 9.0, p90)
	assert.Equal(t, 10.0, p95)
	assert.Equal(t, 10.0, p99)

	p50, _, _, _ = calcPercentiles(nil)
	assert.Zero(t, p50)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "insufficient_stock", classifyError(&apiclient.APIError{Status: 409, Body: httpapi.ErrorResponse{Code: "insufficient_stock"}}))
	assert.Equal(t, "http_5xx", classifyError(&apiclient.APIError{Status: 502}))
	assert.Equal(t, "http_4xx", classifyError(&apiclient.APIError{Status: 404}))
	assert.Equal(t, "transport", classifyError(errors.New("dial tcp: refused")))
}

func TestReplayKeysPairUp(t *testing.T) {
	keyFor, err := keyStrategy("replay")
	require.NoError(t, err)
	assert.Equal(t, keyFor(0), keyFor(1))
	assert.NotEqual(t, keyFor(1), keyFor(2))

	_, err = keyStrategy("2pc")
	assert.Error(t, err)
}
