package handler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/veilmarkets/oraclecore/internal/domain"
)

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrNoResolution, http.StatusNotFound},
		{domain.ErrDuplicateVote, http.StatusConflict},
		{domain.ErrAlreadyAggregating, http.StatusConflict},
		{domain.ErrResolutionInProgress, http.StatusConflict},
		{domain.ErrChallengeAlreadyReviewed, http.StatusConflict},
		{domain.ErrComputationTimeout, http.StatusGatewayTimeout},
		{domain.ErrInvalidField, http.StatusBadRequest},
		{domain.ErrStakeTooLow, http.StatusBadRequest},
		{domain.ErrVotingClosed, http.StatusUnprocessableEntity},
		{domain.ErrDisputeWindowClosed, http.StatusUnprocessableEntity},
		{domain.ErrHerdingRejected, http.StatusForbidden},
		{fmt.Errorf("opaque failure"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		// Services always wrap sentinels; the mapping must survive wrapping.
		wrapped := fmt.Errorf("service: market 7: %w", tc.err)
		assert.Equal(t, tc.want, errorStatus(wrapped), "%v", tc.err)
	}
}

func TestWriteJSONSetsContentType(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusCreated, map[string]int{"version": 2})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"version":2}`, rec.Body.String())
}

func TestParseListOpts(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/markets?limit=25&offset=10", nil)
	opts := parseListOpts(req)
	assert.Equal(t, 25, opts.Limit)
	assert.Equal(t, 10, opts.Offset)
}

func TestParseListOptsDefaultsAndCaps(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/markets", nil)
	opts := parseListOpts(req)
	assert.Equal(t, 50, opts.Limit)
	assert.Equal(t, 0, opts.Offset)

	req = httptest.NewRequest(http.MethodGet, "/markets?limit=9001&offset=-3", nil)
	opts = parseListOpts(req)
	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 0, opts.Offset)
}
