package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusFromError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrRoomNotFound, http.StatusNotFound},
		{fmt.Errorf("load: %w", ErrMessageNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: content is empty", ErrValidation), http.StatusBadRequest},
		{ErrNotParticipant, http.StatusForbidden},
		{ErrInvalidToken, http.StatusUnauthorized},
		{ErrRateLimited, http.StatusTooManyRequests},
		{fmt.Errorf("%w: insert: boom", ErrPersistence), http.StatusInternalServerError},
		{NewAPIError("teapot", http.StatusTeapot), http.StatusTeapot},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatusFromError(tc.err), tc.err.Error())
	}
}
