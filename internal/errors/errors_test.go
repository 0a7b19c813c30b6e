package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/projectpulse/projectpulse/internal/domain"
)

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		err  *Error
		want int
	}{
		{ValidationError("bad input"), http.StatusBadRequest},
		{NotFoundError("missing"), http.StatusNotFound},
		{InternalError("boom", nil), http.StatusInternalServerError},
		{&Error{Type: TypeExternal, Message: "upstream down"}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.HTTPStatus())
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := InternalError("query failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "query failed")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestAsStructuredError(t *testing.T) {
	assert.Nil(t, AsStructuredError(nil))

	structured := ValidationError("bad")
	assert.Same(t, structured, AsStructuredError(structured))

	notFound := AsStructuredError(domain.ErrProjectNotFound)
	assert.Equal(t, TypeNotFound, notFound.Type)

	reportMissing := AsStructuredError(domain.ErrReportNotFound)
	assert.Equal(t, TypeNotFound, reportMissing.Type)

	unknown := AsStructuredError(errors.New("surprise"))
	assert.Equal(t, TypeInternal, unknown.Type)
}

func TestToResponse(t *testing.T) {
	resp := NotFoundError("project not found").ToResponse()
	assert.Equal(t, "project not found", resp.Error)
	assert.Equal(t, TypeNotFound, resp.Type)
}
