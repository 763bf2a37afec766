package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "missing fields", err: MissingFields("cvText"), want: http.StatusBadRequest},
		{name: "invalid json", err: InvalidJSON(errors.New("eof")), want: http.StatusBadRequest},
		{name: "upstream", err: UpstreamAI(errors.New("boom")), want: http.StatusBadGateway},
		{name: "malformed", err: MalformedAIResponse(errors.New("bad")), want: http.StatusBadGateway},
		{name: "queue", err: QueueUnavailable(errors.New("dial")), want: http.StatusServiceUnavailable},
		{name: "not found", err: JobNotFound("abc"), want: http.StatusNotFound},
		{name: "rate limited", err: RateLimited("ai"), want: http.StatusTooManyRequests},
		{name: "wrapped", err: fmt.Errorf("enqueue: %w", QueueUnavailable(nil)), want: http.StatusServiceUnavailable},
		{name: "plain", err: errors.New("plain"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(MissingFields("transcript")))
	assert.False(t, Retryable(fmt.Errorf("process: %w", Validation("count", "too large"))))
	assert.True(t, Retryable(UpstreamAI(errors.New("timeout"))))
	assert.True(t, Retryable(errors.New("redis down")))
}

func TestCodeAndPublicMessage(t *testing.T) {
	err := MalformedAIResponse(errors.New("unexpected end of JSON input"))
	assert.Equal(t, CodeAIInvalidResponse, Code(err))
	assert.Equal(t, MessageMalformedAIJSON, PublicMessage(err))
	assert.Contains(t, err.Error(), "unexpected end of JSON input")

	internal := Internal(errors.New("secret detail"))
	assert.Equal(t, "internal server error", PublicMessage(internal))
	assert.Equal(t, CodeInternal, Code(errors.New("x")))
}

func TestMissingFieldsMessage(t *testing.T) {
	err := MissingFields("cvText", "jobRequirements")
	assert.Equal(t, "missing required fields: cvText, jobRequirements", err.Error())
	assert.Equal(t, []string{"cvText", "jobRequirements"}, err.Fields)
	assert.True(t, IsInvalidRequest(err))
	assert.False(t, IsNotFound(err))
}
