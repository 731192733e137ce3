package bedrock

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_SetsAuthorizationHeader(t *testing.T) {
	s := newSigner("AKIDEXAMPLE", "secret", "", "us-east-1")

	u, err := url.Parse("https://bedrock-runtime.us-east-1.amazonaws.com/model/anthropic.claude-3/invoke")
	require.NoError(t, err)

	req := &http.Request{Method: http.MethodPost, URL: u, Header: http.Header{}}
	body := []byte(`{"hello":"world"}`)

	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s.Sign(req, body, fixed)

	auth := req.Header.Get("Authorization")
	assert.Contains(t, auth, "AWS4-HMAC-SHA256")
	assert.Contains(t, auth, "Credential=AKIDEXAMPLE/20240102/us-east-1/bedrock/aws4_request")
	assert.Contains(t, auth, "SignedHeaders=")
	assert.Contains(t, auth, "Signature=")
	assert.Equal(t, "20240102T030405Z", req.Header.Get("x-amz-date"))
}

func TestSigner_IncludesSessionToken(t *testing.T) {
	s := newSigner("AKIDEXAMPLE", "secret", "session-tok", "us-west-2")

	u, _ := url.Parse("https://bedrock-runtime.us-west-2.amazonaws.com/model/m/invoke")
	req := &http.Request{Method: http.MethodPost, URL: u, Header: http.Header{}}

	s.Sign(req, []byte("{}"), time.Now())
	assert.Equal(t, "session-tok", req.Header.Get("x-amz-security-token"))
}

func TestSigner_DeterministicForSameInput(t *testing.T) {
	s := newSigner("AKID", "secret", "", "us-east-1")
	u, _ := url.Parse("https://bedrock-runtime.us-east-1.amazonaws.com/model/m/invoke")
	fixed := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	body := []byte(`{"a":1}`)

	req1 := &http.Request{Method: http.MethodPost, URL: u, Header: http.Header{}}
	req2 := &http.Request{Method: http.MethodPost, URL: u, Header: http.Header{}}
	s.Sign(req1, body, fixed)
	s.Sign(req2, body, fixed)

	assert.Equal(t, req1.Header.Get("Authorization"), req2.Header.Get("Authorization"))
}
