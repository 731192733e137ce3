package bedrock

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strings"
	"time"
)

// signer produces AWS Signature Version 4 headers for a single request.
// Bedrock has no SDK in this module's dependency set, and SigV4 is a
// fixed, well-documented algorithm rather than a client library's
// surface — so it is implemented directly against crypto/hmac and
// crypto/sha256 instead of pulling in the AWS SDK for one call shape.
type signer struct {
	accessKeyID     string
	secretAccessKey string
	sessionToken    string
	region          string
	service         string
}

func newSigner(accessKeyID, secretAccessKey, sessionToken, region string) *signer {
	return &signer{
		accessKeyID:     accessKeyID,
		secretAccessKey: secretAccessKey,
		sessionToken:    sessionToken,
		region:          region,
		service:         "bedrock",
	}
}

// Sign adds the Authorization, x-amz-date, and (if present) x-amz-security-token
// headers req needs to be accepted by Bedrock, over the exact bytes of body.
func (s *signer) Sign(req *http.Request, body []byte, now time.Time) {
	amzDate := now.UTC().Format("20060102T150405Z")
	dateStamp := now.UTC().Format("20060102")

	req.Header.Set("x-amz-date", amzDate)
	req.Header.Set("host", req.URL.Host)
	if s.sessionToken != "" {
		req.Header.Set("x-amz-security-token", s.sessionToken)
	}

	canonicalHeaders, signedHeaders := canonicalizeHeaders(req.Header, req.URL.Host)
	payloadHash := hashHex(body)

	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI(req.URL.Path),
		req.URL.RawQuery,
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	credentialScope := strings.Join([]string{dateStamp, s.region, s.service, "aws4_request"}, "/")
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		credentialScope,
		hashHex([]byte(canonicalRequest)),
	}, "\n")

	signingKey := s.deriveSigningKey(dateStamp)
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	auth := "AWS4-HMAC-SHA256 " +
		"Credential=" + s.accessKeyID + "/" + credentialScope + ", " +
		"SignedHeaders=" + signedHeaders + ", " +
		"Signature=" + signature
	req.Header.Set("Authorization", auth)
}

func (s *signer) deriveSigningKey(dateStamp string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+s.secretAccessKey), dateStamp)
	kRegion := hmacSHA256(kDate, s.region)
	kService := hmacSHA256(kRegion, s.service)
	return hmacSHA256(kService, "aws4_request")
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

func hashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func canonicalURI(path string) string {
	if path == "" {
		return "/"
	}
	return path
}

func canonicalizeHeaders(h http.Header, host string) (canonical string, signed string) {
	names := make([]string, 0, len(h)+1)
	lower := map[string]string{"host": host}
	for k, v := range h {
		key := strings.ToLower(k)
		lower[key] = strings.TrimSpace(strings.Join(v, ","))
	}
	for k := range lower {
		names = append(names, k)
	}
	sort.Strings(names)

	var cb strings.Builder
	for _, n := range names {
		cb.WriteString(n)
		cb.WriteString(":")
		cb.WriteString(lower[n])
		cb.WriteString("\n")
	}
	return cb.String(), strings.Join(names, ";")
}
