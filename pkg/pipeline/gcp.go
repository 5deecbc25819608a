package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	vertexAnthropicVersion = "vertex-2023-10-16"
	gcpTokenURL            = "https://oauth2.googleapis.com/token"
	gcpScope               = "https://www.googleapis.com/auth/cloud-platform"
)

// gcpTokenSource exchanges service-account keys for short-lived OAuth access
// tokens, cached per key hash until shortly before expiry.
type gcpTokenSource struct {
	mu     sync.Mutex
	client *http.Client
	cache  map[string]gcpToken
}

type gcpToken struct {
	accessToken string
	expiresAt   time.Time
}

func newGCPTokenSource() *gcpTokenSource {
	return &gcpTokenSource{
		client: &http.Client{Timeout: 15 * time.Second},
		cache:  make(map[string]gcpToken),
	}
}

// token returns a live access token for the key, minting one via the JWT
// assertion grant when the cache is cold or stale.
func (ts *gcpTokenSource) token(ctx context.Context, keyHash, clientEmail, privateKeyPEM string) (string, error) {
	ts.mu.Lock()
	cached, ok := ts.cache[keyHash]
	ts.mu.Unlock()
	if ok && time.Until(cached.expiresAt) > time.Minute {
		return cached.accessToken, nil
	}

	pk, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return "", fmt.Errorf("failed to parse gcp private key: %w", err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   clientEmail,
		"scope": gcpScope,
		"aud":   gcpTokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(pk)
	if err != nil {
		return "", fmt.Errorf("failed to sign gcp assertion: %w", err)
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gcpTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gcp token exchange failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gcp token exchange returned %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode gcp token response: %w", err)
	}

	ts.mu.Lock()
	ts.cache[keyHash] = gcpToken{
		accessToken: payload.AccessToken,
		expiresAt:   now.Add(time.Duration(payload.ExpiresIn) * time.Second),
	}
	ts.mu.Unlock()
	return payload.AccessToken, nil
}

// signGCP finalizes a Vertex invocation: JWT-based token exchange, then the
// publisher rawPredict endpoint with the Vertex Anthropic envelope.
func (s *Signer) signGCP(ctx context.Context, req *Request) error {
	token, err := s.gcpToken.token(ctx, req.Key.Hash, req.Key.ClientEmail, req.Key.PrivateKey)
	if err != nil {
		return err
	}

	body, err := anthropicEnvelopeFor(req.Body, vertexAnthropicVersion)
	if err != nil {
		return err
	}
	req.Body = body

	verb := "rawPredict"
	if req.IsStreaming {
		verb = "streamRawPredict"
	}
	endpoint := fmt.Sprintf(
		"https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/anthropic/models/%s:%s",
		req.Key.Region, url.PathEscape(req.Key.ProjectID), req.Key.Region, url.PathEscape(req.Model), verb)

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer "+token)
	req.Signed = &SignedRequest{
		Method: http.MethodPost,
		URL:    endpoint,
		Header: h,
		Body:   body,
	}
	return nil
}
