package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// signAWS finalizes a Bedrock invocation with SigV4. Bedrock carries the
// model id in the path and streams in a proprietary event-stream framing, so
// the gateway always calls the blocking invoke endpoint; client-side streams
// are synthesized from the blocking response.
func (s *Signer) signAWS(ctx context.Context, req *Request) error {
	// AWS credentials are pooled as region:accessKeyId:secretAccessKey.
	parts := strings.SplitN(req.Key.Secret, ":", 3)
	if len(parts) != 3 {
		return newError(ErrInternal, "malformed aws credential on key %s", req.Key.Hash)
	}
	region, accessKey, secretKey := parts[0], parts[1], parts[2]

	body, err := anthropicEnvelopeFor(req.Body, bedrockAnthropicVersion)
	if err != nil {
		return err
	}
	req.Body = body

	endpoint := fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com/model/%s/invoke",
		region, url.PathEscape(req.Model))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build bedrock request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	sum := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(sum[:])

	signer := v4.NewSigner()
	creds := aws.Credentials{AccessKeyID: accessKey, SecretAccessKey: secretKey}
	if err := signer.SignHTTP(ctx, creds, httpReq, payloadHash, "bedrock", region, time.Now()); err != nil {
		return fmt.Errorf("sigv4 signing failed: %w", err)
	}

	req.Signed = &SignedRequest{
		Method: http.MethodPost,
		URL:    endpoint,
		Header: httpReq.Header,
		Body:   body,
	}
	return nil
}
