package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/subforge/subforge/internal/pkg/env"
)

// DefaultSignatureTolerance is how far a webhook timestamp may drift from the
// server clock before it is flagged. Paddle re-signs retried deliveries, so
// the window only has to cover clock skew and transit time.
const DefaultSignatureTolerance = 5 * time.Minute

var errMalformedSignatureHeader = errors.New("malformed header")

// SignatureOptions controls timestamp handling during verification. Strict
// mode turns a tolerance violation from a warning into a rejection.
type SignatureOptions struct {
	Tolerance time.Duration
	Strict    bool
	Now       func() time.Time
}

// SignatureResult reports the verification outcome. Detail carries a short
// reason for rejections and warnings; it is safe to log but is not meant to
// be echoed back to webhook callers verbatim.
type SignatureResult struct {
	Valid           bool
	Detail          string
	TimestampSkewed bool
}

// ParsePaddleSignatureHeader splits a Paddle-Signature header into its ts and
// h1 parts. The header is a ";"-delimited list of key=value pairs.
func ParsePaddleSignatureHeader(header string) (ts int64, h1 string, err error) {
	rawTS, h1, err := splitSignatureHeader(header)
	if err != nil {
		return 0, "", err
	}
	ts, err = strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return 0, "", errMalformedSignatureHeader
	}
	return ts, h1, nil
}

func splitSignatureHeader(header string) (rawTS, h1 string, err error) {
	parts := map[string]string{}
	for _, part := range strings.Split(header, ";") {
		key, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		parts[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	rawTS, okTS := parts["ts"]
	h1, okH1 := parts["h1"]
	if !okTS || !okH1 || rawTS == "" || h1 == "" {
		return "", "", errMalformedSignatureHeader
	}
	if _, err := strconv.ParseInt(rawTS, 10, 64); err != nil {
		return "", "", errMalformedSignatureHeader
	}
	if _, err := hex.DecodeString(strings.ToLower(h1)); err != nil {
		return "", "", errMalformedSignatureHeader
	}
	return rawTS, h1, nil
}

// VerifyPaddleWebhookSignature checks an inbound event payload against the
// Paddle-Signature header. The MAC covers "{ts}:{rawBody}" using the ts text
// and body bytes exactly as received; re-serializing parsed JSON would
// produce false rejections. Safe against attacker-controlled input: every
// parse failure maps to an invalid result, never a panic.
func VerifyPaddleWebhookSignature(rawBody []byte, signatureHeader, webhookSecret string, opts SignatureOptions) SignatureResult {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if sig == "" || secret == "" {
		return SignatureResult{Valid: false, Detail: "missing signature or secret"}
	}

	rawTS, h1, err := splitSignatureHeader(sig)
	if err != nil {
		return SignatureResult{Valid: false, Detail: "malformed header"}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(rawTS))
	mac.Write([]byte(":"))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	// Constant-time comparison; direct string equality on secret-derived
	// values is a timing side channel.
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(h1))) {
		return SignatureResult{Valid: false, Detail: "signature mismatch"}
	}

	tolerance := opts.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	ts, _ := strconv.ParseInt(rawTS, 10, 64)
	skew := now().Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > tolerance {
		if opts.Strict {
			return SignatureResult{Valid: false, Detail: "timestamp outside tolerance", TimestampSkewed: true}
		}
		return SignatureResult{Valid: true, Detail: fmt.Sprintf("timestamp skewed by %ds", skew), TimestampSkewed: true}
	}

	return SignatureResult{Valid: true}
}

// SignatureOptionsFromEnv reads tolerance and strict-mode settings so the
// replay window stays a deployment policy rather than a compiled constant.
func SignatureOptionsFromEnv() SignatureOptions {
	opts := SignatureOptions{Tolerance: DefaultSignatureTolerance}
	if v, err := strconv.Atoi(strings.TrimSpace(env.GetEnv("PADDLE_WEBHOOK_TOLERANCE", ""))); err == nil && v > 0 {
		opts.Tolerance = time.Duration(v) * time.Second
	}
	opts.Strict = strings.EqualFold(strings.TrimSpace(env.GetEnv("PADDLE_WEBHOOK_STRICT", "")), "true")
	return opts
}
