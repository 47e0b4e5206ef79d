package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	headerGatewayTimestamp = "X-Gateway-Timestamp"
	headerGatewaySignature = "X-Gateway-Signature"

	maxGatewayUpload = 1 << 20
)

var (
	errGatewayUnsigned  = errors.New("collar gateway: upload not signed")
	errGatewayClock     = errors.New("collar gateway: timestamp outside allowed skew")
	errGatewaySignature = errors.New("collar gateway: signature mismatch")
)

// GatewayVerifier admits collar gateway uploads signed with the shared
// secret. The signature is hex(HMAC-SHA256(secret, unix seconds + "\n" + body)).
type GatewayVerifier struct {
	secret  []byte
	maxSkew time.Duration
	now     func() time.Time
}

// NewGatewayVerifier constructs a verifier. A zero maxSkew accepts any
// timestamp.
func NewGatewayVerifier(secret []byte, maxSkew time.Duration) *GatewayVerifier {
	return &GatewayVerifier{secret: secret, maxSkew: maxSkew, now: time.Now}
}

// Wrap rejects unsigned or mis-signed uploads with 401 and hands the body on
// unchanged otherwise. Without a secret every upload is refused.
func (v *GatewayVerifier) Wrap(next http.Handler) http.Handler {
	if v == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(v.secret) == 0 {
			http.Error(w, "gateway uploads disabled", http.StatusUnauthorized)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxGatewayUpload))
		_ = r.Body.Close()
		if err != nil {
			http.Error(w, "read body error", http.StatusBadRequest)
			return
		}
		if err := v.verify(r.Header, body); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func (v *GatewayVerifier) verify(header http.Header, body []byte) error {
	stamp := strings.TrimSpace(header.Get(headerGatewayTimestamp))
	signature := strings.ToLower(strings.TrimSpace(header.Get(headerGatewaySignature)))
	if stamp == "" || signature == "" {
		return errGatewayUnsigned
	}
	sec, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return errGatewayUnsigned
	}
	if v.maxSkew > 0 {
		drift := v.now().Sub(time.Unix(sec, 0))
		if drift < -v.maxSkew || drift > v.maxSkew {
			return errGatewayClock
		}
	}
	if !hmac.Equal([]byte(signature), []byte(SignIngest(v.secret, stamp, body))) {
		return errGatewaySignature
	}
	return nil
}

// SignIngest computes the gateway signature for body sent at timestamp.
func SignIngest(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = io.WriteString(mac, timestamp+"\n")
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
