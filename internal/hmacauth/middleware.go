// Package hmacauth authenticates webhook-style requests signed with a shared
// secret: signature = hex(HMAC-SHA256(secret, timestamp || body)).
package hmacauth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	DefaultSignatureHeader = "X-Lendex-Signature"
	DefaultTimestampHeader = "X-Lendex-Timestamp"

	maxBodyBytes = 1 << 20
)

var (
	ErrMissingSignature = errors.New("missing request signature")
	ErrMissingTimestamp = errors.New("missing request timestamp")
	ErrStaleTimestamp   = errors.New("stale request timestamp")
	ErrInvalidSignature = errors.New("invalid request signature")
	ErrBodyTooLarge     = errors.New("request body too large")
)

type Verifier struct {
	Secret          string
	MaxSkew         time.Duration
	Now             func() time.Time
	SignatureHeader string
	TimestampHeader string
}

func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := v.verify(r); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (v *Verifier) headers() (sig, ts string) {
	sig, ts = v.SignatureHeader, v.TimestampHeader
	if sig == "" {
		sig = DefaultSignatureHeader
	}
	if ts == "" {
		ts = DefaultTimestampHeader
	}
	return sig, ts
}

func (v *Verifier) verify(r *http.Request) error {
	// an empty secret disables verification
	if v.Secret == "" {
		return nil
	}
	sigHeader, tsHeaderName := v.headers()

	sig := r.Header.Get(sigHeader)
	if sig == "" {
		return ErrMissingSignature
	}
	tsHeader := r.Header.Get(tsHeaderName)
	if tsHeader == "" {
		return ErrMissingTimestamp
	}
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return ErrMissingTimestamp
	}

	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}

	reqTime := time.Unix(ts, 0)
	if now.Sub(reqTime) > v.MaxSkew || reqTime.Sub(now) > v.MaxSkew {
		return ErrStaleTimestamp
	}

	bodyBytes, err := readBody(r)
	if err != nil {
		return err
	}

	expected := Sign(v.Secret, tsHeader, bodyBytes)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign computes the signature a client must send for body at timestamp.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignRequest sets the signature headers on req for body, signed now.
func (v *Verifier) SignRequest(req *http.Request, body []byte, now time.Time) {
	sigHeader, tsHeader := v.headers()
	ts := strconv.FormatInt(now.Unix(), 10)
	req.Header.Set(tsHeader, ts)
	req.Header.Set(sigHeader, Sign(v.Secret, ts, body))
}

// readBody consumes the body and puts an identical reader back for the next
// handler.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte{}, nil
	}
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBodyBytes {
		return nil, ErrBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
