// Package artifact talks to the S3-compatible object store that holds build
// outputs and user uploads. It issues presigned URLs (AWS Signature V4,
// query form) and fetches bitstream artifacts over plain HTTP.
package artifact

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config locates the object store. Endpoint is a base URL such as
// "https://s3.internal:9000"; addressing is path-style (endpoint/bucket/key),
// which every S3-compatible store accepts.
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

const (
	signAlgorithm   = "AWS4-HMAC-SHA256"
	signService     = "s3"
	unsignedPayload = "UNSIGNED-PAYLOAD"
)

// Presigner issues time-limited URLs for direct client access to objects.
// The signing clock is injectable for deterministic tests.
type Presigner struct {
	cfg Config
	now func() time.Time
}

// NewPresigner validates cfg and constructs a Presigner.
func NewPresigner(cfg Config) (*Presigner, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("artifact: incomplete object store config")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return &Presigner{cfg: cfg, now: time.Now}, nil
}

// PresignGet returns a presigned GET URL for key.
func (p *Presigner) PresignGet(key string, expires time.Duration) (string, error) {
	return p.presign("GET", key, expires)
}

// PresignPut returns a presigned PUT URL for key, used for direct uploads.
func (p *Presigner) PresignPut(key string, expires time.Duration) (string, error) {
	return p.presign("PUT", key, expires)
}

func (p *Presigner) presign(method, key string, expires time.Duration) (string, error) {
	if key == "" {
		return "", errors.New("artifact: empty object key")
	}
	if expires <= 0 {
		expires = 15 * time.Minute
	}

	base, err := url.Parse(p.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("artifact: bad endpoint: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return "", errors.New("artifact: endpoint must include scheme and host")
	}

	now := p.now().UTC()
	amzDate := now.Format("20060102T150405Z")
	scope := strings.Join([]string{
		now.Format("20060102"), p.cfg.Region, signService, "aws4_request",
	}, "/")

	canonicalPath := "/" + uriEncode(p.cfg.Bucket, false) + "/" + uriEncode(key, false)

	q := url.Values{}
	q.Set("X-Amz-Algorithm", signAlgorithm)
	q.Set("X-Amz-Credential", p.cfg.AccessKey+"/"+scope)
	q.Set("X-Amz-Date", amzDate)
	q.Set("X-Amz-Expires", fmt.Sprintf("%d", int64(expires.Seconds())))
	q.Set("X-Amz-SignedHeaders", "host")
	canonicalQuery := q.Encode() // sorted + RFC 3986 escaping

	canonicalRequest := strings.Join([]string{
		method,
		canonicalPath,
		canonicalQuery,
		"host:" + base.Host,
		"",
		"host",
		unsignedPayload,
	}, "\n")

	digest := sha256.Sum256([]byte(canonicalRequest))
	stringToSign := strings.Join([]string{
		signAlgorithm,
		amzDate,
		scope,
		hex.EncodeToString(digest[:]),
	}, "\n")

	signature := hex.EncodeToString(hmacSHA256(p.signingKey(now), []byte(stringToSign)))

	return base.Scheme + "://" + base.Host + canonicalPath +
		"?" + canonicalQuery + "&X-Amz-Signature=" + signature, nil
}

func (p *Presigner) signingKey(now time.Time) []byte {
	k := hmacSHA256([]byte("AWS4"+p.cfg.SecretKey), []byte(now.Format("20060102")))
	k = hmacSHA256(k, []byte(p.cfg.Region))
	k = hmacSHA256(k, []byte(signService))
	return hmacSHA256(k, []byte("aws4_request"))
}

func hmacSHA256(key, data []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(data)
	return m.Sum(nil)
}

// uriEncode applies the S3 flavor of RFC 3986 encoding: unreserved characters
// pass through, '/' is kept only when encodeSlash is false.
func uriEncode(s string, encodeSlash bool) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		case c == '/' && !encodeSlash:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
