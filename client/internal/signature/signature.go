// Package signature computes the NCMB request and response signatures.
//
// The canonical string is
//
//	METHOD \n FQDN \n PATH \n PARAMS
//
// where PARAMS is the '&'-joined, key-sorted list of SignatureMethod,
// SignatureVersion, X-NCMB-Application-Key, X-NCMB-Timestamp and every
// query parameter of the request (values percent-encoded). The signature is
// base64(HMAC-SHA256(clientKey, canonical)).
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

const (
	Method  = "HmacSHA256"
	Version = "2"

	HeaderApplicationKey    = "X-NCMB-Application-Key"
	HeaderTimestamp         = "X-NCMB-Timestamp"
	HeaderSignature         = "X-NCMB-Signature"
	HeaderSessionToken      = "X-NCMB-Apps-Session-Token"
	HeaderResponseSignature = "X-NCMB-Response-Signature"
)

// Input is everything the canonical string is built from.
type Input struct {
	Method         string
	Host           string
	Path           string // already escaped, as sent on the wire
	Query          url.Values
	ApplicationKey string
	Timestamp      string
}

// Canonical returns the string to sign.
func Canonical(in Input) string {
	pairs := make([][2]string, 0, 4+len(in.Query))
	pairs = append(pairs,
		[2]string{"SignatureMethod", Method},
		[2]string{"SignatureVersion", Version},
		[2]string{HeaderApplicationKey, in.ApplicationKey},
		[2]string{HeaderTimestamp, in.Timestamp},
	)
	for k, vs := range in.Query {
		for _, v := range vs {
			pairs = append(pairs, [2]string{Escape(k), Escape(v)})
		}
	}
	// By escaped key, then value.
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})
	params := make([]string, len(pairs))
	for i, p := range pairs {
		params[i] = p[0] + "=" + p[1]
	}

	var b strings.Builder
	b.WriteString(strings.ToUpper(in.Method))
	b.WriteByte('\n')
	b.WriteString(in.Host)
	b.WriteByte('\n')
	b.WriteString(in.Path)
	b.WriteByte('\n')
	b.WriteString(strings.Join(params, "&"))
	return b.String()
}

// Sign returns base64(HMAC-SHA256(clientKey, Canonical(in))).
func Sign(clientKey string, in Input) string {
	return sum(clientKey, Canonical(in))
}

// SignResponse computes the expected X-NCMB-Response-Signature. Text bodies are
// appended as-is; binary bodies (file downloads) are appended hex-encoded.
func SignResponse(clientKey string, in Input, body []byte, binary bool) string {
	s := Canonical(in)
	if len(body) > 0 {
		if binary {
			s += "\n" + hex.EncodeToString(body)
		} else {
			s += "\n" + string(body)
		}
	}
	return sum(clientKey, s)
}

// Verify compares two signatures in constant time.
func Verify(expected, got string) bool {
	return hmac.Equal([]byte(expected), []byte(got))
}

func sum(key, data string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Escape percent-encodes s per RFC 3986: unreserved characters stay, space is
// %20, everything else is %XX of its UTF-8 bytes.
func Escape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte("0123456789ABCDEF"[c>>4])
		b.WriteByte("0123456789ABCDEF"[c&15])
	}
	return b.String()
}

// EncodeQuery renders q with Escape, keys sorted, for use as a URL's RawQuery
// so the wire query and the signed query agree byte for byte.
func EncodeQuery(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		for _, v := range q[k] {
			parts = append(parts, Escape(k)+"="+Escape(v))
		}
	}
	return strings.Join(parts, "&")
}

// EscapePath escapes one path segment (a class, file or script name).
func EscapePath(seg string) string { return Escape(seg) }

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}
