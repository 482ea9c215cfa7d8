// Package auth authenticates bearer tokens and carries the resulting
// principal through request contexts. Tokens are persisted only as SHA-256
// digests plus a short display prefix; plaintext never reaches storage or
// logs.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// PrefixLength is the number of leading characters kept for display.
const PrefixLength = 20

// Method is how a principal authenticated.
type Method string

const (
	MethodAPIKey Method = "api_key"
	MethodOAuth  Method = "oauth"
)

// Type is the concrete token family.
type Type string

const (
	TypeLive   Type = "live"
	TypeTest   Type = "test"
	TypeOAuth  Type = "oauth"
	TypeClient Type = "client"
)

var (
	apiKeyRe = regexp.MustCompile(`^engram_(live|test)_[0-9a-f]{32}$`)
	oauthRe  = regexp.MustCompile(`^egm_oauth_[A-Za-z0-9]{32}_[A-Za-z0-9]{6}$`)
	clientRe = regexp.MustCompile(`^egm_client_[A-Za-z0-9]{32}_[A-Za-z0-9]{6}$`)
)

// ErrUnrecognizedToken reports a token that matches no known shape.
var ErrUnrecognizedToken = errors.New("auth: unrecognized token format")

// Shape classifies a syntactically valid token.
type Shape struct {
	Method Method
	Type   Type
}

// Parse classifies a raw token by shape without touching storage.
func Parse(raw string) (Shape, error) {
	switch {
	case apiKeyRe.MatchString(raw):
		typ := TypeLive
		if strings.HasPrefix(raw, "engram_test_") {
			typ = TypeTest
		}
		return Shape{Method: MethodAPIKey, Type: typ}, nil
	case oauthRe.MatchString(raw):
		return Shape{Method: MethodOAuth, Type: TypeOAuth}, nil
	case clientRe.MatchString(raw):
		return Shape{Method: MethodOAuth, Type: TypeClient}, nil
	}
	return Shape{}, ErrUnrecognizedToken
}

// SHA256Hex returns the hex digest a token is stored under.
func SHA256Hex(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Prefix returns the display prefix persisted alongside the digest.
func Prefix(raw string) string {
	if len(raw) <= PrefixLength {
		return raw
	}
	return raw[:PrefixLength]
}

// MintAPIKey generates a fresh live or test API key.
func MintAPIKey(typ Type) (string, error) {
	if typ != TypeLive && typ != TypeTest {
		return "", fmt.Errorf("auth: cannot mint api key of type %q", typ)
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: mint api key: %w", err)
	}
	return fmt.Sprintf("engram_%s_%s", typ, hex.EncodeToString(buf)), nil
}

// MintBearer generates a fresh oauth or client-credentials bearer.
func MintBearer(typ Type) (string, error) {
	var prefix string
	switch typ {
	case TypeOAuth:
		prefix = "egm_oauth_"
	case TypeClient:
		prefix = "egm_client_"
	default:
		return "", fmt.Errorf("auth: cannot mint bearer of type %q", typ)
	}
	body, err := randAlphanumeric(32)
	if err != nil {
		return "", err
	}
	check, err := randAlphanumeric(6)
	if err != nil {
		return "", err
	}
	return prefix + body + "_" + check, nil
}

func randAlphanumeric(n int) (string, error) {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("auth: mint token: %w", err)
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
