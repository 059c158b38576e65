package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"strings"
)

type Digest string

const (
	SHA256 Digest = "sha256"
	SHA512 Digest = "sha512"
)

func (d Digest) new() func() hash.Hash {
	if d == SHA256 {
		return sha256.New
	}
	return sha512.New
}

// Sign computes the hex HMAC of payload under secret.
func Sign(payload []byte, secret string, d Digest) string {
	mac := hmac.New(d.new(), []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares a hex signature with the expected HMAC in
// constant time. Empty secrets, empty signatures and non-hex input are
// rejected.
func VerifySignature(signature string, payload []byte, secret string, d Digest) bool {
	if secret == "" {
		return false
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(d.new(), []byte(secret))
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}
