package signing

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// ErrSignatureMismatch reports a signature that does not recover to the key
// the service claims to have signed with.
var ErrSignatureMismatch = errors.New("signing: signature does not match service key")

// VerifyResponse recovers the public key from the signature in resp and
// compares it against the key the service reported. digestHex is the 32-byte
// digest submitted as ToSign. Responses that carry no public key cannot be
// verified and pass through.
func VerifyResponse(resp *Response, digestHex string) error {
	if resp == nil || resp.PublicKey == "" {
		return nil
	}

	digest, err := decodeHex32(digestHex)
	if err != nil {
		return fmt.Errorf("signing: digest: %w", err)
	}
	r, err := decodeHex32(resp.Signature.R)
	if err != nil {
		return fmt.Errorf("signing: signature r: %w", err)
	}
	s, err := decodeHex32(resp.Signature.S)
	if err != nil {
		return fmt.Errorf("signing: signature s: %w", err)
	}
	if resp.Signature.Recid < 0 || resp.Signature.Recid > 3 {
		return fmt.Errorf("signing: recovery id %d out of range", resp.Signature.Recid)
	}

	sig := make([]byte, 65)
	copy(sig[:32], r)
	copy(sig[32:64], s)
	sig[64] = byte(resp.Signature.Recid)

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return fmt.Errorf("signing: recover public key: %w", err)
	}

	got := hex.EncodeToString(crypto.FromECDSAPub(pub))
	want := strings.ToLower(strings.TrimPrefix(resp.PublicKey, "0x"))
	if got != want {
		return ErrSignatureMismatch
	}
	return nil
}

// decodeHex32 decodes a hex string, with or without 0x prefix, into exactly
// 32 bytes. Shorter values are left-padded.
func decodeHex32(s string) ([]byte, error) {
	raw := strings.TrimPrefix(s, "0x")
	if len(raw)%2 == 1 {
		raw = "0" + raw
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	if len(b) > 32 {
		return nil, fmt.Errorf("value longer than 32 bytes")
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out, nil
}
