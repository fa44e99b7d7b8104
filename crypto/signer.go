package crypto

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/asn1"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// KeyType identifies the signing algorithm of a key pair.
type KeyType string

const (
	KeyTypeSecp256k1 KeyType = "secp256k1"
	KeyTypeECDSA     KeyType = "ecdsa" // alias accepted in stored credentials
	KeyTypeEd25519   KeyType = "ed25519"
)

var (
	// ErrUnsupportedKeyType is returned when no signer exists for a key type.
	ErrUnsupportedKeyType = errors.New("unsupported key type")

	// ErrUnsupportedKeyLength is returned when a raw key has an unexpected size.
	ErrUnsupportedKeyLength = errors.New("unsupported key length")

	// ErrMalformedSignature is returned when a wire signature has the wrong shape.
	ErrMalformedSignature = errors.New("malformed signature")

	// ErrInvalidDER is returned when a DER signature cannot be decoded.
	ErrInvalidDER = errors.New("invalid DER signature")

	// ErrVerificationFailed is returned when a signature does not match.
	ErrVerificationFailed = errors.New("signature verification failed")
)

// Signer signs byte payloads and verifies wire-format signatures.
// The wire format is fixed 64-byte R||S for secp256k1 and the native 64-byte
// signature for Ed25519.
type Signer interface {
	KeyType() KeyType
	Sign(privateKey, payload []byte) ([]byte, error)
	Verify(publicKey, payload, signature []byte) error
}

// SignerForKeyType returns the signer registered for the given key type.
func SignerForKeyType(keyType string) (Signer, error) {
	switch KeyType(keyType) {
	case KeyTypeSecp256k1, KeyTypeECDSA:
		return Secp256k1Signer{}, nil
	case KeyTypeEd25519:
		return Ed25519Signer{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKeyType, keyType)
	}
}

// SignerForPublicKey infers the signer from the raw public key length:
// 33 or 65 bytes selects secp256k1, 32 bytes selects Ed25519.
func SignerForPublicKey(publicKey []byte) (Signer, error) {
	switch len(publicKey) {
	case 33, 65:
		return Secp256k1Signer{}, nil
	case ed25519.PublicKeySize:
		return Ed25519Signer{}, nil
	default:
		return nil, fmt.Errorf("%w: %d bytes", ErrUnsupportedKeyLength, len(publicKey))
	}
}

// Secp256k1Signer implements ECDSA over SHA-256 on the secp256k1 curve.
type Secp256k1Signer struct{}

// KeyType returns KeyTypeSecp256k1.
func (Secp256k1Signer) KeyType() KeyType { return KeyTypeSecp256k1 }

// SignDER signs SHA-256(payload) and returns a DER-encoded signature.
func (Secp256k1Signer) SignDER(privateKey, payload []byte) ([]byte, error) {
	key, err := PrivateKeyFromScalar(privateKey)
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256(payload)
	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign payload: %w", err)
	}

	return asn1.Marshal(ecdsaSignature{R: r, S: s})
}

// Sign signs SHA-256(payload) and returns the 64-byte R||S wire signature.
func (s Secp256k1Signer) Sign(privateKey, payload []byte) ([]byte, error) {
	der, err := s.SignDER(privateKey, payload)
	if err != nil {
		return nil, err
	}
	return DERToRS(der)
}

// Verify checks a 64-byte R||S signature over SHA-256(payload).
func (Secp256k1Signer) Verify(publicKey, payload, signature []byte) error {
	key, err := ParseSecp256k1PublicKey(publicKey)
	if err != nil {
		return err
	}

	if len(signature) != 64 {
		return fmt.Errorf("%w: got %d bytes, want 64", ErrMalformedSignature, len(signature))
	}

	r := new(big.Int).SetBytes(signature[:32])
	sv := new(big.Int).SetBytes(signature[32:])
	if r.Sign() == 0 || sv.Sign() == 0 {
		return fmt.Errorf("%w: zero component", ErrMalformedSignature)
	}

	digest := sha256.Sum256(payload)
	if !ecdsa.Verify(key, digest[:], r, sv) {
		return ErrVerificationFailed
	}
	return nil
}

// VerifyDER checks a DER-encoded signature over SHA-256(payload).
func (s Secp256k1Signer) VerifyDER(publicKey, payload, derSignature []byte) error {
	rs, err := DERToRS(derSignature)
	if err != nil {
		return err
	}
	return s.Verify(publicKey, payload, rs)
}

// ParseSecp256k1PublicKey decodes a compressed (33-byte) or uncompressed
// (65-byte, 0x04-prefixed) secp256k1 public key.
func ParseSecp256k1PublicKey(raw []byte) (*ecdsa.PublicKey, error) {
	switch len(raw) {
	case 33:
		key, err := ethcrypto.DecompressPubkey(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid compressed public key: %w", err)
		}
		return key, nil
	case 65:
		key, err := ethcrypto.UnmarshalPubkey(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid uncompressed public key: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: %d bytes", ErrUnsupportedKeyLength, len(raw))
	}
}

// CompressPublicKey returns the 33-byte compressed form of a secp256k1 key.
func CompressPublicKey(key *ecdsa.PublicKey) []byte {
	return ethcrypto.CompressPubkey(key)
}

// Ed25519Signer signs payloads directly with Ed25519 (no pre-hash).
type Ed25519Signer struct{}

// KeyType returns KeyTypeEd25519.
func (Ed25519Signer) KeyType() KeyType { return KeyTypeEd25519 }

// Sign signs the payload with a 32-byte seed or 64-byte private key.
func (Ed25519Signer) Sign(privateKey, payload []byte) ([]byte, error) {
	var key ed25519.PrivateKey
	switch len(privateKey) {
	case ed25519.SeedSize:
		key = ed25519.NewKeyFromSeed(privateKey)
	case ed25519.PrivateKeySize:
		key = ed25519.PrivateKey(privateKey)
	default:
		return nil, fmt.Errorf("%w: %d bytes", ErrUnsupportedKeyLength, len(privateKey))
	}
	return ed25519.Sign(key, payload), nil
}

// Verify checks a 64-byte Ed25519 signature.
func (Ed25519Signer) Verify(publicKey, payload, signature []byte) error {
	if len(publicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: %d bytes", ErrUnsupportedKeyLength, len(publicKey))
	}
	if len(signature) != ed25519.SignatureSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedSignature, len(signature), ed25519.SignatureSize)
	}
	if !ed25519.Verify(ed25519.PublicKey(publicKey), payload, signature) {
		return ErrVerificationFailed
	}
	return nil
}

type ecdsaSignature struct {
	R, S *big.Int
}

// DERToRS converts a DER-encoded ECDSA signature to fixed 64-byte R||S form,
// each component big-endian and left-padded to 32 bytes.
func DERToRS(der []byte) ([]byte, error) {
	var sig ecdsaSignature
	rest, err := asn1.Unmarshal(der, &sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDER, err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: trailing bytes", ErrInvalidDER)
	}
	if sig.R == nil || sig.S == nil || sig.R.Sign() <= 0 || sig.S.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive component", ErrInvalidDER)
	}

	rb := sig.R.Bytes()
	sb := sig.S.Bytes()
	if len(rb) > 32 || len(sb) > 32 {
		return nil, fmt.Errorf("%w: component larger than curve size", ErrMalformedSignature)
	}

	out := make([]byte, 64)
	copy(out[32-len(rb):32], rb)
	copy(out[64-len(sb):], sb)
	return out, nil
}

// RSToDER converts a fixed 64-byte R||S signature to canonical DER.
func RSToDER(rs []byte) ([]byte, error) {
	if len(rs) != 64 {
		return nil, fmt.Errorf("%w: got %d bytes, want 64", ErrMalformedSignature, len(rs))
	}

	r := new(big.Int).SetBytes(rs[:32])
	s := new(big.Int).SetBytes(rs[32:])
	if r.Sign() == 0 || s.Sign() == 0 {
		return nil, fmt.Errorf("%w: zero component", ErrMalformedSignature)
	}

	return asn1.Marshal(ecdsaSignature{R: r, S: s})
}

// EncodeSignature encodes a wire signature as unpadded base64url.
func EncodeSignature(sig []byte) string {
	return base64.RawURLEncoding.EncodeToString(sig)
}

// DecodeSignature decodes an unpadded base64url wire signature.
func DecodeSignature(encoded string) ([]byte, error) {
	sig, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return sig, nil
}
