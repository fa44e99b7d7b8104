package anp_auth

import (
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/mr-tron/base58"

	"github.com/openanp/anp-runtime/crypto"
)

// VerificationMethod verifies signatures for one key entry of a DID document.
type VerificationMethod interface {
	// VerifySignature checks if the given base64url signature is valid for the content.
	VerifySignature(content []byte, signature string) bool
	// PublicKeyBytes returns the raw public key bytes.
	PublicKeyBytes() []byte
}

type rawKeyVerificationMethod struct {
	publicKey []byte
	signer    crypto.Signer
}

func (v *rawKeyVerificationMethod) PublicKeyBytes() []byte {
	return v.publicKey
}

func (v *rawKeyVerificationMethod) VerifySignature(content []byte, signature string) bool {
	sig, err := crypto.DecodeSignature(signature)
	if err != nil {
		return false
	}
	return v.signer.Verify(v.publicKey, content, sig) == nil
}

// PublicKeyBytesFromMethod extracts the raw public key from a verification
// method map, supporting publicKeyMultibase (base58btc, z-prefixed) and
// publicKeyJwk (kty=EC, crv=secp256k1; x and y concatenated as the
// uncompressed 65-byte form).
func PublicKeyBytesFromMethod(methodMap map[string]any) ([]byte, error) {
	if mb, ok := methodMap["publicKeyMultibase"].(string); ok && mb != "" {
		return decodeMultibaseKey(mb)
	}

	jwkMap, ok := methodMap["publicKeyJwk"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: no publicKeyMultibase or publicKeyJwk", ErrUnsupportedVerificationMethod)
	}
	return publicKeyBytesFromJWK(jwkMap)
}

func decodeMultibaseKey(encoded string) ([]byte, error) {
	if !strings.HasPrefix(encoded, "z") {
		return nil, fmt.Errorf("%w: unsupported multibase prefix %q", ErrUnsupportedVerificationMethod, encoded[:1])
	}
	raw, err := base58.Decode(encoded[1:])
	if err != nil {
		return nil, fmt.Errorf("invalid multibase key: %w", err)
	}

	// Strip a leading multicodec tag when present.
	switch {
	case len(raw) == 34 && raw[0] == 0xed && raw[1] == 0x01: // ed25519-pub
		return raw[2:], nil
	case len(raw) == 35 && raw[0] == 0xe7 && raw[1] == 0x01: // secp256k1-pub
		return raw[2:], nil
	default:
		return raw, nil
	}
}

func publicKeyBytesFromJWK(jwkMap map[string]any) ([]byte, error) {
	var jwk JWK
	jwkBytes, err := sonic.Marshal(jwkMap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal publicKeyJwk: %w", err)
	}
	if err := sonic.Unmarshal(jwkBytes, &jwk); err != nil {
		return nil, fmt.Errorf("failed to unmarshal publicKeyJwk: %w", err)
	}

	if jwk.Kty != JWKTypeEC || jwk.Crv != JWKCurveSecp256k1 {
		return nil, fmt.Errorf("%w: kty=%s, crv=%s", ErrUnsupportedVerificationMethod, jwk.Kty, jwk.Crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("invalid JWK 'x' coordinate: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(jwk.Y)
	if err != nil {
		return nil, fmt.Errorf("invalid JWK 'y' coordinate: %w", err)
	}

	// The JWK comes from a resolved DID document, so the coordinates are
	// caller-controlled bytes. Bound them before any fixed-width handling.
	if len(xBytes) > 32 || len(yBytes) > 32 {
		return nil, fmt.Errorf("%w: JWK coordinate of %d bytes", crypto.ErrUnsupportedKeyLength, max(len(xBytes), len(yBytes)))
	}

	x := new(big.Int).SetBytes(xBytes)
	y := new(big.Int).SetBytes(yBytes)
	if !crypto.Secp256k1().IsOnCurve(x, y) {
		return nil, fmt.Errorf("public key is not on the secp256k1 curve")
	}

	// Uncompressed SEC1 form: 0x04 || X || Y, each coordinate 32 bytes.
	out := make([]byte, 65)
	out[0] = 0x04
	x.FillBytes(out[1:33])
	y.FillBytes(out[33:])
	return out, nil
}

func newSecp256k1VerificationMethod(methodMap map[string]any) (VerificationMethod, error) {
	keyBytes, err := PublicKeyBytesFromMethod(methodMap)
	if err != nil {
		return nil, err
	}
	if _, err := crypto.ParseSecp256k1PublicKey(keyBytes); err != nil {
		return nil, err
	}
	return &rawKeyVerificationMethod{publicKey: keyBytes, signer: crypto.Secp256k1Signer{}}, nil
}

func newEd25519VerificationMethod(methodMap map[string]any) (VerificationMethod, error) {
	keyBytes, err := PublicKeyBytesFromMethod(methodMap)
	if err != nil {
		return nil, err
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("%w: %d bytes for ed25519", crypto.ErrUnsupportedKeyLength, len(keyBytes))
	}
	return &rawKeyVerificationMethod{publicKey: keyBytes, signer: crypto.Ed25519Signer{}}, nil
}

// VerificationMethodFactory maps verification method types to constructors.
var VerificationMethodFactory = map[string]func(map[string]any) (VerificationMethod, error){
	VerificationMethodEcdsaSecp256k1: newSecp256k1VerificationMethod,
	VerificationMethodEd25519_2018:   newEd25519VerificationMethod,
	VerificationMethodEd25519_2020:   newEd25519VerificationMethod,
}

// PublicKeyBytesByFragment returns the raw public key of the verification
// method referenced by the given URL fragment.
func PublicKeyBytesByFragment(doc *DIDWBADocument, fragment string) ([]byte, error) {
	methodMap, _, err := SelectVerificationMethodForFragment(doc, fragment)
	if err != nil {
		return nil, err
	}
	return PublicKeyBytesFromMethod(methodMap)
}

// CreateVerificationMethod creates a VerificationMethod based on the method type.
func CreateVerificationMethod(methodMap map[string]any) (VerificationMethod, error) {
	methodType, ok := methodMap["type"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: 'type' not found", ErrUnsupportedVerificationMethod)
	}

	factory, ok := VerificationMethodFactory[methodType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVerificationMethod, methodType)
	}

	return factory(methodMap)
}
