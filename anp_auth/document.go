package anp_auth

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/openanp/anp-runtime/crypto"
)

// CreateDIDDocument generates a DID document and a fresh secp256k1 key pair
// for a local agent. localID must be 16 hex digits; agentDescriptionURL, when
// non-empty, is published as an AgentDescription service entry.
func CreateDIDDocument(host string, port int, localID, agentDescriptionURL string) (*DIDWBADocument, *ecdsa.PrivateKey, error) {
	did, err := BuildDID(host, port, DIDTypeUser, localID)
	if err != nil {
		return nil, nil, err
	}

	privateKey, err := crypto.GenerateECKeyPair(crypto.Secp256k1())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	doc := DocumentForKey(did, &privateKey.PublicKey, agentDescriptionURL)
	return doc, privateKey, nil
}

// DocumentForKey builds a DID document around an existing secp256k1 public key.
func DocumentForKey(did string, publicKey *ecdsa.PublicKey, agentDescriptionURL string) *DIDWBADocument {
	verificationMethodID := fmt.Sprintf("%s#%s", did, DefaultVerificationMethodFragment)

	doc := &DIDWBADocument{
		Context: []string{
			ContextDIDV1,
			ContextJWS2020,
			ContextSecp256k12019,
		},
		ID: did,
		VerificationMethod: []map[string]any{
			{
				"id":           verificationMethodID,
				"type":         VerificationMethodEcdsaSecp256k1,
				"controller":   did,
				"publicKeyJwk": jwkToMap(BuildPublicKeyJWK(publicKey)),
			},
		},
		Authentication: []string{verificationMethodID},
	}

	if agentDescriptionURL != "" {
		doc.Service = []Service{{
			ID:              fmt.Sprintf("%s#ad", did),
			Type:            ServiceTypeAgentDescription,
			ServiceEndpoint: agentDescriptionURL,
		}}
	}

	return doc
}

// BuildPublicKeyJWK encodes a secp256k1 public key as a JWK with a kid
// derived from the SHA-256 of the compressed point.
func BuildPublicKeyJWK(publicKey *ecdsa.PublicKey) JWK {
	size := (publicKey.Curve.Params().BitSize + 7) / 8
	compressed := crypto.CompressPublicKey(publicKey)
	kidSum := sha256.Sum256(compressed)

	return JWK{
		Kty: JWKTypeEC,
		Crv: JWKCurveSecp256k1,
		X:   padAndEncode(publicKey.X, size),
		Y:   padAndEncode(publicKey.Y, size),
		Kid: base64.RawURLEncoding.EncodeToString(kidSum[:]),
	}
}

func padAndEncode(value *big.Int, size int) string {
	buf := value.Bytes()
	padded := make([]byte, size)
	copy(padded[size-len(buf):], buf)
	return base64.RawURLEncoding.EncodeToString(padded)
}

func jwkToMap(jwk JWK) map[string]any {
	m := map[string]any{
		"kty": jwk.Kty,
		"crv": jwk.Crv,
		"x":   jwk.X,
		"y":   jwk.Y,
	}
	if jwk.Kid != "" {
		m["kid"] = jwk.Kid
	}
	return m
}
