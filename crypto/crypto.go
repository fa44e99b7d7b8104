// Package crypto provides the cryptographic primitives for the agent runtime:
// secp256k1 and Ed25519 signing, signature encoding (DER and fixed-width R||S),
// and PEM serialization of secp256k1 keys.
//
// Standard x509 functions reject the secp256k1 curve, so PEM handling here
// encodes and parses the PKCS#8 structures directly. The output matches what
// the reference SDK writes into user directories, which keeps key files
// interchangeable between implementations.
package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Secp256k1 returns the secp256k1 curve implementation.
func Secp256k1() elliptic.Curve {
	return ethcrypto.S256()
}

// GenerateECKeyPair generates an ECDSA private key on the given curve.
func GenerateECKeyPair(curve elliptic.Curve) (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(curve, rand.Reader)
}

// OIDs used for secp256k1 PKCS#8 encoding.
var (
	oidPublicKeyECDSA      = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidNamedCurveSecp256k1 = asn1.ObjectIdentifier{1, 3, 132, 0, 10}
)

type pkcs8AlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type pkcs8PrivateKey struct {
	Version    int
	Algo       pkcs8AlgorithmIdentifier
	PrivateKey []byte
}

type subjectPublicKeyInfo struct {
	Algo      pkcs8AlgorithmIdentifier
	PublicKey asn1.BitString
}

type ecPrivateKey struct {
	Version       int
	PrivateKey    []byte
	NamedCurveOID asn1.ObjectIdentifier `asn1:"explicit,tag:0,optional"`
	PublicKey     asn1.BitString        `asn1:"explicit,tag:1,optional"`
}

func curveByteSize(curve elliptic.Curve) int {
	return (curve.Params().BitSize + 7) / 8
}

func marshalECPrivateKey(key *ecdsa.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, errors.New("private key is nil")
	}

	size := curveByteSize(key.Curve)
	priv := make([]byte, size)
	dBytes := key.D.Bytes()
	copy(priv[size-len(dBytes):], dBytes)

	pubBytes := elliptic.Marshal(key.Curve, key.X, key.Y)

	ecKey := ecPrivateKey{
		Version:       1,
		PrivateKey:    priv,
		NamedCurveOID: oidNamedCurveSecp256k1,
		PublicKey: asn1.BitString{
			Bytes:     pubBytes,
			BitLength: len(pubBytes) * 8,
		},
	}

	return asn1.Marshal(ecKey)
}

// PrivateKeyToPEM serializes a secp256k1 private key as PKCS#8 PEM.
func PrivateKeyToPEM(privateKey *ecdsa.PrivateKey) ([]byte, error) {
	if privateKey == nil {
		return nil, errors.New("private key is nil")
	}

	if privateKey.Curve != Secp256k1() {
		return nil, fmt.Errorf("unsupported curve for PKCS#8 export: %T", privateKey.Curve)
	}

	ecKey, err := marshalECPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal EC private key: %w", err)
	}

	params, err := asn1.Marshal(oidNamedCurveSecp256k1)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal curve oid: %w", err)
	}

	pkcs8Key := pkcs8PrivateKey{
		Version: 0,
		Algo: pkcs8AlgorithmIdentifier{
			Algorithm:  oidPublicKeyECDSA,
			Parameters: asn1.RawValue{FullBytes: params},
		},
		PrivateKey: ecKey,
	}

	der, err := asn1.Marshal(pkcs8Key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal PKCS#8 key: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// PublicKeyToPEM serializes a secp256k1 public key as SubjectPublicKeyInfo PEM.
func PublicKeyToPEM(publicKey *ecdsa.PublicKey) ([]byte, error) {
	if publicKey == nil {
		return nil, errors.New("public key is nil")
	}
	if publicKey.Curve != Secp256k1() {
		return nil, fmt.Errorf("unsupported curve for SPKI export: %T", publicKey.Curve)
	}

	params, err := asn1.Marshal(oidNamedCurveSecp256k1)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal curve oid: %w", err)
	}

	pubBytes := elliptic.Marshal(publicKey.Curve, publicKey.X, publicKey.Y)
	spki := subjectPublicKeyInfo{
		Algo: pkcs8AlgorithmIdentifier{
			Algorithm:  oidPublicKeyECDSA,
			Parameters: asn1.RawValue{FullBytes: params},
		},
		PublicKey: asn1.BitString{
			Bytes:     pubBytes,
			BitLength: len(pubBytes) * 8,
		},
	}

	der, err := asn1.Marshal(spki)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal SPKI: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

func parseECPrivateKeyDER(der []byte) (*ecdsa.PrivateKey, error) {
	var ecKey ecPrivateKey
	if _, err := asn1.Unmarshal(der, &ecKey); err != nil {
		return nil, fmt.Errorf("failed to parse EC private key: %w", err)
	}

	if len(ecKey.NamedCurveOID) > 0 && !ecKey.NamedCurveOID.Equal(oidNamedCurveSecp256k1) {
		return nil, fmt.Errorf("unexpected curve OID: %v", ecKey.NamedCurveOID)
	}

	curve := Secp256k1()
	size := curveByteSize(curve)
	if len(ecKey.PrivateKey) != size {
		return nil, fmt.Errorf("invalid private key length: got %d want %d", len(ecKey.PrivateKey), size)
	}

	return PrivateKeyFromScalar(ecKey.PrivateKey)
}

func parsePKCS8PrivateKey(der []byte) (*ecdsa.PrivateKey, error) {
	var pkcs8 pkcs8PrivateKey
	if _, err := asn1.Unmarshal(der, &pkcs8); err != nil {
		return nil, fmt.Errorf("failed to parse PKCS#8 structure: %w", err)
	}

	if !pkcs8.Algo.Algorithm.Equal(oidPublicKeyECDSA) {
		return nil, fmt.Errorf("unexpected algorithm OID: %v", pkcs8.Algo.Algorithm)
	}

	var curveOID asn1.ObjectIdentifier
	if len(pkcs8.Algo.Parameters.FullBytes) > 0 {
		if _, err := asn1.Unmarshal(pkcs8.Algo.Parameters.FullBytes, &curveOID); err != nil {
			return nil, fmt.Errorf("failed to parse curve parameters: %w", err)
		}
	}

	if len(curveOID) == 0 {
		curveOID = oidNamedCurveSecp256k1
	}

	if !curveOID.Equal(oidNamedCurveSecp256k1) {
		return nil, fmt.Errorf("unexpected curve parameters OID: %v", curveOID)
	}

	return parseECPrivateKeyDER(pkcs8.PrivateKey)
}

// PrivateKeyFromPEM parses a PEM-encoded secp256k1 private key.
// Accepts PKCS#8 ("PRIVATE KEY") and SEC1 ("EC PRIVATE KEY") blocks; a 32-byte
// EC PRIVATE KEY block is treated as a raw scalar for compatibility with
// earlier key files.
func PrivateKeyFromPEM(pemBytes []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	switch block.Type {
	case "PRIVATE KEY":
		return parsePKCS8PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		if len(block.Bytes) == 32 {
			privKey, err := ethcrypto.ToECDSA(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse raw EC private key: %w", err)
			}
			return privKey, nil
		}
		return parseECPrivateKeyDER(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported PEM block type: %s", block.Type)
	}
}

// PublicKeyFromPEM parses a PEM-encoded secp256k1 public key.
func PublicKeyFromPEM(pemBytes []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	if block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("unsupported PEM block type: %s", block.Type)
	}

	var spki subjectPublicKeyInfo
	if _, err := asn1.Unmarshal(block.Bytes, &spki); err != nil {
		return nil, fmt.Errorf("failed to parse SPKI structure: %w", err)
	}
	if !spki.Algo.Algorithm.Equal(oidPublicKeyECDSA) {
		return nil, fmt.Errorf("unexpected algorithm OID: %v", spki.Algo.Algorithm)
	}

	return ParseSecp256k1PublicKey(spki.PublicKey.Bytes)
}

// PrivateKeyFromScalar builds a secp256k1 private key from a 32-byte scalar.
func PrivateKeyFromScalar(scalar []byte) (*ecdsa.PrivateKey, error) {
	curve := Secp256k1()
	if len(scalar) != curveByteSize(curve) {
		return nil, fmt.Errorf("invalid scalar length: got %d want %d", len(scalar), curveByteSize(curve))
	}

	d := new(big.Int).SetBytes(scalar)
	if d.Sign() <= 0 || d.Cmp(curve.Params().N) >= 0 {
		return nil, errors.New("invalid private key scalar")
	}

	x, y := curve.ScalarBaseMult(scalar)
	return &ecdsa.PrivateKey{PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y}, D: d}, nil
}
