package tlsconfig

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des" //nolint:staticcheck // PBES1 3DES support for legacy encrypted PKCS#8 keys
	"crypto/sha256"
	"encoding/asn1"
	"encoding/pem"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// pkcs8EncryptedKey mirrors the ASN.1 EncryptedPrivateKeyInfo structure.
type pkcs8EncryptedKey struct {
	Algo          pkcs8AlgorithmIdentifier
	EncryptedData []byte
}

type pkcs8AlgorithmIdentifier struct {
	Algorithm asn1.ObjectIdentifier
	Params    asn1.RawValue
}

// pbes2Params mirrors PBES2-params.
type pbes2Params struct {
	KeyDerivationFunc pkcs8AlgorithmIdentifier
	EncryptionScheme  pkcs8AlgorithmIdentifier
}

// pbkdf2Params mirrors PBKDF2-params.
type pbkdf2Params struct {
	Salt           []byte
	IterationCount int
	KeyLength      int `asn1:"optional"`
	PRF            pkcs8AlgorithmIdentifier `asn1:"optional"`
}

var oidPBES2 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 5, 13}
var oidPBKDF2 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 5, 12}
var oidAES256CBC = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 1, 42}
var oidAES128CBC = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 1, 2}
var oidDESEDE3CBC = asn1.ObjectIdentifier{1, 2, 840, 113549, 3, 7}

// isEncryptedPKCS8 reports whether block looks like an
// "ENCRYPTED PRIVATE KEY" PEM block rather than a plain PKCS#8 one.
func isEncryptedPKCS8(block *pem.Block) bool {
	return block.Type == "ENCRYPTED PRIVATE KEY"
}

// decryptPKCS8 decrypts a PBES2-wrapped PKCS#8 key (PBKDF2 + AES-CBC or
// DES-EDE3-CBC, the two schemes OpenSSL produces by default) into a plain
// PKCS#8 DER blob.
func decryptPKCS8(der []byte, password string) ([]byte, error) {
	var enc pkcs8EncryptedKey
	if _, err := asn1.Unmarshal(der, &enc); err != nil {
		return nil, fmt.Errorf("parse EncryptedPrivateKeyInfo: %w", err)
	}
	if !enc.Algo.Algorithm.Equal(oidPBES2) {
		return nil, fmt.Errorf("unsupported encryption scheme %v (only PBES2 is supported)", enc.Algo.Algorithm)
	}

	var params pbes2Params
	if _, err := asn1.Unmarshal(enc.Algo.Params.FullBytes, &params); err != nil {
		return nil, fmt.Errorf("parse PBES2-params: %w", err)
	}
	if !params.KeyDerivationFunc.Algorithm.Equal(oidPBKDF2) {
		return nil, fmt.Errorf("unsupported key derivation function %v (only PBKDF2 is supported)", params.KeyDerivationFunc.Algorithm)
	}

	var kdf pbkdf2Params
	if _, err := asn1.Unmarshal(params.KeyDerivationFunc.Params.FullBytes, &kdf); err != nil {
		return nil, fmt.Errorf("parse PBKDF2-params: %w", err)
	}

	keyLen, blockCipher, err := cipherForOID(params.EncryptionScheme.Algorithm)
	if err != nil {
		return nil, err
	}

	var iv []byte
	if _, err := asn1.Unmarshal(params.EncryptionScheme.Params.FullBytes, &iv); err != nil {
		return nil, fmt.Errorf("parse cipher IV: %w", err)
	}

	key := pbkdf2.Key([]byte(password), kdf.Salt, kdf.IterationCount, keyLen, sha256.New)

	block, err := blockCipher(key)
	if err != nil {
		return nil, fmt.Errorf("construct cipher: %w", err)
	}
	if len(enc.EncryptedData)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("encrypted data is not a multiple of the block size (wrong password?)")
	}

	plain := make([]byte, len(enc.EncryptedData))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, enc.EncryptedData)

	return unpadPKCS7(plain)
}

func cipherForOID(oid asn1.ObjectIdentifier) (keyLen int, newBlock func([]byte) (cipher.Block, error), err error) {
	switch {
	case oid.Equal(oidAES256CBC):
		return 32, aes.NewCipher, nil
	case oid.Equal(oidAES128CBC):
		return 16, aes.NewCipher, nil
	case oid.Equal(oidDESEDE3CBC):
		return 24, des.NewTripleDESCipher, nil
	default:
		return 0, nil, fmt.Errorf("unsupported cipher %v", oid)
	}
}

func unpadPKCS7(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty plaintext")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, fmt.Errorf("invalid PKCS#7 padding (wrong password?)")
	}
	return data[:len(data)-padLen], nil
}
