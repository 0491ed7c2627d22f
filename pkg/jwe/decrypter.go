// SPDX-License-Identifier: Apache-2.0

// Package jwe decrypts compact JWEs whose content-encryption key is held in
// AWS KMS. The CEK is unwrapped with RSAES_OAEP_SHA_256 either against a
// single resolved key id or through an ordered chain of rotating aliases,
// and the body is then decrypted locally with AES-GCM.
package jwe

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"

	apperrors "github.com/credentis/credentis/pkg/errors"
	"github.com/credentis/credentis/pkg/logger"
	"github.com/credentis/credentis/pkg/telemetry"
)

// compactJWEParts is the number of dot-separated segments in a compact JWE.
const compactJWEParts = 5

var keyBitsPattern = regexp.MustCompile(`\d+`)

// KMSClient is the subset of the KMS API the decrypter uses.
type KMSClient interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
	DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
}

// Config selects the CEK unwrap strategy.
type Config struct {
	// KeyAlias is the alias resolved (lazily, once) to the direct key id.
	KeyAlias string

	// RotationAliases is the ordered alias chain, newest first: active,
	// inactive, previous.
	RotationAliases []string

	// UseRotation selects the alias-rotation strategy over the direct one.
	UseRotation bool

	// LegacyFallback retries the direct key id once after the alias chain is
	// exhausted.
	LegacyFallback bool
}

// Decrypter decrypts compact JWEs. The resolved key id is memoized for the
// warm lifetime of the instance and can be invalidated on rotation without a
// process restart.
type Decrypter struct {
	kms KMSClient
	cfg Config

	mu    sync.Mutex
	keyID string
}

// NewDecrypter creates a Decrypter.
func NewDecrypter(client KMSClient, cfg Config) *Decrypter {
	return &Decrypter{kms: client, cfg: cfg}
}

// Decrypt recovers the plaintext of a compact JWE. The plaintext is the
// inner signed JWT, which the caller passes on to signature verification.
func (d *Decrypter) Decrypt(ctx context.Context, compactJWE string) ([]byte, error) {
	parts := strings.Split(compactJWE, ".")
	if len(parts) != compactJWEParts {
		return nil, apperrors.NewJweDecryptionError(
			fmt.Sprintf("Invalid number of JWE parts encountered: %d", len(parts)), nil)
	}

	header := parts[0]
	encryptedKey, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, apperrors.NewJweDecryptionError("failed to decode encrypted key", err)
	}
	iv, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, apperrors.NewJweDecryptionError("failed to decode initialization vector", err)
	}
	cipherText, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil {
		return nil, apperrors.NewJweDecryptionError("failed to decode ciphertext", err)
	}
	tag, err := base64.RawURLEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, apperrors.NewJweDecryptionError("failed to decode authentication tag", err)
	}

	cek, err := d.unwrapCEK(ctx, encryptedKey)
	if err != nil {
		return nil, err
	}

	keyBits, err := keySizeFromHeader(header)
	if err != nil {
		return nil, err
	}
	if len(cek)*8 != keyBits {
		return nil, apperrors.NewJweDecryptionError(
			fmt.Sprintf("content key is %d bits, header requires %d", len(cek)*8, keyBits), nil)
	}

	// AAD is the raw protected-header segment, not its decoded form.
	plaintext, err := decryptGCM(cek, iv, cipherText, tag, []byte(header))
	if err != nil {
		return nil, apperrors.NewJweDecryptionError("content decryption failed", err)
	}

	return plaintext, nil
}

// unwrapCEK obtains the content-encryption key via the configured strategy.
func (d *Decrypter) unwrapCEK(ctx context.Context, encryptedKey []byte) ([]byte, error) {
	if d.cfg.UseRotation {
		return d.unwrapWithRotation(ctx, encryptedKey)
	}
	return d.unwrapDirect(ctx, encryptedKey)
}

// unwrapDirect calls KMS once with the memoized key id. Failure is terminal.
func (d *Decrypter) unwrapDirect(ctx context.Context, encryptedKey []byte) ([]byte, error) {
	keyID, err := d.resolveKeyID(ctx)
	if err != nil {
		return nil, apperrors.NewJweDecryptionError("failed to resolve decryption key id", err)
	}

	out, err := d.kmsDecrypt(ctx, keyID, encryptedKey)
	if err != nil {
		return nil, apperrors.NewJweDecryptionError("KMS decryption of content key failed", err)
	}
	return out, nil
}

// unwrapWithRotation tries each alias in order, newest first. A session's
// JWE may have been encrypted under a key that has since been superseded,
// so the first success wins and each failure moves on to the next alias.
func (d *Decrypter) unwrapWithRotation(ctx context.Context, encryptedKey []byte) ([]byte, error) {
	tried := make([]string, 0, len(d.cfg.RotationAliases))
	for _, alias := range d.cfg.RotationAliases {
		out, err := d.kmsDecrypt(ctx, alias, encryptedKey)
		if err == nil {
			return out, nil
		}
		tried = append(tried, alias)
		logger.Warnw("KMS decrypt failed for alias", "alias", alias, "error", err)
	}

	telemetry.KMSAliasesExhausted.Inc()

	if d.cfg.LegacyFallback {
		logger.Info("all KMS aliases failed, retrying with legacy key id")
		return d.unwrapDirect(ctx, encryptedKey)
	}

	return nil, apperrors.NewJweDecryptionError(
		fmt.Sprintf("all aliases unavailable (tried %s)", strings.Join(tried, ", ")), nil)
}

func (d *Decrypter) kmsDecrypt(ctx context.Context, keyID string, encryptedKey []byte) ([]byte, error) {
	out, err := d.kms.Decrypt(ctx, &kms.DecryptInput{
		KeyId:               aws.String(keyID),
		CiphertextBlob:      encryptedKey,
		EncryptionAlgorithm: types.EncryptionAlgorithmSpecRsaesOaepSha256,
	})
	if err != nil {
		return nil, err
	}
	return out.Plaintext, nil
}

// resolveKeyID resolves the configured alias to a key id on first use and
// memoizes it for the lifetime of the instance.
func (d *Decrypter) resolveKeyID(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.keyID != "" {
		return d.keyID, nil
	}

	out, err := d.kms.DescribeKey(ctx, &kms.DescribeKeyInput{
		KeyId: aws.String(d.cfg.KeyAlias),
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe key %s: %w", d.cfg.KeyAlias, err)
	}
	if out.KeyMetadata == nil || out.KeyMetadata.KeyId == nil {
		return "", fmt.Errorf("describe key %s returned no key metadata", d.cfg.KeyAlias)
	}

	d.keyID = *out.KeyMetadata.KeyId
	logger.Debugw("resolved decryption key id", "alias", d.cfg.KeyAlias)
	return d.keyID, nil
}

// InvalidateKeyID drops the memoized key id so the next decryption resolves
// the alias again. Used when a key rotation is known to have happened.
func (d *Decrypter) InvalidateKeyID() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keyID = ""
}

// keySizeFromHeader derives the AES key size in bits from the digits in the
// protected header's enc value, e.g. A256GCM requires a 256-bit key.
func keySizeFromHeader(encodedHeader string) (int, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(encodedHeader)
	if err != nil {
		return 0, apperrors.NewJweDecryptionError("failed to decode protected header", err)
	}

	var header struct {
		Enc string `json:"enc"`
	}
	if err := json.Unmarshal(decoded, &header); err != nil {
		return 0, apperrors.NewJweDecryptionError("failed to parse protected header", err)
	}

	digits := keyBitsPattern.FindString(header.Enc)
	if digits == "" {
		return 0, apperrors.NewJweDecryptionError(
			fmt.Sprintf("cannot derive key size from enc value %q", header.Enc), nil)
	}

	bits, err := strconv.Atoi(digits)
	if err != nil {
		return 0, apperrors.NewJweDecryptionError(
			fmt.Sprintf("cannot derive key size from enc value %q", header.Enc), err)
	}
	return bits, nil
}

// decryptGCM performs the AES-GCM content decryption. Go's GCM implementation
// expects the tag appended to the ciphertext.
func decryptGCM(cek, iv, cipherText, tag, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(cipherText)+len(tag))
	sealed = append(sealed, cipherText...)
	sealed = append(sealed, tag...)

	return gcm.Open(nil, iv, sealed, aad)
}
