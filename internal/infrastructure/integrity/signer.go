package integrity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/saaskit/backend/internal/application/billing"
	"github.com/saaskit/backend/internal/domain/audit"
	"github.com/saaskit/backend/internal/domain/shared"
)

// ErrSealBroken indicates an audit record's checksum or signature no longer
// matches its content. The record was modified after it was written.
var ErrSealBroken = shared.NewDomainError("AUDIT_SEAL_BROKEN", "Audit record failed integrity verification")

// HMACSigner seals audit records with a SHA-256 checksum of the canonical
// payload and an HMAC-SHA256 signature keyed by the deployment signing key.
// The checksum detects accidental corruption; the signature detects tampering
// by anyone without the key.
type HMACSigner struct {
	key []byte
}

// NewHMACSigner creates a signer from the deployment signing key
func NewHMACSigner(signingKey string) (*HMACSigner, error) {
	if signingKey == "" {
		return nil, fmt.Errorf("integrity signing key is required")
	}
	return &HMACSigner{key: []byte(signingKey)}, nil
}

// Seal computes and stores the record's checksum and signature
func (s *HMACSigner) Seal(record *audit.Record) error {
	checksum, signature, err := s.compute(record)
	if err != nil {
		return err
	}
	record.Seal(checksum, signature)
	return nil
}

// Verify recomputes the seal and compares it against the stored values
func (s *HMACSigner) Verify(record *audit.Record) error {
	checksum, signature, err := s.compute(record)
	if err != nil {
		return err
	}
	if record.Checksum != checksum {
		return ErrSealBroken
	}
	if !hmac.Equal([]byte(record.Signature), []byte(signature)) {
		return ErrSealBroken
	}
	return nil
}

func (s *HMACSigner) compute(record *audit.Record) (checksum, signature string, err error) {
	payload, err := record.CanonicalPayload()
	if err != nil {
		return "", "", fmt.Errorf("failed to serialize audit record: %w", err)
	}

	digest := sha256.Sum256(payload)

	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)

	return hex.EncodeToString(digest[:]), hex.EncodeToString(mac.Sum(nil)), nil
}

// Ensure HMACSigner implements IntegritySigner
var _ billing.IntegritySigner = (*HMACSigner)(nil)
