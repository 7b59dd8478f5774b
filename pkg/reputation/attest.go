package reputation

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
	"github.com/Mindburn-Labs/nondominium/pkg/crypto"
)

const attestationAudience = "nondominium.reputation"

// AttestationClaims carries a disclosed summary inside a JWT.
type AttestationClaims struct {
	jwt.RegisteredClaims
	Summary Summary `json:"summary"`
}

// Attest signs a derived summary as an EdDSA JWT so the agent can hand it
// to a third party. ttl <= 0 produces a token without expiry.
func Attest(summary *Summary, signer *crypto.Ed25519Signer, issuedAt time.Time, ttl time.Duration) (string, error) {
	if summary == nil {
		return "", contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, "reputation.Attest", "summary is nil")
	}
	if err := summary.VerifyDigest(); err != nil {
		return "", err
	}
	claims := AttestationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       summary.Digest,
			Issuer:   string(summary.Agent),
			Subject:  string(summary.Agent),
			Audience: jwt.ClaimStrings{attestationAudience},
			IssuedAt: jwt.NewNumericDate(issuedAt),
		},
		Summary: *summary,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(issuedAt.Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = signer.KeyID()
	signed, err := token.SignedString(signer.PrivateKey())
	if err != nil {
		return "", fmt.Errorf("reputation: sign attestation: %w", err)
	}
	return signed, nil
}

// VerifyAttestation checks the token signature against pub, the validity
// window at now and the summary digest, and returns the summary.
func VerifyAttestation(token string, pub ed25519.PublicKey, now time.Time) (*Summary, error) {
	const op = "reputation.VerifyAttestation"
	parsed, err := jwt.ParseWithClaims(token, &AttestationClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return pub, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithAudience(attestationAudience),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, contracts.NewError(contracts.KindValidation, contracts.CodeInvalidInput, op, err)
		}
		return nil, contracts.NewError(contracts.KindCrypto, contracts.CodeSignatureMismatch, op, err)
	}
	claims, ok := parsed.Claims.(*AttestationClaims)
	if !ok || !parsed.Valid {
		return nil, contracts.NewError(contracts.KindCrypto, contracts.CodeSignatureMismatch, op, jwt.ErrTokenSignatureInvalid)
	}
	if claims.Subject != string(claims.Summary.Agent) {
		return nil, contracts.Errorf(contracts.KindCrypto, contracts.CodeSignatureMismatch, op,
			"token subject %q does not match summary agent %q", claims.Subject, claims.Summary.Agent)
	}
	if err := claims.Summary.VerifyDigest(); err != nil {
		return nil, err
	}
	s := claims.Summary
	return &s, nil
}
