// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package patch

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/mod/semver"
)

// ErrSignatureInvalid covers every artifact integrity failure: checksum
// mismatch, signature rejection, or an artifact signed by an untrusted
// key. Rollouts failing this way end in the rejected state.
var ErrSignatureInvalid = errors.New("patch signature invalid")

// VerifyArtifact checks a decoded patch artifact before it may apply.
//
// Order matters: the cheap checksum comparison runs before the
// signature check, and the version gate runs last so a tampered
// artifact is reported as tampering, not as a version problem. The
// target version must be strictly newer than the component's current
// firmware; downgrades and re-installs are refused.
func VerifyArtifact(payload []byte, checksumHex string, signature []byte, trusted []ed25519.PublicKey, currentVersion, targetVersion string) error {
	declared, err := hex.DecodeString(checksumHex)
	if err != nil || len(declared) != sha256.Size {
		return fmt.Errorf("%w: malformed checksum", ErrSignatureInvalid)
	}
	actual := sha256.Sum256(payload)
	if subtle.ConstantTimeCompare(declared, actual[:]) != 1 {
		return fmt.Errorf("%w: checksum mismatch", ErrSignatureInvalid)
	}

	if len(trusted) == 0 {
		return fmt.Errorf("%w: no trusted signing keys configured", ErrSignatureInvalid)
	}
	if len(signature) != ed25519.SignatureSize {
		return fmt.Errorf("%w: malformed signature", ErrSignatureInvalid)
	}
	verified := false
	for _, key := range trusted {
		if ed25519.Verify(key, payload, signature) {
			verified = true
			break
		}
	}
	if !verified {
		return fmt.Errorf("%w: no trusted key verifies the artifact", ErrSignatureInvalid)
	}

	target := canonicalVersion(targetVersion)
	if !semver.IsValid(target) {
		return fmt.Errorf("target version %q is not valid semver", targetVersion)
	}
	current := canonicalVersion(currentVersion)
	if semver.IsValid(current) && semver.Compare(target, current) <= 0 {
		return fmt.Errorf("target version %s is not newer than installed %s", targetVersion, currentVersion)
	}
	return nil
}

// canonicalVersion accepts both "1.2.3" and "v1.2.3" spellings.
func canonicalVersion(v string) string {
	if v == "" {
		return v
	}
	if v[0] != 'v' {
		return "v" + v
	}
	return v
}

// ParsePublicKey decodes a hex-encoded Ed25519 public key, the format
// trusted keys take in service configuration.
func ParsePublicKey(hexKey string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key is %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}
