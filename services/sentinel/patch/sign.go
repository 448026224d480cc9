// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package patch

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"

	"github.com/gridwarden/gridwarden/pkg/logging"
)

// MinMlockLimitKB is the mlock budget a signer needs: one sealed seed
// plus memguard's own guard pages.
const MinMlockLimitKB = 64

var (
	secureMemOnce   sync.Once
	mlockSufficient bool
	mlockLimitKB    int64
)

// initSecureMemory initializes memguard once and records whether the
// kernel mlock limit can hold sealed key material.
func initSecureMemory() {
	secureMemOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, mlockLimitKB = checkMlockLimit()
	})
}

func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		// Cannot determine the limit; proceed and let mlock fail loudly.
		return true, -1
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

// Signer holds an Ed25519 signing seed sealed in mlocked memory. The
// seed only exists in plaintext inside Sign, in a locked buffer that is
// destroyed before returning.
type Signer struct {
	enclave *memguard.Enclave
	public  ed25519.PublicKey
}

// NewSigner seals a 32-byte Ed25519 seed. The seed slice is wiped as a
// side effect of sealing; callers must not reuse it.
//
// Refuses to run when the mlock limit cannot hold the sealed seed,
// unless GRIDWARDEN_INSECURE_MEMORY=true explicitly accepts swappable
// key material.
func NewSigner(seed []byte, log *logging.Logger) (*Signer, error) {
	initSecureMemory()
	if !mlockSufficient {
		if os.Getenv("GRIDWARDEN_INSECURE_MEMORY") != "true" {
			return nil, fmt.Errorf(
				"mlock limit insufficient for sealed keys: have %d KB, need %d KB. "+
					"Raise RLIMIT_MEMLOCK or set GRIDWARDEN_INSECURE_MEMORY=true",
				mlockLimitKB, MinMlockLimitKB)
		}
		if log != nil {
			log.Warn("signing with insecure memory, mlock limit too low",
				"limit_kb", mlockLimitKB, "required_kb", MinMlockLimitKB)
		}
	}

	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing seed is %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	private := ed25519.NewKeyFromSeed(seed)
	public := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(public, private.Public().(ed25519.PublicKey))

	// NewEnclave wipes seed for us.
	return &Signer{
		enclave: memguard.NewEnclave(seed),
		public:  public,
	}, nil
}

// GenerateSigner creates a signer with a fresh random seed.
func GenerateSigner(log *logging.Logger) (*Signer, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generate signing seed: %w", err)
	}
	return NewSigner(seed, log)
}

// Sign produces the detached Ed25519 signature the rollout verifier
// expects.
func (s *Signer) Sign(payload []byte) ([]byte, error) {
	buf, err := s.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("open signing enclave: %w", err)
	}
	defer buf.Destroy()

	private := ed25519.NewKeyFromSeed(buf.Bytes())
	return ed25519.Sign(private, payload), nil
}

// PublicKey returns the verification half of the sealed key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.public
}
