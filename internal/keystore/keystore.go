// Package keystore unlocks the keeper's signing account from a standard
// Ethereum v3 keystore directory and exposes it as a chain.Signer, via
// go-ethereum's accounts/keystore and a masked-password terminal prompt
// over golang.org/x/term.
package keystore

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	ethkeystore "github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/term"
)

// PassphraseEnvVar is checked before the operator is prompted interactively.
const PassphraseEnvVar = "KEEPER_KEYSTORE_PASSPHRASE"

// Source lazily resolves the keystore passphrase, caching it after the first
// successful read so an account unlocked mid-run is never re-prompted.
type Source struct {
	envVar string

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a passphrase source checking envVar before prompting.
func NewSource(envVar string) *Source {
	if strings.TrimSpace(envVar) == "" {
		envVar = PassphraseEnvVar
	}
	return &Source{envVar: envVar}
}

// Get returns the cached passphrase, resolving it on first call.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				s.err = fmt.Errorf("%s is set but empty", s.envVar)
				return
			}
			s.value = value
			return
		}

		if !term.IsTerminal(int(os.Stdin.Fd())) {
			s.err = fmt.Errorf("keystore passphrase required; set %s or run interactively", s.envVar)
			return
		}

		fmt.Fprint(os.Stderr, "Enter keystore passphrase: ")
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			s.err = fmt.Errorf("failed to read passphrase: %w", err)
			return
		}

		passphrase := string(bytes)
		if strings.TrimSpace(passphrase) == "" {
			s.err = errors.New("keystore passphrase cannot be empty")
			return
		}
		s.value = passphrase
	})
	return s.value, s.err
}

// Account wraps an unlocked go-ethereum keystore account as a signer.
type Account struct {
	ks      *ethkeystore.KeyStore
	account accounts.Account
}

// Unlock opens the keystore directory at dir, locates the single account
// (or the one matching preferredAddress when more than one key file is
// present), and unlocks it with a passphrase resolved from src.
func Unlock(dir string, preferredAddress common.Address, src *Source) (*Account, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("keystore: empty path")
	}
	ks := ethkeystore.NewKeyStore(dir, ethkeystore.StandardScryptN, ethkeystore.StandardScryptP)

	accts := ks.Accounts()
	if len(accts) == 0 {
		return nil, fmt.Errorf("keystore: no accounts found under %s", dir)
	}

	var chosen accounts.Account
	var zero common.Address
	if preferredAddress != zero {
		found := false
		for _, a := range accts {
			if a.Address == preferredAddress {
				chosen = a
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("keystore: account %s not found under %s", preferredAddress, dir)
		}
	} else {
		if len(accts) > 1 {
			return nil, fmt.Errorf("keystore: %d accounts found under %s, specify an address", len(accts), dir)
		}
		chosen = accts[0]
	}

	passphrase, err := src.Get()
	if err != nil {
		return nil, err
	}
	if err := ks.Unlock(chosen, passphrase); err != nil {
		return nil, fmt.Errorf("keystore: unlock %s: %w", chosen.Address, err)
	}

	return &Account{ks: ks, account: chosen}, nil
}

// Address returns the unlocked account's address.
func (a *Account) Address() common.Address {
	return a.account.Address
}

// SignTx signs tx for the given chain using EIP-155 replay protection.
func (a *Account) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return a.ks.SignTx(a.account, tx, chainID)
}
