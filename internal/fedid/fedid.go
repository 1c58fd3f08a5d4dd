// Package fedid implements the federation's identity primitives: Ed25519
// keypairs, did:key identifiers, signing, and pluggable key resolution. The
// derivation and encoding choices mirror core/wallet.go's HD wallet, scaled
// down to the single-keypair-per-identity shape the core's DAG nodes sign
// with.
package fedid

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/multiformats/go-multibase"
	"github.com/tyler-smith/go-bip39"
)

// ed25519MulticodecPrefix tags a multibase-encoded Ed25519 public key per
// the did:key method, same two leading bytes original_source's did.rs uses.
var ed25519MulticodecPrefix = [2]byte{0xed, 0x01}

// DID is a did:key identifier string, e.g. "did:key:z6Mk...".
type DID string

// KeyResolutionFailedError is returned by a KeyResolver that cannot produce
// a public key for a DID.
type KeyResolutionFailedError struct {
	DID DID
	Err error
}

func (e *KeyResolutionFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fedid: resolve %s: %v", e.DID, e.Err)
	}
	return fmt.Sprintf("fedid: resolve %s: not found", e.DID)
}

func (e *KeyResolutionFailedError) Unwrap() error { return e.Err }

// ErrInvalidDID is returned when a DID string is not a well-formed did:key
// identifier over an Ed25519 public key.
var ErrInvalidDID = errors.New("fedid: invalid did:key identifier")

// Identity wraps an Ed25519 keypair and the DID derived from its public key.
type Identity struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	did  DID
}

// New generates a fresh random Identity.
func New() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("fedid: generate key: %w", err)
	}
	return fromKeys(pub, priv)
}

// NewFromMnemonic derives an Identity from a BIP-39 mnemonic phrase and an
// optional passphrase, for recoverable node identities.
func NewFromMnemonic(mnemonic, passphrase string) (*Identity, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("fedid: invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	if len(seed) < ed25519.SeedSize {
		return nil, errors.New("fedid: mnemonic seed too short")
	}
	priv := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
	return fromKeys(priv.Public().(ed25519.PublicKey), priv)
}

// NewMnemonic generates a fresh BIP-39 mnemonic suitable for NewFromMnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("fedid: generate entropy: %w", err)
	}
	return bip39.NewMnemonic(entropy)
}

// FromPrivateKey wraps an existing Ed25519 private key as an Identity.
func FromPrivateKey(priv ed25519.PrivateKey) (*Identity, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("fedid: invalid private key size")
	}
	return fromKeys(priv.Public().(ed25519.PublicKey), priv)
}

func fromKeys(pub ed25519.PublicKey, priv ed25519.PrivateKey) (*Identity, error) {
	did, err := DIDFromPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return &Identity{priv: priv, pub: pub, did: did}, nil
}

// DID returns the identity's did:key identifier.
func (id *Identity) DID() DID { return id.did }

// PublicKey returns the identity's Ed25519 public key.
func (id *Identity) PublicKey() ed25519.PublicKey { return id.pub }

// Sign produces an Ed25519 signature over data.
func (id *Identity) Sign(data []byte) []byte {
	return ed25519.Sign(id.priv, data)
}

// DIDFromPublicKey derives the did:key identifier for an Ed25519 public key.
func DIDFromPublicKey(pub ed25519.PublicKey) (DID, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", errors.New("fedid: invalid public key size")
	}
	tagged := make([]byte, 0, 2+len(pub))
	tagged = append(tagged, ed25519MulticodecPrefix[:]...)
	tagged = append(tagged, pub...)
	enc, err := multibase.Encode(multibase.Base58BTC, tagged)
	if err != nil {
		return "", fmt.Errorf("fedid: encode did: %w", err)
	}
	return DID("did:key:" + enc), nil
}

// PublicKey decodes the Ed25519 public key embedded in a did:key identifier.
func (d DID) PublicKey() (ed25519.PublicKey, error) {
	s := string(d)
	const prefix = "did:key:"
	if !strings.HasPrefix(s, prefix) {
		return nil, ErrInvalidDID
	}
	_, data, err := multibase.Decode(strings.TrimPrefix(s, prefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDID, err)
	}
	if len(data) != 2+ed25519.PublicKeySize || data[0] != ed25519MulticodecPrefix[0] || data[1] != ed25519MulticodecPrefix[1] {
		return nil, ErrInvalidDID
	}
	pub := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(pub, data[2:])
	return pub, nil
}

// Verify checks an Ed25519 signature against the public key encoded in d.
func (d DID) Verify(data, sig []byte) (bool, error) {
	pub, err := d.PublicKey()
	if err != nil {
		return false, err
	}
	return ed25519.Verify(pub, data, sig), nil
}

// KeyResolver resolves a DID to the Ed25519 public key it should verify
// against. Implementations may consult a trust bundle, a membership index,
// or simply decode the DID itself (the default, self-describing case).
type KeyResolver interface {
	Resolve(did DID) (ed25519.PublicKey, error)
}

// SelfResolver resolves any DID directly from its own encoded public key,
// performing no membership or trust check. It is the default resolver for
// components that only need cryptographic validity, not authorization.
type SelfResolver struct{}

func (SelfResolver) Resolve(did DID) (ed25519.PublicKey, error) {
	pub, err := did.PublicKey()
	if err != nil {
		return nil, &KeyResolutionFailedError{DID: did, Err: err}
	}
	return pub, nil
}

// StaticResolver resolves a fixed set of DIDs, for tests and small trust
// sets known in advance.
type StaticResolver map[DID]ed25519.PublicKey

func (s StaticResolver) Resolve(did DID) (ed25519.PublicKey, error) {
	pub, ok := s[did]
	if !ok {
		return nil, &KeyResolutionFailedError{DID: did}
	}
	return pub, nil
}
