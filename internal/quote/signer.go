package quote

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer holds a solver's private key and pre-computed domain separator:
// a single-purpose EIP-712 signer.
type Signer struct {
	key               *ecdsa.PrivateKey
	address           common.Address
	chainID           int64
	verifyingContract common.Address
	domainSeparator   common.Hash
}

func NewSigner(privateKeyHex string, chainID int64, verifyingContract common.Address) (*Signer, error) {
	if privateKeyHex == "" {
		return nil, fmt.Errorf("private key is required")
	}
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %v", err)
	}

	publicKey := key.Public()
	publicKeyECDSA, ok := publicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("error casting public key to ECDSA")
	}
	address := crypto.PubkeyToAddress(*publicKeyECDSA)

	return &Signer{
		key:               key,
		address:           address,
		chainID:           chainID,
		verifyingContract: verifyingContract,
		domainSeparator:   DomainSeparator(chainID, verifyingContract),
	}, nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

// Sign produces a 65-byte [R || S || V] signature over the quote's typed
// digest, with V normalized to 27/28.
func (s *Signer) Sign(q *Quote) ([]byte, error) {
	structHash := q.StructHash()
	digest := crypto.Keccak256([]byte{0x19, 0x01}, s.domainSeparator.Bytes(), structHash.Bytes())

	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, err
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// Recover recovers the signer address from a quote and its 65-byte
// signature, verified against the given chain id and verifying contract.
// Used by the settlement engine and the aggregator's verification step.
func Recover(q *Quote, sig []byte, chainID int64, verifyingContract common.Address) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	digest := q.Digest(chainID, verifyingContract)

	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifiesAsSolver reports whether sig recovers to q.Solver.
func VerifiesAsSolver(q *Quote, sig []byte, chainID int64, verifyingContract common.Address) bool {
	recovered, err := Recover(q, sig, chainID, verifyingContract)
	if err != nil {
		return false
	}
	return recovered == q.Solver
}
