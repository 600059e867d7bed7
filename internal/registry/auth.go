package registry

import (
	"crypto/ecdsa"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/firmswap/firmswap/internal/pkg/apperrors"
)

// ClockSkew is the maximum allowed difference between a registration
// message's timestamp and the server's clock.
const ClockSkew = 5 * time.Minute

// RegisterRequest is the auth payload for a register call. Name is a
// display label only; it is not part of the signed message.
type RegisterRequest struct {
	Address   string
	Endpoint  string
	Name      string
	Timestamp int64 // unix millis
	Signature string
}

// UnregisterRequest is the auth payload for an unregister call.
type UnregisterRequest struct {
	Timestamp int64
	Signature string
}

// registrationMessage builds the canonical message signed for registration.
func registrationMessage(address string, endpoint string, timestampMs int64) string {
	return fmt.Sprintf("FirmSwap Solver Registration\nAddress: %s\nEndpoint: %s\nTimestamp: %d",
		strings.ToLower(address), endpoint, timestampMs)
}

// unregistrationMessage builds the canonical message signed for unregistration.
func unregistrationMessage(address string, timestampMs int64) string {
	return fmt.Sprintf("FirmSwap Solver Unregistration\nAddress: %s\nTimestamp: %d",
		strings.ToLower(address), timestampMs)
}

// VerifyRegistration checks the EIP-191 personal_sign signature over the
// registration message and the clock-skew bound, returning the recovered
// (and thus authenticated) solver address.
func VerifyRegistration(req RegisterRequest, now time.Time) (common.Address, error) {
	if !common.IsHexAddress(req.Address) {
		return common.Address{}, invalidAddress(req.Address)
	}
	if err := checkTimestamp(req.Timestamp, now); err != nil {
		return common.Address{}, err
	}
	msg := registrationMessage(req.Address, req.Endpoint, req.Timestamp)
	recovered, err := recoverPersonalSign(msg, req.Signature)
	if err != nil {
		return common.Address{}, apperrors.New(apperrors.ErrInvalidSignature, "could not recover signer", err)
	}
	claimed := common.HexToAddress(req.Address)
	if recovered != claimed {
		return common.Address{}, apperrors.New(apperrors.ErrInvalidSignature, "recovered signer does not match claimed address", nil)
	}
	return claimed, nil
}

// VerifyUnregistration checks the EIP-191 signature over the
// unregistration message against the claimed address.
func VerifyUnregistration(claimed common.Address, req UnregisterRequest, now time.Time) (common.Address, error) {
	if err := checkTimestamp(req.Timestamp, now); err != nil {
		return common.Address{}, err
	}
	msg := unregistrationMessage(claimed.Hex(), req.Timestamp)
	recovered, err := recoverPersonalSign(msg, req.Signature)
	if err != nil {
		return common.Address{}, apperrors.New(apperrors.ErrInvalidSignature, "could not recover signer", err)
	}
	if recovered != claimed {
		return common.Address{}, apperrors.New(apperrors.ErrInvalidSignature, "recovered signer does not match claimed address", nil)
	}
	return claimed, nil
}

func checkTimestamp(timestampMs int64, now time.Time) error {
	ts := time.UnixMilli(timestampMs)
	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > ClockSkew {
		return apperrors.New(apperrors.ErrInvalidRequest, "registration timestamp outside the allowed clock skew", nil)
	}
	return nil
}

// recoverPersonalSign recovers the signer of an EIP-191 personal_sign
// signature over msg (the "\x19Ethereum Signed Message:\n<len>" prefix
// convention).
func recoverPersonalSign(msg string, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	prefixed := []byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg))
	hash := crypto.Keccak256Hash(prefixed)

	pub, err := crypto.SigToPub(hash.Bytes(), normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SignRegistration is a helper for the reference solver / test fixtures:
// it produces the signature a solver's private key would submit for
// registration.
func SignRegistration(key *ecdsa.PrivateKey, address, endpoint string, timestampMs int64) (string, error) {
	msg := registrationMessage(address, endpoint, timestampMs)
	return signPersonal(key, msg)
}

// SignUnregistration mirrors SignRegistration for the unregister message.
func SignUnregistration(key *ecdsa.PrivateKey, address string, timestampMs int64) (string, error) {
	msg := unregistrationMessage(address, timestampMs)
	return signPersonal(key, msg)
}

func signPersonal(key *ecdsa.PrivateKey, msg string) (string, error) {
	prefixed := []byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg))
	hash := crypto.Keccak256Hash(prefixed)
	sig, err := crypto.Sign(hash.Bytes(), key)
	if err != nil {
		return "", err
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return hexutil.Encode(sig), nil
}
