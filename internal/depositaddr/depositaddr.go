// Package depositaddr computes the deterministic CREATE2 address-deposit
// target: the last 20 bytes of
// keccak256(0xff || engine || salt || codeHash). The orderId is the salt;
// codeHash is the keccak256 of the sweep proxy's init code concatenated
// with its ABI-encoded constructor args (the engine address it answers to).
package depositaddr

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ProxyInitCode is the minimal sweep proxy's init code: a contract whose
// only capability is transferring its entire balance of a given ERC-20 to
// a destination when called by the deploying engine. The bytecode itself
// is out of scope for this module (it belongs to the settlement engine's
// on-chain counterpart); this package only needs its hash.
var ProxyInitCode = []byte{}

// CodeHash returns keccak256(initCode || encode(constructorArgs...)), the
// hash CREATE2 derives the proxy's address from. Constructor args are
// ABI-encoded as left-padded 32-byte words in declaration order, matching
// the struct-hash encoding used throughout this codebase.
func CodeHash(initCode []byte, constructorArgs ...common.Address) common.Hash {
	data := make([]byte, len(initCode)+32*len(constructorArgs))
	n := copy(data, initCode)
	for _, arg := range constructorArgs {
		copy(data[n+12:n+32], arg.Bytes())
		n += 32
	}
	return crypto.Keccak256Hash(data[:n])
}

// Derive computes the CREATE2 deposit address for the given engine, salt
// (the order id), and proxy code hash.
func Derive(engine common.Address, salt common.Hash, codeHash common.Hash) common.Address {
	data := make([]byte, 0, 1+20+32+32)
	data = append(data, 0xff)
	data = append(data, engine.Bytes()...)
	data = append(data, salt.Bytes()...)
	data = append(data, codeHash.Bytes()...)
	hash := crypto.Keccak256(data)
	return common.BytesToAddress(hash[12:])
}
