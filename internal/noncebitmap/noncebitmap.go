// Package noncebitmap implements per-solver single-use nonce tracking:
// nonce n occupies bit n mod 256 of word n / 256.
// Storage is a sparse map of 256-bit words per solver, addressed exactly the
// way markMany addresses them, so memory is bounded by the number of words
// a solver has actually touched rather than by the numeric value of its
// largest nonce (nonces are unbounded 256-bit values).
package noncebitmap

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/firmswap/firmswap/internal/pkg/apperrors"
)

const wordBits = 256

var bitMask = big.NewInt(wordBits - 1)

// wordKey is a word index's big-endian bytes, used as a fixed-size map key
// so a word index anywhere in the 248-bit range addresses a map
// entry instead of an array slot.
type wordKey [32]byte

func keyFor(wordIndex *big.Int) wordKey {
	var k wordKey
	b := wordIndex.Bytes()
	copy(k[32-len(b):], b)
	return k
}

// split returns nonce's word key (nonce / 256) and bit position (nonce % 256).
func split(nonce *big.Int) (wordKey, uint) {
	wordIndex := new(big.Int).Rsh(nonce, 8)
	bit := new(big.Int).And(nonce, bitMask)
	return keyFor(wordIndex), uint(bit.Uint64())
}

// Map tracks used nonces per solver address, one sparse map of 256-bit
// words per solver. All writes for a given solver are serialized through the
// map-wide mutex; on-chain this mirrors the
// natural single-transaction-at-a-time ordering, off-chain it is the same
// guarantee the solver's nonce allocator relies on.
type Map struct {
	mu    sync.Mutex
	words map[common.Address]map[wordKey]*big.Int
}

func New() *Map {
	return &Map{words: make(map[common.Address]map[wordKey]*big.Int)}
}

func (m *Map) wordsFor(solver common.Address) map[wordKey]*big.Int {
	w, ok := m.words[solver]
	if !ok {
		w = make(map[wordKey]*big.Int)
		m.words[solver] = w
	}
	return w
}

// IsUsed reports whether nonce has already been consumed by solver.
func (m *Map) IsUsed(solver common.Address, nonce *big.Int) bool {
	key, bit := split(nonce)
	m.mu.Lock()
	defer m.mu.Unlock()
	words, ok := m.words[solver]
	if !ok {
		return false
	}
	word, ok := words[key]
	if !ok {
		return false
	}
	return word.Bit(int(bit)) == 1
}

// MarkUsed sets nonce's bit, failing with NonceAlreadyUsed if it is already set.
func (m *Map) MarkUsed(solver common.Address, nonce *big.Int) error {
	key, bit := split(nonce)
	m.mu.Lock()
	defer m.mu.Unlock()

	words := m.wordsFor(solver)
	word, ok := words[key]
	if !ok {
		word = new(big.Int)
		words[key] = word
	}
	if word.Bit(int(bit)) == 1 {
		return apperrors.New(apperrors.ErrNonceAlreadyUsed, "nonce already used", nil)
	}
	word.SetBit(word, int(bit), 1)
	return nil
}

// MarkMany OR-s a 256-bit mask into the word at wordIndex, used for batch
// cancellation. mask's bit i maps to nonce
// wordIndex*256 + i.
func (m *Map) MarkMany(solver common.Address, wordIndex uint64, mask *big.Int) {
	key := keyFor(new(big.Int).SetUint64(wordIndex))
	m.mu.Lock()
	defer m.mu.Unlock()

	words := m.wordsFor(solver)
	word, ok := words[key]
	if !ok {
		word = new(big.Int)
		words[key] = word
	}
	word.Or(word, mask)
}
