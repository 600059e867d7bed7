// Command inspector derives an order id and its CREATE2 deposit address
// from a signed quote, without needing a running server or solver. Useful
// for a user (or a solver operator debugging a stuck deposit) to confirm
// where to send funds before broadcasting anything on-chain.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/firmswap/firmswap/internal/depositaddr"
	"github.com/firmswap/firmswap/internal/quote"
	"github.com/firmswap/firmswap/internal/wire"
)

func main() {
	if len(os.Args) < 5 {
		fmt.Println("Usage: inspector <chainId> <engineAddress> <quote.json> <signatureHex>")
		os.Exit(1)
	}

	chainID, err := strconv.ParseInt(os.Args[1], 10, 64)
	if err != nil {
		log.Fatalf("invalid chainId %q: %v", os.Args[1], err)
	}
	if !common.IsHexAddress(os.Args[2]) {
		log.Fatalf("invalid engine address %q", os.Args[2])
	}
	engine := common.HexToAddress(os.Args[2])

	raw, err := os.ReadFile(os.Args[3])
	if err != nil {
		log.Fatalf("failed to read quote file: %v", err)
	}
	var dto wire.QuoteDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		log.Fatalf("failed to parse quote json: %v", err)
	}
	q, err := dto.ToQuote()
	if err != nil {
		log.Fatalf("invalid quote: %v", err)
	}

	sig, err := hexutil.Decode(os.Args[4])
	if err != nil {
		log.Fatalf("invalid signature hex: %v", err)
	}

	structHash := q.StructHash()
	digest := q.Digest(chainID, engine)
	orderID := quote.OrderID(structHash, sig)

	recovered, recoverErr := quote.Recover(q, sig, chainID, engine)
	codeHash := depositaddr.CodeHash(depositaddr.ProxyInitCode, engine)
	depositAddress := depositaddr.Derive(engine, orderID, codeHash)

	fmt.Println("FirmSwap quote inspector")
	fmt.Printf("  struct hash:     %s\n", structHash.Hex())
	fmt.Printf("  EIP-712 digest:  %s\n", digest.Hex())
	fmt.Printf("  order id:        %s\n", orderID.Hex())
	fmt.Printf("  deposit address: %s\n", depositAddress.Hex())
	if recoverErr != nil {
		fmt.Printf("  signer:          could not recover (%v)\n", recoverErr)
	} else if recovered == q.Solver {
		fmt.Printf("  signer:          %s (matches quote.solver)\n", recovered.Hex())
	} else {
		fmt.Printf("  signer:          %s (DOES NOT match quote.solver %s)\n", recovered.Hex(), q.Solver.Hex())
	}
}
