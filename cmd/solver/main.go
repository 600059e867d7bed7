// Command solver runs the reference solver daemon: pricing, EIP-712
// quote signing with a monotonic nonce allocator, deposit monitoring,
// and a strictly serial fill queue.
//
// This reference implementation models "the chain" the way
// internal/settlement itself does: the daemon holds its own in-process
// settlement engine and TokenLedger standing in for a deployed contract
// and a live RPC endpoint,
// so the full quote→deposit→watch→fill loop is runnable and testable in
// one binary without a live EVM. Swapping the watcher's BlockSource/
// DepositFilter and the filler's Balancer/Submitter for ethclient-backed
// implementations is the only change a real deployment needs.
package main

import (
	"context"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/firmswap/firmswap/internal/bond"
	"github.com/firmswap/firmswap/internal/config"
	"github.com/firmswap/firmswap/internal/depositaddr"
	"github.com/firmswap/firmswap/internal/noncebitmap"
	"github.com/firmswap/firmswap/internal/orderstore"
	"github.com/firmswap/firmswap/internal/pkg/logger"
	"github.com/firmswap/firmswap/internal/quote"
	"github.com/firmswap/firmswap/internal/settlement"
	"github.com/firmswap/firmswap/internal/solver/chainlog"
	"github.com/firmswap/firmswap/internal/solver/filler"
	"github.com/firmswap/firmswap/internal/solver/nonce"
	"github.com/firmswap/firmswap/internal/solver/pricing"
	"github.com/firmswap/firmswap/internal/solver/quoteapi"
	"github.com/firmswap/firmswap/internal/solver/watcher"
	"github.com/firmswap/firmswap/internal/wsfeed"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// nonceSource adapts settlement.Engine's synchronous IsNonceUsed into
// solver/nonce.Source's context-and-error-returning shape.
type nonceSource struct{ engine *settlement.Engine }

func (s nonceSource) IsNonceUsed(_ context.Context, solver common.Address, n *big.Int) (bool, error) {
	return s.engine.IsNonceUsed(solver, n), nil
}

// tokenBalancer adapts settlement.TokenLedger into filler.Balancer.
// EnsureAllowance is a no-op: TokenLedger models raw balances only (no
// ERC-20 allowance concept), matching how settlement.Engine itself pulls
// tokens by direct balance-difference transfer rather than transferFrom.
type tokenBalancer struct{ tokens *settlement.TokenLedger }

func (b tokenBalancer) BalanceOf(_ context.Context, token, holder common.Address) (*big.Int, error) {
	return b.tokens.BalanceOf(token, holder), nil
}

func (b tokenBalancer) EnsureAllowance(context.Context, common.Address, common.Address, *big.Int) error {
	return nil
}

// engineSubmitter adapts settlement.Engine.Fill into filler.Submitter.
type engineSubmitter struct {
	engine *settlement.Engine
	solver common.Address
}

func (s engineSubmitter) Fill(ctx context.Context, orderID common.Hash) error {
	return s.engine.Fill(ctx, orderID, s.solver, time.Now())
}

func main() {
	logger.Init("info")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sc := cfg.Solver
	if sc.ChainID == 0 {
		log.Fatal("solver.chain_id must be configured")
	}
	chainCfg, ok := cfg.ChainByID(sc.ChainID)
	if !ok {
		log.Fatalf("no chain configuration found for solver.chain_id=%d", sc.ChainID)
	}
	verifyingContract := common.HexToAddress(chainCfg.VerifyingContract)

	signer, err := quote.NewSigner(sc.PrivateKey, sc.ChainID, verifyingContract)
	if err != nil {
		log.Fatalf("failed to initialize solver signer: %v", err)
	}
	logger.Info("solver identity", "address", signer.Address().Hex(), "chain_id", sc.ChainID)

	tokens := settlement.NewTokenLedger()
	eventLog := chainlog.New()
	eventFeed := wsfeed.New()
	engine := settlement.NewEngine(settlement.Config{
		ChainID:           sc.ChainID,
		EngineAddress:     verifyingContract,
		VerifyingContract: verifyingContract,
		BondToken:         common.HexToAddress(chainCfg.BondToken),
		ProxyInitCode:     depositaddr.ProxyInitCode,
	}, noncebitmap.New(), bond.New(), orderstore.NewMemoryStore(), tokens, settlement.MultiSink{eventLog, eventFeed})

	bondAmount, ok := new(big.Int).SetString(sc.BondAmount, 10)
	if !ok {
		log.Fatalf("invalid solver.bond_amount %q", sc.BondAmount)
	}
	tokens.Credit(common.HexToAddress(chainCfg.BondToken), signer.Address(), bondAmount)
	if err := engine.RegisterSolver(context.Background(), signer.Address(), bondAmount, signer.Address()); err != nil {
		log.Fatalf("failed to register solver bond: %v", err)
	}

	pricer := pricing.NewEngine()
	for _, p := range sc.Pairs {
		price, perr := decimal.NewFromString(p.Price)
		if perr != nil {
			log.Fatalf("invalid price %q for pair %s/%s: %v", p.Price, p.InputToken, p.OutputToken, perr)
		}
		usdPerInput := decimal.Zero
		if p.USDPerInputUnit != "" {
			if usdPerInput, perr = decimal.NewFromString(p.USDPerInputUnit); perr != nil {
				log.Fatalf("invalid usd_per_input_unit %q: %v", p.USDPerInputUnit, perr)
			}
		}
		maxNotional := decimal.Zero
		if p.MaxUSDNotional != "" {
			if maxNotional, perr = decimal.NewFromString(p.MaxUSDNotional); perr != nil {
				log.Fatalf("invalid max_usd_notional %q: %v", p.MaxUSDNotional, perr)
			}
		}
		spreadBps := p.SpreadBps
		if spreadBps == 0 {
			spreadBps = sc.SpreadBps
		}
		pricer.SetPair(pricing.Pair{
			InputToken:  common.HexToAddress(p.InputToken),
			OutputToken: common.HexToAddress(p.OutputToken),
		}, pricing.PairConfig{
			Price:           price,
			SpreadBps:       spreadBps,
			InputDecimals:   p.InputDecimals,
			OutputDecimals:  p.OutputDecimals,
			USDPerInputUnit: usdPerInput,
			MaxUSDNotional:  maxNotional,
		})
	}

	allocator := nonce.NewAllocator(signer.Address(), nonceSource{engine: engine})

	fillQueue := filler.New(signer.Address(), sc.FillQueueDepth,
		tokenBalancer{tokens: tokens},
		engineSubmitter{engine: engine, solver: signer.Address()},
		func(orderID common.Hash) (common.Address, *big.Int, bool) {
			order, err := engine.OrderByID(context.Background(), orderID)
			if err != nil {
				return common.Address{}, nil, false
			}
			return order.OutputToken, order.OutputAmountBig(), true
		},
	)
	fillCtx, cancelFill := context.WithCancel(context.Background())
	go fillQueue.Run(fillCtx)

	depositWatcher := watcher.New(signer.Address(), eventLog, eventLog, fillQueue, 0).
		WithPollInterval(sc.WatcherPollInterval)
	watchCtx, cancelWatch := context.WithCancel(context.Background())
	go depositWatcher.Run(watchCtx)

	quoteHandler := quoteapi.New(sc.ChainID, pricer, allocator, signer)
	r := gin.Default()
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "firmswap-solver"}) })
	r.GET("/ws", gin.WrapF(eventFeed.ServeHTTP))
	r.POST("/quote", quoteHandler.Quote)

	srv := &http.Server{Addr: ":" + sc.ListenPort, Handler: r}
	go func() {
		logger.Info("firmswap solver starting", "port", sc.ListenPort, "address", signer.Address().Hex())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("solver http server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down solver")

	cancelWatch()
	fillQueue.Close()
	cancelFill()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("solver http server forced to shutdown: ", err)
	}
	logger.Info("solver exiting")
}
