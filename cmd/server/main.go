// Command server runs the FirmSwap off-chain HTTP surface: the
// Aggregator's quote fan-out, order-status reads against a per-chain
// SettlementEngine, and the shared SolverRegistry's register/unregister/
// list endpoints, plus a websocket push feed of settlement events.
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
	"github.com/firmswap/firmswap/internal/aggregator"
	"github.com/firmswap/firmswap/internal/bond"
	"github.com/firmswap/firmswap/internal/chainreader"
	"github.com/firmswap/firmswap/internal/config"
	"github.com/firmswap/firmswap/internal/depositaddr"
	"github.com/firmswap/firmswap/internal/handler"
	"github.com/firmswap/firmswap/internal/middleware"
	"github.com/firmswap/firmswap/internal/noncebitmap"
	"github.com/firmswap/firmswap/internal/orderstore"
	"github.com/firmswap/firmswap/internal/pkg/apperrors"
	"github.com/firmswap/firmswap/internal/pkg/logger"
	"github.com/firmswap/firmswap/internal/ratelimit"
	"github.com/firmswap/firmswap/internal/registry"
	"github.com/firmswap/firmswap/internal/repository"
	"github.com/firmswap/firmswap/internal/settlement"
	"github.com/firmswap/firmswap/internal/wsfeed"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// chainBondVerifier dispatches an on-chain totalBondOf read to the
// chainreader.Reader for whichever chain the requested bond contract
// address lives on, so a single registry.BondVerifier can back a registry
// shared across every configured chain.
type chainBondVerifier struct {
	readers map[common.Address]*chainreader.Reader
}

func (v *chainBondVerifier) TotalBondOf(ctx context.Context, bondContract, solver common.Address) (*big.Int, error) {
	r, ok := v.readers[bondContract]
	if !ok {
		return big.NewInt(0), nil
	}
	return r.TotalBondOf(ctx, bondContract, solver)
}

func main() {
	logger.Init("info")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Persistence: Postgres-backed stores when a DSN is configured, an
	// in-memory fallback otherwise; Redis layers a cross-instance cache
	// and rate-limit backend on top when configured.
	var gormDB *repository.DB
	if cfg.Database.DSN != "" {
		gormDB, err = repository.NewDB(cfg.Database.DSN)
		if err != nil {
			logger.Error("failed to connect to postgres, falling back to in-memory stores", "error", err)
			gormDB = nil
		} else {
			logger.Info("connected to postgres")
		}
	}

	var redisConn *repository.Redis
	if cfg.Redis.Addr != "" {
		redisConn, err = repository.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("failed to connect to redis, falling back to in-process rate limiting", "error", err)
			redisConn = nil
		} else {
			logger.Info("connected to redis")
		}
	}

	orderStores := map[int64]orderstore.Store{}
	for _, ch := range cfg.Chains {
		if gormDB != nil {
			st, err := orderstore.NewGormStore(gormDB.Client)
			if err != nil {
				log.Fatalf("failed to migrate order store for chain %d: %v", ch.ChainID, err)
			}
			orderStores[ch.ChainID] = st
		} else {
			orderStores[ch.ChainID] = orderstore.NewMemoryStore()
		}
	}

	var registryStore registry.Store
	if gormDB != nil {
		st, err := registry.NewGormStore(gormDB.Client)
		if err != nil {
			log.Fatalf("failed to migrate solver registry: %v", err)
		}
		registryStore = st
	} else {
		registryStore = registry.NewMemoryStore()
	}
	if redisConn != nil {
		registryStore = registry.NewCachedStore(registryStore, redisConn.Client, 30*time.Second)
	}

	// Chain reads: one cached, retried Reader per chain, used for the
	// registry's optional on-chain bond check (routed by bond-contract
	// address since registry.BondVerifier is shared across every chain).
	bondVerifierByContract := map[common.Address]*chainreader.Reader{}
	bondContractFor := map[int64]common.Address{}
	for _, ch := range cfg.Chains {
		cacheTTL := time.Duration(ch.ChainReaderCacheSec) * time.Second
		timeout := time.Duration(ch.ChainReaderTimeoutMs) * time.Millisecond
		reader := chainreader.New(ch.RPCURL, cacheTTL, timeout, ch.ChainReaderRetries)
		verifyingContract := common.HexToAddress(ch.VerifyingContract)
		bondVerifierByContract[verifyingContract] = reader
		bondContractFor[ch.ChainID] = verifyingContract
	}

	solverRegistry := registry.New(
		registryStore,
		&chainBondVerifier{readers: bondVerifierByContract},
		registry.NewSSRFValidator(cfg.Registry.AllowInsecureEndpoints),
		registry.Config{
			MaxPerChain: cfg.Aggregator.MaxSolversPerChain,
			MinBond:     mustBigInt(cfg.Bond.MinBond),
			BondContract: func(chainID int64) (common.Address, bool) {
				addr, ok := bondContractFor[chainID]
				return addr, ok
			},
		},
	)

	eventHub := wsfeed.New()

	chainServices := map[int64]handler.ChainServices{}
	for _, ch := range cfg.Chains {
		verifyingContract := common.HexToAddress(ch.VerifyingContract)
		engineCfg := settlement.Config{
			ChainID:           ch.ChainID,
			EngineAddress:     verifyingContract,
			VerifyingContract: verifyingContract,
			BondToken:         common.HexToAddress(ch.BondToken),
			ProxyInitCode:     depositaddr.ProxyInitCode,
		}
		engine := settlement.NewEngine(
			engineCfg,
			noncebitmap.New(),
			bond.New(),
			orderStores[ch.ChainID],
			settlement.NewTokenLedger(),
			eventHub,
		)

		agg := aggregator.New(aggregator.Config{
			ChainID:                      ch.ChainID,
			VerifyingContract:            verifyingContract,
			EngineAddress:                verifyingContract,
			ProxyInitCode:                depositaddr.ProxyInitCode,
			IncludeAlternativeSignatures: !cfg.Aggregator.StripAltSignatures,
		}, solverRegistry, aggregator.NewHTTPClient(), registry.NewSSRFValidator(cfg.Registry.AllowInsecureEndpoints))

		chainServices[ch.ChainID] = handler.ChainServices{Engine: engine, Aggregator: agg}
	}

	h := handler.New(chainServices, solverRegistry)

	quoteLimiter := buildLimiter(redisConn, "quote", ratelimit.PerMinute(cfg.RateLimits.QuotePerMinute))
	orderLimiter := buildLimiter(redisConn, "order", ratelimit.PerMinute(cfg.RateLimits.OrderStatusPerMinute))
	registerLimiter := buildLimiter(redisConn, "solver-register", ratelimit.PerMinute(cfg.RateLimits.SolverRegisterPerMinute))
	unregisterLimiter := buildLimiter(redisConn, "solver-unregister", ratelimit.PerMinute(cfg.RateLimits.SolverUnregisterPerMinute))
	listLimiter := buildLimiter(redisConn, "solver-list", ratelimit.PerMinute(cfg.RateLimits.SolverListPerMinute))

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1/:chainId")
	{
		// The router cannot hold a static /v1/ws next to the :chainId
		// wildcard, so GET /v1/ws is served through the wildcard and
		// matched on the literal segment.
		v1.GET("", func(c *gin.Context) {
			if c.Param("chainId") == "ws" {
				eventHub.ServeHTTP(c.Writer, c.Request)
				return
			}
			c.Error(apperrors.New(apperrors.ErrNotFound, "unknown chain id", nil))
		})
		v1.POST("/quote", middleware.RateLimitMiddleware(quoteLimiter), h.Quote)
		v1.GET("/order/:orderId", middleware.RateLimitMiddleware(orderLimiter), h.OrderStatus)
		v1.POST("/solvers/register", middleware.RateLimitMiddleware(registerLimiter), h.RegisterSolver)
		v1.DELETE("/solvers/:address", middleware.RateLimitMiddleware(unregisterLimiter), h.UnregisterSolver)
		v1.GET("/solvers", middleware.RateLimitMiddleware(listLimiter), h.ListSolvers)
	}

	srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: r}

	go func() {
		logger.Info("firmswap server starting", "port", cfg.Server.Port, "chains", len(cfg.Chains))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown: ", err)
	}
	logger.Info("server exiting")
}

// buildLimiter composes the route's in-process bucket with a Redis-backed
// one when Redis is configured, degrading to per-instance limiting when
// it is not.
func buildLimiter(redisConn *repository.Redis, routeName string, limit ratelimit.Limit) ratelimit.Limiter {
	inProcess := ratelimit.NewInProcess(limit)
	if redisConn == nil {
		return inProcess
	}
	return ratelimit.NewComposite(ratelimit.NewRedis(redisConn.Client, routeName, limit), inProcess)
}

func mustBigInt(s string) *big.Int {
	if s == "" {
		return bond.MinBond
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		log.Fatalf("invalid integer config value %q", s)
	}
	return v
}
