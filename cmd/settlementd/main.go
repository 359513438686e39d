package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"optionstoken/config"
	"optionstoken/native/amm"
	"optionstoken/native/exercise"
	"optionstoken/native/fees"
	"optionstoken/native/gateway"
	"optionstoken/native/oracle"
	"optionstoken/native/stream"
	"optionstoken/native/token"
	"optionstoken/observability"
	"optionstoken/observability/logging"
)

func deriveAddress(label string) [20]byte {
	var out [20]byte
	copy(out[:], ethcrypto.Keccak256([]byte("settlementd/" + label))[:20])
	return out
}

func main() {
	var (
		configPath = flag.String("config", "settlement.toml", "path to the settlement configuration file")
		listenAddr = flag.String("listen", ":9090", "metrics listen address")
		env        = flag.String("env", "", "deployment environment tag for log lines")
	)
	flag.Parse()

	logger := logging.Setup("settlementd", *env)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load configuration", "err", err)
		os.Exit(1)
	}

	owner, err := config.ParseAddress(cfg.Gateway.Owner)
	if err != nil {
		logger.Error("parse owner", "err", err)
		os.Exit(1)
	}
	minter, err := config.ParseAddress(cfg.Gateway.Minter)
	if err != nil {
		logger.Error("parse minter", "err", err)
		os.Exit(1)
	}

	paymentTok := deriveAddress("token/payment")
	underlyingTok := deriveAddress("token/underlying")
	payment := token.NewBook("PAY")
	underlying := token.NewBook("UND")

	pair := amm.NewPair(paymentTok, underlyingTok, payment, underlying, false, 30*time.Minute)
	router := amm.NewRouter()
	router.RegisterPair(pair)
	streamer := stream.NewService(deriveAddress("stream"))

	minPrice, err := config.ParseWei(cfg.Oracle.MinPriceWei)
	if err != nil {
		logger.Error("parse oracle floor", "err", err)
		os.Exit(1)
	}
	priceSource, err := oracle.NewTWAPOracle(owner, pair, paymentTok, underlyingTok, cfg.Oracle.WindowSeconds, minPrice)
	if err != nil {
		logger.Error("construct oracle", "err", err)
		os.Exit(1)
	}

	recipients := make([][20]byte, len(cfg.Fees.Recipients))
	for i, raw := range cfg.Fees.Recipients {
		recipients[i], err = config.ParseAddress(raw)
		if err != nil {
			logger.Error("parse fee recipient", "index", i, "err", err)
			os.Exit(1)
		}
	}
	schedule, err := fees.NewSchedule(recipients, cfg.Fees.WeightsBps)
	if err != nil {
		logger.Error("build fee schedule", "err", err)
		os.Exit(1)
	}

	gw := gateway.New(deriveAddress("gateway"), owner, minter)
	gw.SetMetrics(observability.Settlement())
	gw.SetLogger(logging.Component(logger, "gateway"))
	gwAddr := gw.Address()

	immediate, err := exercise.NewImmediateDiscount(
		deriveAddress("module/immediate"), owner, gwAddr,
		paymentTok, underlyingTok, payment, underlying,
		fees.NewDistributor(schedule), priceSource,
		exercise.MultiplierRange{Min: cfg.Modules.Immediate.MinMultiplierBps, Max: cfg.Modules.Immediate.MaxMultiplierBps})
	if err != nil {
		logger.Error("construct immediate module", "err", err)
		os.Exit(1)
	}
	if mult := cfg.Modules.Immediate.MultiplierBps; mult != 0 {
		if err := immediate.SetMultiplier(owner, mult); err != nil {
			logger.Error("set immediate multiplier", "err", err)
			os.Exit(1)
		}
	}

	fixedPrice, err := config.ParseWei(cfg.Modules.Fixed.PriceWei)
	if err != nil {
		logger.Error("parse fixed price", "err", err)
		os.Exit(1)
	}
	fixedMin, _ := config.ParseWei(cfg.Modules.Fixed.MinPriceWei)
	fixedMax, _ := config.ParseWei(cfg.Modules.Fixed.MaxPriceWei)
	fixed, err := exercise.NewFixedWindow(
		deriveAddress("module/fixed"), owner, gwAddr,
		paymentTok, underlyingTok, payment, underlying,
		fees.NewDistributor(schedule),
		exercise.PriceRange{Min: fixedMin, Max: fixedMax}, fixedPrice)
	if err != nil {
		logger.Error("construct fixed-window module", "err", err)
		os.Exit(1)
	}

	locked, err := exercise.NewLockedLiquidity(
		deriveAddress("module/locked"), owner, gwAddr,
		paymentTok, underlyingTok, payment, underlying,
		fees.NewDistributor(schedule), priceSource,
		exercise.MultiplierRange{Min: cfg.Modules.Locked.MinMultiplierBps, Max: cfg.Modules.Locked.MaxMultiplierBps},
		cfg.Modules.Locked.MinLockSeconds, cfg.Modules.Locked.MaxLockSeconds,
		router, streamer)
	if err != nil {
		logger.Error("construct locked-liquidity module", "err", err)
		os.Exit(1)
	}

	vested, err := exercise.NewVestedRelease(
		deriveAddress("module/vested"), owner, gwAddr,
		paymentTok, underlyingTok, payment, underlying,
		fees.NewDistributor(schedule), priceSource,
		exercise.MultiplierRange{Min: cfg.Modules.Vested.MinMultiplierBps, Max: cfg.Modules.Vested.MaxMultiplierBps},
		cfg.Modules.Vested.CliffSeconds, cfg.Modules.Vested.TotalSeconds,
		streamer)
	if err != nil {
		logger.Error("construct vested-release module", "err", err)
		os.Exit(1)
	}
	if len(cfg.Modules.Vested.SegmentExponents) > 0 {
		if err := vested.SetSegments(owner, cfg.Modules.Vested.SegmentExponents, cfg.Modules.Vested.SegmentDurations); err != nil {
			logger.Error("configure vest segments", "err", err)
			os.Exit(1)
		}
	}

	immediate.SetMetrics(observability.Settlement())
	fixed.SetMetrics(observability.Settlement())
	locked.SetMetrics(observability.Settlement())
	vested.SetMetrics(observability.Settlement())

	for _, mod := range []exercise.Module{immediate, fixed, locked, vested} {
		if err := gw.SetExerciseContract(owner, mod, true); err != nil {
			logger.Error("register module", "err", err)
			os.Exit(1)
		}
	}

	logger.Info("settlement core ready",
		"modules", 4,
		"oracleWindowSeconds", cfg.Oracle.WindowSeconds,
		"feeRecipients", len(recipients))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{
		Addr:              *listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("metrics listener started", "addr", *listenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics listener shutdown", "err", err)
	}
	logger.Info("settlementd stopped")
}
