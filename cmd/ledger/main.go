package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/synthlabs/synth-ledger/api"
	"github.com/synthlabs/synth-ledger/chain"
	"github.com/synthlabs/synth-ledger/collateral"
	"github.com/synthlabs/synth-ledger/common/config"
	cerrors "github.com/synthlabs/synth-ledger/common/errors"
	"github.com/synthlabs/synth-ledger/common/logging"
	database "github.com/synthlabs/synth-ledger/database/db"
	"github.com/synthlabs/synth-ledger/env"
	"github.com/synthlabs/synth-ledger/mint"
	"github.com/synthlabs/synth-ledger/oracle"
	"github.com/synthlabs/synth-ledger/snapshot"
	"github.com/synthlabs/synth-ledger/staking"
	"github.com/synthlabs/synth-ledger/token"
	"github.com/synthlabs/synth-ledger/types"
)

func main() {
	name := "synth-ledger"
	// Initialize logger.
	logging.Initialize(name)
	defer logging.Finalize()

	logger := logging.NewLoggerTag(name)

	// Setup panic handler.
	cerrors.Initialize(logger)
	defer cerrors.Catch()

	logger.Info("%s service started.", name)
	logger.Info("Initializing.")

	backgroundCtx, stop := context.WithCancel(context.Background())
	go WaitExitSignal(stop, logger)
	group, ctx := errgroup.WithContext(backgroundCtx)

	database.Initialize()
	defer database.Finalize()
	if env.ResetDatabase() {
		database.Reset(database.GetDB(), types.Ledger, true)
	}

	var (
		owner     = config.GetAddress("OWNER_ADDRESS")
		custody   = config.GetAddress("CUSTODY_ADDRESS")
		factory   = config.GetAddress("FACTORY_ADDRESS")
		collector = config.GetAddress("COLLECTOR_ADDRESS")
		feeder    = config.GetAddress("FEEDER_ADDRESS")
		baseToken = config.GetAddress("BASE_TOKEN_ADDRESS")
		reward    = config.GetAddress("REWARD_TOKEN_ADDRESS")
	)

	clock := chain.NewTicker(0, config.GetMillisecond("BLOCK_INTERVAL_MS", 3*time.Second))
	group.Go(func() error {
		return clock.Run(ctx)
	})

	tokens := token.NewLedger(owner)
	if err := tokens.RegisterMinter(owner, custody, true); err != nil {
		logger.Error("register custody minter: %s", err)
		os.Exit(-3)
	}

	feeds := oracle.New(owner, clock)
	mintLedger := mint.NewLedger(owner, custody, mint.Config{
		Factory:         factory,
		Collector:       collector,
		BaseToken:       baseToken,
		ProtocolFeeRate: config.GetDecimal("PROTOCOL_FEE_RATE", "0.015"),
		PriceExpireTime: config.GetInt64("PRICE_EXPIRE_TIME", 120),
	}, clock, tokens, feeds)
	collateralLedger := collateral.NewLedger(owner, custody, clock, tokens)
	stakingLedger := staking.NewLedger(owner, custody, staking.Config{
		Factory:     factory,
		RewardToken: reward,
	}, clock, tokens, collateralLedger)

	// claims draw down the lock through the custody identity
	if err := collateralLedger.UpdateConfig(owner, custody, nil, nil); err != nil {
		logger.Error("wire collateral lock: %s", err)
		os.Exit(-3)
	}

	snapshotter := snapshot.NewSnapshotter(ctx, logging.NewLoggerTag("snapshot"),
		database.GetDB(), snapshot.Engines{
			Mint:       mintLedger,
			Collateral: collateralLedger,
			Staking:    stakingLedger,
			Oracle:     feeds,
		}, config.GetMillisecond("SNAPSHOT_INTERVAL_MS", time.Minute))
	if err := snapshotter.Restore(); err != nil {
		logger.Error("restore snapshot: %s", err)
		os.Exit(-3)
	}
	group.Go(func() error {
		return snapshotter.Run()
	})

	engines := api.Engines{
		Mint:       mintLedger,
		Collateral: collateralLedger,
		Staking:    stakingLedger,
		Oracle:     feeds,
	}
	server := api.NewLedgerServer(ctx, logging.NewLoggerTag("api"),
		config.GetString("API_ADDR", ":9487"), engines)
	group.Go(func() error {
		return server.Run()
	})
	internal := api.NewInternalServer(ctx, logging.NewLoggerTag("internal"),
		config.GetString("INTERNAL_API_ADDR", ":9453"), engines, owner, factory, feeder)
	group.Go(func() error {
		return internal.Run()
	})

	if err := group.Wait(); err != nil {
		logger.Critical("service stopped: %s", err)
	}
}

func WaitExitSignal(ctxStop context.CancelFunc, logger logging.Logger) {
	var exitSignal = make(chan os.Signal, 1)
	signal.Notify(exitSignal, syscall.SIGTERM)
	signal.Notify(exitSignal, syscall.SIGINT)

	sig := <-exitSignal
	logger.Info("caught sig: %+v, Stopping...\n", sig)
	ctxStop()
}
