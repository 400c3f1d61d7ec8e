package main

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/darkpool/params"
	"github.com/uhyunpark/darkpool/pkg/api"
	"github.com/uhyunpark/darkpool/pkg/engine"
	"github.com/uhyunpark/darkpool/pkg/index"
	"github.com/uhyunpark/darkpool/pkg/ledger"
	"github.com/uhyunpark/darkpool/pkg/util"
	"github.com/uhyunpark/darkpool/pkg/vault"
)

func main() {
	cfg := params.LoadFromEnv("")

	var logger *zap.Logger
	var err error
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogLevel, cfg.Node.LogFile)
	} else {
		logger, err = util.NewLogger(cfg.Node.LogLevel)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if !common.IsHexAddress(cfg.Engine.AdminAddress) {
		logger.Fatal("DP_ADMIN_ADDRESS must be a valid hex address")
	}
	admin := common.HexToAddress(cfg.Engine.AdminAddress)
	feeRecipient := admin
	if common.IsHexAddress(cfg.Engine.FeeRecipient) {
		feeRecipient = common.HexToAddress(cfg.Engine.FeeRecipient)
	}

	store, err := ledger.Open(filepath.Join(cfg.Node.DataDir, "ledger"))
	if err != nil {
		logger.Fatal("open ledger", zap.Error(err))
	}
	defer store.Close()

	engCfg, err := engine.NewConfig(engine.ConfigParams{
		Admin:           admin,
		FeeRecipient:    feeRecipient,
		EscrowFeeBps:    cfg.Engine.EscrowFeeBps,
		TakerFeeBps:     cfg.Engine.TakerFeeBps,
		MakerFeeBps:     cfg.Engine.MakerFeeBps,
		MarketBufferBps: cfg.Engine.MarketBufferBps,
	})
	if err != nil {
		logger.Fatal("engine config", zap.Error(err))
	}

	// Order-index mirror is optional; the engine runs fine without it.
	var ix index.Indexer = index.Noop{}
	if cfg.Index.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rix, err := index.NewRedis(ctx, index.RedisConfig{
			Addr:     cfg.Index.RedisAddr,
			Password: cfg.Index.RedisPassword,
			DB:       cfg.Index.RedisDB,
		})
		cancel()
		if err != nil {
			logger.Warn("order index unavailable, continuing without mirror", zap.Error(err))
		} else {
			defer rix.Close()
			ix = rix
		}
	}

	v := vault.New()
	eng, err := engine.New(engine.Options{
		Ledger:  store,
		Gateway: v,
		Config:  engCfg,
		Index:   ix,
		Log:     logger,
	})
	if err != nil {
		logger.Fatal("engine init", zap.Error(err))
	}

	// Drive the sequence marker on the configured cadence. Expiries are
	// evaluated lazily against it; there is no background sweep.
	go func() {
		ticker := time.NewTicker(cfg.Node.SequenceInterval)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := eng.AdvanceSequence(); err != nil {
				logger.Error("advance sequence", zap.Error(err))
			}
		}
	}()

	server := api.NewServer(eng, v, ix, logger)
	logger.Info("darkpool daemon starting",
		zap.String("api", cfg.Node.APIAddr),
		zap.String("admin", admin.Hex()),
		zap.Uint64("sequence", eng.CurrentSequence()))
	if err := server.Start(cfg.Node.APIAddr); err != nil {
		logger.Fatal("api server", zap.Error(err))
	}
}
