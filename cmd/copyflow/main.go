package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"copyflow/conf"
	"copyflow/internal/alert"
	"copyflow/internal/dao/query"
	"copyflow/internal/fills"
	"copyflow/internal/gateway"
	"copyflow/internal/metadata"
	"copyflow/internal/model/entity"
	"copyflow/internal/server"
	"copyflow/internal/state"
	"copyflow/internal/syncer"
	"copyflow/pkg/cache"
	"copyflow/pkg/db"
	"copyflow/pkg/hype/exchange"
	"copyflow/pkg/hype/rest"
	"copyflow/pkg/logger"
	"copyflow/pkg/recorder"
)

// 跟单守护进程：一条成交流连接 + 每个账户一个同步循环

func main() {
	if err := conf.LoadConfig("conf/config.yaml"); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	appCfg := conf.AppConfig
	logger.Init(appCfg.Log)
	defer logger.Sync()

	if len(appCfg.Accounts) == 0 {
		logger.Error("no accounts configured, nothing to do")
		return
	}

	// 数据库连接参数允许环境变量覆盖
	dbUser := os.Getenv("DB_USER")
	dbPass := os.Getenv("DB_PASSWORD")
	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbName := os.Getenv("DB_NAME")
	if dbUser == "" || dbPass == "" || dbHost == "" {
		dbUser = appCfg.Username
		dbPass = appCfg.Db.Password
		dbHost = appCfg.Host
		dbPort = appCfg.Port
		dbName = appCfg.DbName
	}
	datasource := db.Init(db.Config{
		User:      dbUser,
		Password:  dbPass,
		Host:      dbHost,
		Port:      dbPort,
		DBName:    dbName,
		ParseTime: true,
	})
	if err := datasource.AutoMigrate(&entity.AccountState{}); err != nil {
		log.Fatalf("migrate account_state: %v", err)
	}

	cache.InitRedis(appCfg.Redis)

	restClient, err := rest.NewHyperliquidRestClient(appCfg.Hyperliquid.ApiURL)
	if err != nil {
		log.Fatalf("create rest client: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 市场元数据：先同步拉一次，之后每小时后台刷新
	metaCache := metadata.NewCache(restClient, cache.GetRedisClient())
	if err := metaCache.Refresh(ctx); err != nil {
		log.Fatalf("load perpetuals metadata: %v", err)
	}
	metaCache.Start(ctx, time.Hour)

	var notifier alert.Notifier = alert.NopNotifier{}
	if appCfg.Kafka.BrokerURL != "" {
		notifier = alert.NewKafkaNotifier(appCfg.Kafka)
	}
	defer notifier.Close()

	var trades, snapshots recorder.Recorder
	if appCfg.Recorder.TradePath != "" {
		trades = recorder.NewJSONFileRecorder(appCfg.Recorder.TradePath)
	}
	if appCfg.Recorder.SnapshotPath != "" {
		snapshots = recorder.NewJSONFileRecorder(appCfg.Recorder.SnapshotPath)
	}

	stateDao := query.NewAccountStateDao(datasource)

	// 每个被跟踪钱包一条成交流连接，多个账户可以共用
	connectors := make(map[string]*fills.Connector)
	managers := make(map[string]*state.Manager)

	var wg sync.WaitGroup
	for _, acc := range appCfg.Accounts {
		if _, ok := connectors[acc.TrackedAddress]; !ok {
			c := fills.NewConnector(appCfg.Hyperliquid.WsURL, acc.TrackedAddress, notifier)
			c.Start(ctx)
			connectors[acc.TrackedAddress] = c
		}

		signer := exchange.NewRemoteSigner(acc.SignerURL, acc.SignerToken())
		exClient, err := exchange.NewClient(appCfg.Hyperliquid.ApiURL, acc.UserAddress, signer)
		if err != nil {
			log.Fatalf("create exchange client for %s: %v", acc.Name, err)
		}

		minValue := acc.MinOrderValue
		if minValue <= 0 {
			minValue = appCfg.Sync.DefaultMinOrderValue
		}
		executor := gateway.NewExecutor(acc.Name, metaCache, restClient, exClient, gateway.SlippageConfig{
			BasePct:      appCfg.Sync.SlippageBasePct,
			IncrementPct: appCfg.Sync.SlippageIncrementPct,
			MaxPct:       appCfg.Sync.SlippageMaxPct,
		}, minValue)

		st := state.NewManager(ctx, stateDao, acc.Name)
		managers[acc.Name] = st

		sc := syncer.New(acc, appCfg.Sync.Interval, restClient, executor, st, notifier, trades, snapshots)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sc.Run(ctx)
		}()
	}

	srv := server.New(appCfg.Listen, appCfg.Mode, connectors, managers)
	go srv.Run(ctx)

	<-ctx.Done()
	logger.Info("shutting down, waiting for in-flight cycles")
	wg.Wait()
	cache.CloseRedis()
}
