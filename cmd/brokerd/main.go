// Command brokerd is the chat automation broker's single process: it wires
// every internal package into one explicit services container and runs
// the event bus, pipeline engine, platform connections, DB logger tail,
// maintenance scheduler, gRPC server, and HTTP server until SIGINT/SIGTERM.
// Grounded on api_control/cmd/commodore/main.go's construct-then-wire-then-run
// shape (no init(), no package-level globals holding live connections).
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"chatbroker/internal/ai"
	"chatbroker/internal/chstore"
	"chatbroker/internal/config"
	"chatbroker/internal/credential"
	"chatbroker/internal/cryptoseal"
	"chatbroker/internal/dblogger"
	"chatbroker/internal/dbretry"
	"chatbroker/internal/eventbus"
	"chatbroker/internal/httpapi"
	"chatbroker/internal/identity"
	"chatbroker/internal/logging"
	"chatbroker/internal/maintenance"
	"chatbroker/internal/messagecache"
	"chatbroker/internal/metrics"
	"chatbroker/internal/models"
	"chatbroker/internal/pipeline"
	"chatbroker/internal/platform"
	"chatbroker/internal/plugin"
	"chatbroker/internal/repository/postgres"
	"chatbroker/internal/rpc"
	"chatbroker/internal/rpcauth"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

func main() {
	logger := logging.NewWithComponent("brokerd")
	config.LoadEnv(logger)

	jwtSecret := config.RequireEnv("JWT_SECRET")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")
	credentialSecret := config.RequireEnv("CREDENTIAL_SEAL_SECRET")

	m := metrics.New()

	sealer, err := cryptoseal.New([]byte(credentialSecret), "credential")
	if err != nil {
		logger.WithError(err).Fatal("brokerd: failed to construct credential sealer")
	}

	dbCfg := postgres.DefaultConfig()
	dbCfg.URL = config.RequireEnv("DATABASE_URL")
	conn, err := postgres.Connect(dbCfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("brokerd: failed to connect to postgres")
	}
	defer conn.Close()
	store := postgres.New(conn, logger)

	var chWriter driver.Conn
	if addr := config.GetEnv("CLICKHOUSE_ADDR", ""); addr != "" {
		chConn, err := chstore.Connect(chstore.Config{
			Addr:     []string{addr},
			Database: config.GetEnv("CLICKHOUSE_DATABASE", "default"),
			Username: config.GetEnv("CLICKHOUSE_USERNAME", "default"),
			Password: config.GetEnv("CLICKHOUSE_PASSWORD", ""),
		}, logger)
		if err != nil {
			logger.WithError(err).Warn("brokerd: ClickHouse unavailable, rollup export disabled")
		} else {
			chWriter = chConn
		}
	}

	identities := identity.New(store, logger)
	credentials := credential.New(store, sealer)

	bus := eventbus.New(logger, m)
	defer bus.Shutdown()

	if redisAddr := config.GetEnv("REDIS_ADDR", ""); redisAddr != "" {
		redisClient := goredis.NewUniversalClient(&goredis.UniversalOptions{Addrs: []string{redisAddr}})
		mirror := eventbus.NewRedisMirror(redisClient, config.GetEnv("REDIS_CHANNEL", "chatbroker:events"), logger)
		mirrorCtx, mirrorCancel := context.WithCancel(context.Background())
		defer mirrorCancel()
		go func() {
			if err := mirror.Subscribe(mirrorCtx, bus); err != nil {
				logger.WithError(err).Warn("brokerd: Redis mirror subscribe failed")
			}
		}()
	}

	connectRetry := dbretry.Policy{MaxRetries: 3, Delay: 2 * time.Second}
	platformManager := platform.NewManager(platform.ManagerConfig{
		Bus:          bus,
		Credentials:  credentials,
		Logger:       logger,
		Metrics:      m,
		ConnectRetry: connectRetry,
	})
	platformManager.RegisterFactory(models.PlatformTwitchChat, models.CredentialOAuth2, platform.NewTwitchChatRuntime(logger))
	platformManager.RegisterFactory(models.PlatformDiscord, models.CredentialOAuth2, platform.NewDiscordRuntime(logger))
	platformManager.RegisterFactory(models.PlatformOBS, models.CredentialOAuth2, platform.NewOBSRuntime(logger))
	platformManager.RegisterFactory(models.PlatformVRChat, models.CredentialOAuth2, platform.NewVRChatRuntime(logger))

	cache := messagecache.New(messagecache.Options{
		Capacity:           config.GetEnvInt("MESSAGE_CACHE_CAPACITY", 10000),
		MaxMessagesPerUser: config.GetEnvInt("MESSAGE_CACHE_PER_USER", 500),
	}, m)

	logTail := dblogger.New(dblogger.Config{
		Bus:     bus,
		Store:   store,
		Logger:  logger,
		Metrics: m,
	})

	registry := pipeline.NewRegistry()
	pipeline.RegisterBuiltinFilters(registry)
	pipeline.RegisterBuiltinActions(registry)

	pluginHost := plugin.New(plugin.PoolConfig{Logger: logger}, registry, plugin.DialHTTP)
	defer pluginHost.Close()

	aiResponder := ai.New(ai.LoadConfig())

	services := &pipeline.Services{
		Platforms:    platformManager,
		Identities:   identities,
		MessageCache: cache,
		Credentials:  credentials,
		Plugins:      pluginHost,
		AI:           aiResponder,
		Logger:       logger,
	}

	engine := pipeline.NewEngine(pipeline.EngineConfig{
		Registry: registry,
		Repo:     store,
		Services: services,
		Bus:      bus,
		Logger:   logger,
		Metrics:  m,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Load(ctx); err != nil {
		logger.WithError(err).Fatal("brokerd: failed to load pipelines")
	}

	maintenanceCfg := maintenance.Config{
		DB:     conn,
		Store:  store,
		Logger: logger,
	}
	if chWriter != nil {
		maintenanceCfg.ClickHouse = chWriter
	}
	scheduler := maintenance.New(maintenanceCfg)

	userSvc := rpc.NewUserService(identities, logTail)
	credSvc := rpc.NewCredentialService(credentials)
	aiSvc := rpc.NewAIService(aiResponder)
	pluginSvc := rpc.NewPluginService(pluginHost)
	platformSvc := rpc.NewPlatformService(platformManager)
	pipelineSvc := rpc.NewEventPipelineService(store, engine)
	commandSvc := rpc.NewCommandService(store, engine)
	redeemSvc := rpc.NewRedeemService(store, engine)

	issuer := rpcauth.NewIssuer([]byte(jwtSecret))

	go engine.Run(ctx)
	go logTail.Run(ctx)
	go scheduler.Run(ctx)

	grpcPort := config.GetEnv("GRPC_PORT", "19020")
	go func() {
		lis, err := net.Listen("tcp", ":"+grpcPort)
		if err != nil {
			logger.WithError(err).Fatal("brokerd: failed to listen on gRPC port")
		}
		server := rpc.NewGRPCServer(rpc.ServerConfig{ServiceToken: serviceToken, Logger: logger})
		logger.WithField("addr", ":"+grpcPort).Info("brokerd: starting gRPC server")
		if err := server.Serve(lis); err != nil {
			logger.WithError(err).Fatal("brokerd: gRPC server failed")
		}
	}()

	httpCfg := httpapi.DefaultConfig("8090")
	httpCfg.ServiceToken = serviceToken
	router := httpapi.NewRouter(httpapi.Deps{
		DB:          conn,
		Users:       userSvc,
		Credentials: credSvc,
		Commands:    commandSvc,
		Redeems:     redeemSvc,
		AI:          aiSvc,
		Plugins:     pluginSvc,
		Platforms:   platformSvc,
		Pipelines:   pipelineSvc,
		Issuer:      issuer,
	}, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("brokerd: shutdown signal received")
		cancel()
	}()

	if err := httpapi.Start(httpCfg, router, logger); err != nil {
		logger.WithError(err).Fatal("brokerd: HTTP server failed")
	}
}
