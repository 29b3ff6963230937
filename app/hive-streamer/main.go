package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/qubic/hive-streamer/api"
	"github.com/qubic/hive-streamer/domain/contract"
	"github.com/qubic/hive-streamer/domain/dispatch"
	"github.com/qubic/hive-streamer/domain/fairness"
	"github.com/qubic/hive-streamer/domain/games"
	"github.com/qubic/hive-streamer/domain/games/coinflip"
	"github.com/qubic/hive-streamer/domain/games/lotto"
	"github.com/qubic/hive-streamer/domain/streamer"
	"github.com/qubic/hive-streamer/entities"
	"github.com/qubic/hive-streamer/external/elastic"
	"github.com/qubic/hive-streamer/external/hive"
	"github.com/qubic/hive-streamer/external/kafka"
	"github.com/qubic/hive-streamer/infrastructure/store/jsonfile"
	"github.com/qubic/hive-streamer/infrastructure/store/pebbledb"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

const prefix = "HIVE_STREAMER"

type stateStore interface {
	streamer.StateStore
	Close() error
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("main: exited with error: %s", err.Error())
	}
}

func run() error {
	var cfg struct {
		Hive struct {
			ApiNodes      []string      `conf:"default:https://api.hive.blog;https://api.deathwing.me;https://hive-api.arcange.eu"`
			FetchTimeout  time.Duration `conf:"default:10s"`
			BaseTimeout   time.Duration `conf:"default:2s"`
			BlockCacheTTL time.Duration `conf:"default:10m"`
		}
		Streamer struct {
			PollInterval        time.Duration `conf:"default:3s"`
			BlocksBehindWarning uint64        `conf:"default:25"`
			StartBlock          uint64        `conf:"optional"`
			StateStore          string        `conf:"default:json"`
			StateFile           string        `conf:"default:hive-stream.json"`
			StoreFolder         string        `conf:"default:store"`
		}
		Events struct {
			Backend string `conf:"default:pebble"`
		}
		Elastic struct {
			Addresses       []string `conf:"default:https://localhost:9200"`
			Username        string   `conf:"default:hive-streamer"`
			Password        string   `conf:"optional,mask"`
			CertificatePath string   `conf:"default:http_ca.crt"`
			EventsIndex     string   `conf:"default:hive-contract-events"`
		}
		Kafka struct {
			BootstrapServers []string `conf:"default:localhost:9092"`
			OperationsTopic  string   `conf:"default:hive-outgoing-operations"`
		}
		Games struct {
			Account           string   `conf:"default:beggars"`
			ValidCurrencies   []string `conf:"default:HIVE"`
			Coinflip          bool     `conf:"default:true"`
			CoinflipMaxAmount int64    `conf:"default:20"`
			CoinflipWinFee    string   `conf:"default:0.000"`
			Lotto             bool     `conf:"default:true"`
			LottoTicketCost   int64    `conf:"default:10"`
			LottoMaxEntries   int      `conf:"default:50"`
			LottoHouseCut     int64    `conf:"default:5"`
		}
		ServerListenAddr string `conf:"default:0.0.0.0:8000"`
		MetricsNamespace string `conf:"default:hive-streamer"`
		Debug            bool   `conf:"default:false"`
	}

	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch {
		case errors.Is(err, conf.ErrHelpWanted):
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return errors.Wrap(err, "generating config usage")
			}
			fmt.Println(usage)
			return nil
		case errors.Is(err, conf.ErrVersionWanted):
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return errors.Wrap(err, "generating config version")
			}
			fmt.Println(version)
			return nil
		}
		return errors.Wrap(err, "parsing config")
	}

	out, err := conf.String(&cfg)
	if err != nil {
		return errors.Wrap(err, "generating config for output")
	}
	log.Printf("main: Config :\n%v\n", out)

	config := zap.NewProductionConfig()
	// this is just for sugar, to display a readable date instead of an epoch time
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.DateTime)
	if cfg.Debug {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := config.Build()
	if err != nil {
		return errors.Wrap(err, "creating logger")
	}
	defer logger.Sync()
	sLogger := logger.Sugar()

	// pebble is opened when it holds the position or the events
	var pebbleStore *pebbledb.Store
	if cfg.Streamer.StateStore == "pebble" || cfg.Events.Backend == "pebble" {
		pebbleStore, err = pebbledb.NewProcessorStore(cfg.Streamer.StoreFolder)
		if err != nil {
			return errors.Wrap(err, "creating processor store")
		}
		defer pebbleStore.Close()
	}

	var store stateStore
	switch cfg.Streamer.StateStore {
	case "pebble":
		store = pebbleStore
	case "json":
		store = jsonfile.NewStore(cfg.Streamer.StateFile)
	default:
		return errors.Errorf("unknown state store [%s]", cfg.Streamer.StateStore)
	}

	var adapter games.Adapter
	switch cfg.Events.Backend {
	case "pebble":
		adapter = pebbleStore.Events()
	case "elastic":
		cert, err := os.ReadFile(cfg.Elastic.CertificatePath)
		if err != nil {
			log.Printf("[WARN] main: could not read elastic certificate: %v", err)
		}
		esClient, err := elasticsearch.NewClient(elasticsearch.Config{
			Addresses:     cfg.Elastic.Addresses,
			Username:      cfg.Elastic.Username,
			Password:      cfg.Elastic.Password,
			CACert:        cert,
			RetryOnStatus: []int{502, 503, 504, 429},
		})
		if err != nil {
			return errors.Wrap(err, "creating elasticsearch client")
		}
		eventStore := elastic.NewEventStore(esClient, cfg.Elastic.EventsIndex)
		if err := eventStore.EnsureIndex(context.Background()); err != nil {
			return errors.Wrap(err, "creating events index")
		}
		adapter = eventStore
	default:
		return errors.Errorf("unknown events backend [%s]", cfg.Events.Backend)
	}

	kafkaMetrics := kprom.NewMetrics(cfg.MetricsNamespace,
		kprom.Registerer(prometheus.DefaultRegisterer),
		kprom.Gatherer(prometheus.DefaultGatherer))
	kcl, err := kgo.NewClient(
		kgo.WithHooks(kafkaMetrics),
		kgo.DefaultProduceTopic(cfg.Kafka.OperationsTopic),
		kgo.SeedBrokers(cfg.Kafka.BootstrapServers...),
		kgo.ProducerBatchCompression(kgo.ZstdCompression()),
	)
	if err != nil {
		return errors.Wrap(err, "creating kafka client")
	}
	defer kcl.Close()
	broadcaster := kafka.NewBroadcaster(kcl)

	blocks := hive.NewBlockCache(cfg.Hive.BlockCacheTTL, 1000)
	go blocks.Start()
	defer blocks.Stop()
	dialer := func(endpoint string, timeout time.Duration) (streamer.Gateway, error) {
		return hive.NewClient(endpoint, timeout, blocks), nil
	}
	conn, err := streamer.NewConnection(cfg.Hive.ApiNodes, dialer, cfg.Hive.BaseTimeout)
	if err != nil {
		return errors.Wrap(err, "connecting to hive")
	}
	logHouseAccount(sLogger, conn.Endpoint(), cfg.Hive.FetchTimeout, cfg.Games.Account)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := fairness.NewEngine()
	registry := contract.NewRegistry()
	if cfg.Games.Coinflip {
		winFee, err := entities.ParseAsset(cfg.Games.CoinflipWinFee + " HIVE")
		if err != nil {
			return errors.Wrap(err, "parsing coinflip win fee")
		}
		coinflipConfig := coinflip.Config{
			Account:         cfg.Games.Account,
			ValidCurrencies: cfg.Games.ValidCurrencies,
			MaxAmount:       cfg.Games.CoinflipMaxAmount,
			WinFee:          winFee.Amount,
			LossConsolation: coinflip.DefaultConfig().LossConsolation,
		}
		err = registry.Register(ctx, coinflip.Name, coinflip.NewContract(coinflipConfig, conn, adapter, broadcaster, engine, sLogger.Named(coinflip.Name)))
		if err != nil {
			return errors.Wrap(err, "registering coinflip")
		}
	}
	if cfg.Games.Lotto {
		lottoConfig := lotto.Config{
			Account:         cfg.Games.Account,
			ValidCurrencies: cfg.Games.ValidCurrencies,
			TicketCost:      cfg.Games.LottoTicketCost,
			MaxEntries:      cfg.Games.LottoMaxEntries,
			HouseCut:        cfg.Games.LottoHouseCut,
		}
		err = registry.Register(ctx, lotto.Name, lotto.NewContract(lottoConfig, conn, adapter, broadcaster, engine, sLogger.Named(lotto.Name)))
		if err != nil {
			return errors.Wrap(err, "registering lotto")
		}
	}
	defer func() {
		for _, name := range registry.Names() {
			if err := registry.Unregister(context.Background(), name); err != nil {
				sLogger.Errorw("Error unregistering contract", "contract", name, "error", err)
			}
		}
	}()

	dispatcher := dispatch.NewDispatcher(registry, sLogger)
	dispatcher.OnTransfer(cfg.Games.Account, func(_ context.Context, op entities.TransferOperation, meta entities.OperationMeta) error {
		sLogger.Debugw("Incoming transfer", "from", op.From, "amount", op.Amount, "block", meta.BlockNumber, "trx", meta.TransactionID)
		return nil
	})

	poller := streamer.NewPoller(streamer.Config{
		PollInterval:        cfg.Streamer.PollInterval,
		BlocksBehindWarning: cfg.Streamer.BlocksBehindWarning,
		FetchTimeout:        cfg.Hive.FetchTimeout,
		BaseTimeout:         cfg.Hive.BaseTimeout,
		StartBlock:          cfg.Streamer.StartBlock,
	}, conn, store, dispatcher, streamer.TimerScheduler{}, streamer.NewMetrics(cfg.MetricsNamespace), sLogger)

	handler := api.NewHandler(store, registry)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handler.GetHealth)
	mux.HandleFunc("/v1/status", handler.GetStatus)
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: cfg.ServerListenAddr, Handler: mux}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return poller.Start(groupCtx)
	})
	group.Go(func() error {
		sLogger.Infow("Starting server", "addr", cfg.ServerListenAddr)
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "server error")
	})
	group.Go(func() error {
		select {
		case <-shutdown:
			sLogger.Infow("Received shutdown signal, shutting down...")
		case <-groupCtx.Done():
		}
		poller.Stop()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	sLogger.Infow("Service started", "contracts", registry.Names(), "node", conn.Endpoint())
	return group.Wait()
}

func logHouseAccount(logger *zap.SugaredLogger, endpoint string, timeout time.Duration, account string) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	houseAccount, err := hive.NewClient(endpoint, timeout, nil).GetAccount(ctx, account)
	if err != nil {
		logger.Warnw("Could not read house account", "account", account, "error", err)
		return
	}
	logger.Infow("House account", "account", houseAccount.Name, "balance", houseAccount.Balance.String())
}
