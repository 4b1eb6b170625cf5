package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/degenduel/duel-settlement/api"
	"github.com/degenduel/duel-settlement/business/domain/attestation"
	"github.com/degenduel/duel-settlement/business/domain/duel"
	"github.com/degenduel/duel-settlement/business/domain/events"
	"github.com/degenduel/duel-settlement/business/domain/price"
	"github.com/degenduel/duel-settlement/business/domain/round"
	"github.com/degenduel/duel-settlement/business/retry"
	"github.com/degenduel/duel-settlement/config"
	"github.com/degenduel/duel-settlement/entities"
	"github.com/degenduel/duel-settlement/external/chain"
	"github.com/degenduel/duel-settlement/external/fdc"
	"github.com/degenduel/duel-settlement/external/flock"
	"github.com/degenduel/duel-settlement/external/kafka"
	"github.com/degenduel/duel-settlement/metrics"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/jellydator/ttlcache/v3"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("main: exited with error: %s", err.Error())
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Printf("main: No .env file loaded: %v", err)
	}

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		if errors.Is(err, config.ErrHelp) {
			return nil
		}
		return err
	}
	log.Printf("main: Config :\n%v\n", cfg)

	zapConfig := zap.NewProductionConfig()
	// this is just for sugar, to display a readable date instead of an epoch time
	zapConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.DateTime)
	logger, err := zapConfig.Build()
	if err != nil {
		return fmt.Errorf("creating logger: %v", err)
	}
	defer logger.Sync()
	sLogger := logger.Sugar()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serviceMetrics := metrics.NewMetrics(cfg.MetricsNamespace)

	rpcClient, err := rpc.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fmt.Errorf("creating rpc client: %v", err)
	}
	defer rpcClient.Close()
	if err := chain.VerifyChainID(ctx, rpcClient, cfg.Chain.ChainID); err != nil {
		return fmt.Errorf("verifying chain id: %v", err)
	}
	reader := chain.NewReader(rpcClient, cfg.Prices.FtsoAddress, cfg.Chain.ContractAddress)

	// attestation pipeline
	intermediary := fdc.NewIntermediary(cfg.Fdc.IntermediaryURL, cfg.Fdc.RequestTimeout)
	var proofs attestation.ProofSource = intermediary
	if cfg.Fdc.DALayerURL != "" {
		log.Printf("main: Polling proofs from data availability layer [%s].", cfg.Fdc.DALayerURL)
		proofs = fdc.NewDALayer(cfg.Fdc.DALayerURL, cfg.Fdc.RequestTimeout)
	}
	attestationClient := attestation.NewClient(
		fdc.NewVerifier(cfg.Fdc.VerifierURL, cfg.Fdc.VerifierAPIKey, cfg.Fdc.RequestTimeout),
		intermediary,
		proofs,
		round.NewCalculator(cfg.Fdc.EpochOrigin, cfg.Fdc.EpochDuration),
		policies(cfg),
		sLogger,
	)
	tracker := duel.NewTracker(attestationClient, serviceMetrics, nil, sLogger)
	registry := duel.NewRegistry(ctx, tracker)

	// prices
	pricePolicy := price.DefaultPolicy()
	pricePolicy.MaxAttempts = cfg.Prices.Attempts
	pricePolicy.InitialDelay = cfg.Prices.RetryDelay
	aggregator := price.NewAggregator(reader, pricePolicy, serviceMetrics, sLogger, price.WithFetchTimeout(cfg.Prices.FetchTimeout))
	priceCache := ttlcache.New[string, []entities.PriceQuote](
		ttlcache.WithTTL[string, []entities.PriceQuote](cfg.Prices.CacheTTL),
		ttlcache.WithDisableTouchOnHit[string, []entities.PriceQuote](), // don't refresh ttl upon getting the item from cache
	)
	go priceCache.Start()
	defer priceCache.Stop()
	prices := api.NewPriceCache(aggregator, priceCache)

	// events
	subscriber := chain.NewSubscriber(cfg.Chain.WSURL, cfg.Chain.ContractAddress, cfg.Events.ConnectTimeout)
	dial := func(ctx context.Context) (events.Subscription, error) {
		sub, err := subscriber.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return sub, nil
	}
	watcher := events.NewWatcher(dial, chain.NewLogPoller(rpcClient, cfg.Chain.ContractAddress),
		cfg.Events.PollInterval, cfg.Events.DedupTTL, serviceMetrics, sLogger)
	defer watcher.Stop()

	var publisher Publisher = logPublisher{logger: sLogger}
	if cfg.Kafka.Enabled {
		m := kprom.NewMetrics(cfg.MetricsNamespace,
			kprom.Registerer(prometheus.DefaultRegisterer),
			kprom.Gatherer(prometheus.DefaultGatherer))
		kcl, err := kgo.NewClient(
			kgo.WithHooks(m),
			kgo.SeedBrokers(cfg.Kafka.BootstrapServers...),
			kgo.ProducerBatchCompression(kgo.ZstdCompression()),
		)
		if err != nil {
			return fmt.Errorf("creating kafka client: %v", err)
		}
		defer kcl.Close()
		publisher = kafka.NewClient(kcl, cfg.Kafka.EventTopic, cfg.Kafka.PriceTopic, sLogger)
	} else {
		log.Println("[WARN] main: Kafka publishing disabled")
	}

	go relayEvents(ctx, watcher, publisher, cfg.Events.RestartDelay, sLogger)
	go relayPrices(ctx, aggregator.Stream(ctx, cfg.Prices.FeedIDs, cfg.Prices.Interval), cfg.Prices.FeedIDs, prices, publisher, sLogger)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	apiError := make(chan error, 1)
	go func() {
		mux := http.NewServeMux()
		hints := flock.NewClient(cfg.Flock.URL, cfg.Flock.APIKey, cfg.Flock.Model, cfg.Flock.Timeout, sLogger)
		handler := api.NewHandler(registry, prices, cfg.Prices.FeedIDs, hints, reader, sLogger)
		handler.RegisterRoutes(mux)
		log.Printf("main: Starting server on [%s].", cfg.Server.HttpHost)
		apiError <- http.ListenAndServe(cfg.Server.HttpHost, mux)
	}()

	metricsError := make(chan error, 1)
	go func() {
		log.Printf("main: Starting metrics server on [%s].", cfg.Server.MetricsHttpHost)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsError <- http.ListenAndServe(cfg.Server.MetricsHttpHost, mux)
	}()

	log.Println("main: Service started.")

	for {
		select {
		case <-shutdown:
			log.Println("main: Received shutdown signal, shutting down...")
			return nil
		case err := <-apiError:
			return fmt.Errorf("server error: %v", err)
		case err := <-metricsError:
			return fmt.Errorf("metrics server error: %v", err)
		}
	}
}

func policies(cfg config.Config) attestation.Policies {
	p := attestation.DefaultPolicies()
	p.Prepare.MaxAttempts = cfg.Fdc.PrepareAttempts
	p.Submit = retry.Policy{MaxAttempts: cfg.Fdc.SubmitAttempts, InitialDelay: cfg.Fdc.SubmitDelay, Factor: 2}
	p.Proof.MaxAttempts = cfg.Fdc.ProofAttempts
	p.Proof.InitialDelay = cfg.Fdc.ProofPollDelay
	p.Proof.MaxDelay = cfg.Fdc.ProofPollMax
	p.Proof.MaxElapsed = cfg.Fdc.ProofTimeout
	p.ProofTimeout = cfg.Fdc.ProofTimeout
	return p
}
