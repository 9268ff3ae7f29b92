package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/MrADeveci/fusion-sniper-bot/internal/config"
	"github.com/MrADeveci/fusion-sniper-bot/internal/engine"
	"github.com/MrADeveci/fusion-sniper-bot/internal/market"
	"github.com/MrADeveci/fusion-sniper-bot/internal/metrics"
	"github.com/MrADeveci/fusion-sniper-bot/internal/news"
	"github.com/MrADeveci/fusion-sniper-bot/internal/notify"
	"github.com/MrADeveci/fusion-sniper-bot/internal/stats"
	"github.com/MrADeveci/fusion-sniper-bot/internal/util"
)

const startPrice = 1.0800

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot := util.NewLogger("info")
		boot.Fatal().Err(err).Msg("load config")
	}
	applyEnvOverrides(cfg)
	log := util.NewLogger(cfg.App.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	if cfg.App.MetricsAddr != "" {
		_ = metrics.Serve(cfg.App.MetricsAddr)
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	venue := buildVenue(ctx, cfg, log, cancel)
	filter := news.NewFilter(cfg.News, log)
	notifier := notify.New(cfg.Telegram, log)
	tracker := stats.NewTracker(cfg.Statistics, log)

	eng, err := engine.New(ctx, cfg, venue, filter, notifier, tracker, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build engine")
	}

	err = eng.Run(ctx)
	summary := tracker.Summary()
	log.Info().
		Int("trades", summary.Trades).
		Float64("win_rate", summary.WinRatePct).
		Float64("net", summary.NetProfit).
		Msg("session summary")
	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("engine stopped")
		os.Exit(1)
	}
	log.Info().Msg("shutdown complete")
}

// applyEnvOverrides lets secrets come from the environment instead of YAML.
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("STREAM_URL"); v != "" {
		cfg.System.StreamURL = v
	}
}

// buildVenue wires the simulated execution venue. In stream mode live kline
// bars drive it; in sim mode a random walk does, so the engine can run end to
// end without an exchange account.
func buildVenue(ctx context.Context, cfg *config.Config, log zerolog.Logger, cancel context.CancelFunc) market.Venue {
	info := market.SymbolInfo{
		Point:        0.00001,
		PipSize:      0.0001,
		LotStep:      0.01,
		MinLot:       0.01,
		MaxLot:       100,
		ContractSize: 100000,
	}

	if cfg.System.DataMode == "stream" {
		sim := market.NewSim(cfg.Broker.Symbol, info, 10000, nil)
		stream := market.NewBarStream(cfg.System.StreamURL, cfg.Trading.MarketDataBars, log)
		stream.OnFinalBar(sim.Advance)
		go func() {
			if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("bar stream stopped")
				cancel()
			}
		}()
		return sim
	}

	// Sim mode: seed history, then synthesize one bar per loop interval.
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	interval := cfg.MainLoopInterval()
	bars := syntheticBars(rng, cfg.Trading.MarketDataBars, interval)
	sim := market.NewSim(cfg.Broker.Symbol, info, 10000, bars)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		px := bars[len(bars)-1].Close
		for {
			select {
			case <-ctx.Done():
				return
			case at := <-ticker.C:
				bar := nextBar(rng, px, at)
				px = bar.Close
				sim.Advance(bar)
			}
		}
	}()
	return sim
}

func syntheticBars(rng *rand.Rand, n int, interval time.Duration) []market.PriceBar {
	base := time.Now().Add(-time.Duration(n) * interval)
	bars := make([]market.PriceBar, 0, n)
	px := startPrice
	for i := 0; i < n; i++ {
		bar := nextBar(rng, px, base.Add(time.Duration(i)*interval))
		px = bar.Close
		bars = append(bars, bar)
	}
	return bars
}

// nextBar draws a small random walk step with a pip or two of wick.
func nextBar(rng *rand.Rand, px float64, at time.Time) market.PriceBar {
	drift := (rng.Float64() - 0.5) * 0.0004
	wick := rng.Float64() * 0.0002
	open := px
	close := px + drift
	high := open
	if close > high {
		high = close
	}
	low := open
	if close < low {
		low = close
	}
	return market.PriceBar{
		Time:   at,
		Open:   open,
		High:   high + wick,
		Low:    low - wick,
		Close:  close,
		Volume: 1 + rng.Float64()*10,
	}
}
