// Binary watchdog monitors the engine's heartbeat file and raises an alert
// when it goes stale. It runs as a separate process so an engine hang cannot
// take the alerting down with it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrADeveci/fusion-sniper-bot/internal/config"
	"github.com/MrADeveci/fusion-sniper-bot/internal/notify"
	"github.com/MrADeveci/fusion-sniper-bot/internal/schedule"
	"github.com/MrADeveci/fusion-sniper-bot/internal/status"
	"github.com/MrADeveci/fusion-sniper-bot/internal/util"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot := util.NewLogger("info")
		boot.Fatal().Err(err).Msg("load config")
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	log := util.NewLogger(cfg.App.LogLevel)
	if cfg.System.StatusFile == "" {
		log.Fatal().Msg("system.status_file is required for the watchdog")
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sched, err := schedule.New(cfg.Trading, cfg.Broker.TimezoneOffset)
	if err != nil {
		log.Fatal().Err(err).Msg("trading hours config")
	}

	notifier := notify.New(cfg.Telegram, log)
	maxAge := time.Duration(cfg.System.WatchdogStaleSecs) * time.Second
	interval := time.Duration(cfg.System.WatchdogIntervalSecs) * time.Second
	log.Info().Str("file", cfg.System.StatusFile).Dur("max_age", maxAge).Msg("watchdog started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	alerted := false
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("watchdog stopped")
			return
		case <-ticker.C:
		}

		rec, err := status.Read(cfg.System.StatusFile)
		if err != nil {
			if !alerted {
				log.Error().Err(err).Msg("status file unreadable")
				notifier.Send(fmt.Sprintf("watchdog: status file unreadable: %v", err))
				alerted = true
			}
			continue
		}
		if rec.Stale(time.Now(), maxAge) {
			// A quiet engine over the weekend is expected, not an incident.
			if !sched.MarketOpen(time.Now()) {
				continue
			}
			if !alerted {
				age := time.Since(rec.HeartbeatTS).Round(time.Second)
				log.Error().
					Time("heartbeat", rec.HeartbeatTS).
					Int("pid", rec.PID).
					Msg("engine heartbeat stale")
				notifier.Send(fmt.Sprintf("watchdog: %s heartbeat stale for %s (pid %d)",
					rec.Symbol, age, rec.PID))
				alerted = true
			}
			continue
		}
		if alerted {
			log.Info().Msg("engine heartbeat recovered")
			notifier.Send("watchdog: heartbeat recovered")
			alerted = false
		}
	}
}
