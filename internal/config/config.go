// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, metrics address, and logging level.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Broker identifies the venue account and the strategy instance trading on it.
type Broker struct {
	Symbol          string `yaml:"symbol"`
	MagicNumber     int64  `yaml:"magic_number"`
	Account         string `yaml:"account"`
	Server          string `yaml:"server"`
	AccountCurrency string `yaml:"account_currency"`
	TimezoneOffset  int    `yaml:"broker_timezone_offset"` // hours ahead of local time
}

// TradingHours encodes the weekly open/close schedule for the instrument.
type TradingHours struct {
	SaturdayClosed  bool `yaml:"saturday_closed"`
	SundayClosed    bool `yaml:"sunday_closed"`
	SundayOpenHour  int  `yaml:"sunday_open_hour"`
	MondayOpenHour  int  `yaml:"monday_open_hour"`
	FridayCloseHour int  `yaml:"friday_close_hour"`
}

// SwapWindow is a server-time interval during which new entries are suppressed.
type SwapWindow struct {
	Start string `yaml:"start"` // "HH:MM"
	End   string `yaml:"end"`
}

// Volatility configures scalp-mode switching and the extreme-ATR entry cutoff.
type Volatility struct {
	Enabled             bool    `yaml:"enabled"`
	ATRPeriod           int     `yaml:"atr_period"`
	ScalpThreshold      float64 `yaml:"atr_scalp_threshold"`
	ScalpProfitTarget   float64 `yaml:"scalp_profit_target"`
	ScalpCooldownSecs   int     `yaml:"scalp_cooldown_seconds"`
	NormalCooldownSecs  int     `yaml:"normal_cooldown_seconds"`
	SkipOnExtremeATR    bool    `yaml:"skip_trading_when_atr_extreme"`
	ATRMaxForTrading    float64 `yaml:"atr_max_for_trading"`
}

// Trading groups order sizing, stop placement, and position-management knobs.
type Trading struct {
	Timeframe             string       `yaml:"timeframe"`
	LotSize               float64      `yaml:"lot_size"`
	MaxPositions          int          `yaml:"max_positions"`
	MarketDataBars        int          `yaml:"market_data_bars"`
	StopLossATRMultiple   float64      `yaml:"stop_loss_atr_multiple"`
	TakeProfitATRMultiple float64      `yaml:"take_profit_atr_multiple"`
	UseSmartBreakeven     bool         `yaml:"use_smart_breakeven"`
	BreakevenProfitMult   float64      `yaml:"breakeven_profit_multiple"`
	BreakevenLockMult     float64      `yaml:"breakeven_lock_profit_multiple"`
	UseTrailingStop       bool         `yaml:"use_trailing_stop"`
	TrailingATRMultiple   float64      `yaml:"trailing_stop_atr_multiple"`
	TrailActivationMult   float64      `yaml:"min_profit_for_trail_activation"`
	Hours                 TradingHours `yaml:"trading_hours"`
	SwapAvoidanceEnabled  bool         `yaml:"swap_avoidance_enabled"`
	SwapWindows           []SwapWindow `yaml:"swap_avoidance_windows"`
	Volatility            Volatility   `yaml:"volatility_detection"`
}

// TrendFilter tightens entry requirements for one or both sides inside a weekly time window.
type TrendFilter struct {
	Enabled          bool `yaml:"enabled"`
	Weekday          int  `yaml:"weekday"` // 0=Sunday ... 6=Saturday, time.Weekday numbering
	StartHour        int  `yaml:"start_hour"`
	EndHour          int  `yaml:"end_hour"`
	ExtraBuy         int  `yaml:"extra_buy_conditions"`
	ExtraSell        int  `yaml:"extra_sell_conditions"`
	RequireTrendFlag bool `yaml:"require_trend_flag"`
}

// Strategy holds indicator periods and signal thresholds.
type Strategy struct {
	MinConditionsRequired int         `yaml:"min_conditions_required"`
	EMAFastPeriod         int         `yaml:"ema_fast_period"`
	EMASlowPeriod         int         `yaml:"ema_slow_period"`
	EMATrendPeriod        int         `yaml:"ema_trend_period"`
	RSIPeriod             int         `yaml:"rsi_period"`
	RSIOversold           float64     `yaml:"rsi_oversold"`
	RSIOverbought         float64     `yaml:"rsi_overbought"`
	ADXPeriod             int         `yaml:"adx_period"`
	ADXThreshold          float64     `yaml:"adx_threshold"`
	StochasticK           int         `yaml:"stochastic_k"`
	StochasticD           int         `yaml:"stochastic_d"`
	StochasticOversold    float64     `yaml:"stochastic_oversold"`
	StochasticOverbought  float64     `yaml:"stochastic_overbought"`
	BollingerPeriod       int         `yaml:"bollinger_period"`
	BollingerStd          float64     `yaml:"bollinger_std"`
	UseBollingerCondition bool        `yaml:"use_bollinger_condition"`
	TrendFilter           TrendFilter `yaml:"trend_filter"`
}

// Risk encodes pre-trade limits and the daily/weekly loss and profit caps.
type Risk struct {
	RiskPerTradePct    float64 `yaml:"risk_per_trade_pct"` // 0 disables equity-based sizing
	MaxDailyLoss       float64 `yaml:"max_daily_loss"`     // account currency, positive
	MaxWeeklyLoss      float64 `yaml:"max_weekly_loss"`
	DailyProfitTarget  float64 `yaml:"daily_profit_target"`
	MaxDrawdownPercent float64 `yaml:"max_drawdown_percent"`
	MaxExposureLots    float64 `yaml:"max_exposure_lots"`
	LossLimitByEquity  bool    `yaml:"loss_limit_by_equity"`
	WeekStartDay       int     `yaml:"week_start_day"` // time.Weekday numbering, default Monday
	Timezone           string  `yaml:"timezone"`
	StatePath          string  `yaml:"state_path"`
}

// News configures the economic calendar fetch, cache, and blackout buffers.
type News struct {
	Enabled             bool     `yaml:"enabled"`
	APIURL              string   `yaml:"api_url"`
	BufferBeforeMins    int      `yaml:"buffer_before_minutes"`
	BufferAfterMins     int      `yaml:"buffer_after_minutes"`
	HolidayBufferHours  int      `yaml:"holiday_buffer_hours"`
	CheckIntervalSecs   int      `yaml:"check_interval_seconds"`
	ImpactLevels        []string `yaml:"impact_levels"`
	MonitoredCurrencies []string `yaml:"monitored_currencies"`
	CachePath           string   `yaml:"cache_path"`
	CacheMaxAgeMins     int      `yaml:"cache_max_age_minutes"`
	APITimeoutSecs      int      `yaml:"api_timeout_seconds"`
	MaxRetries          int      `yaml:"max_retries"`
	RetryDelaySecs      int      `yaml:"retry_delay_seconds"`
	WeeklySummary       bool     `yaml:"weekly_summary_enabled"`
	WeeklySummaryDay    int      `yaml:"weekly_summary_day"`
	WeeklySummaryHour   int      `yaml:"weekly_summary_hour_gmt"`
}

// Telegram holds notification channel credentials; the token normally arrives via env overlay.
type Telegram struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// Statistics configures the append-only trade performance tracker.
type Statistics struct {
	Enabled          bool   `yaml:"enabled"`
	LogFile          string `yaml:"log_file"`
	MaxTradesHistory int    `yaml:"max_trades_history"`
}

// System covers loop pacing, the status surface, and the data source mode.
type System struct {
	MainLoopIntervalSecs   int    `yaml:"main_loop_interval"`
	PausedLoopIntervalSecs int    `yaml:"paused_loop_interval"`
	IdleLoopIntervalSecs   int    `yaml:"idle_loop_interval"`
	StatusFile             string `yaml:"status_file"`
	DataMode               string `yaml:"data_mode"`  // "sim" or "stream"
	StreamURL              string `yaml:"stream_url"` // websocket kline endpoint for stream mode
	WatchdogStaleSecs      int    `yaml:"watchdog_stale_seconds"`
	WatchdogIntervalSecs   int    `yaml:"watchdog_interval_seconds"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App        App        `yaml:"app"`
	Broker     Broker     `yaml:"broker"`
	Trading    Trading    `yaml:"trading"`
	Strategy   Strategy   `yaml:"strategy"`
	Risk       Risk       `yaml:"risk"`
	News       News       `yaml:"news_filter"`
	Telegram   Telegram   `yaml:"telegram"`
	Statistics Statistics `yaml:"statistics"`
	System     System     `yaml:"system"`
}

// Load reads a YAML file from disk and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.applyDefaults()
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Trading.MarketDataBars == 0 {
		c.Trading.MarketDataBars = 300
	}
	if c.Trading.MaxPositions == 0 {
		c.Trading.MaxPositions = 1
	}
	if c.Trading.StopLossATRMultiple == 0 {
		c.Trading.StopLossATRMultiple = 1.0
	}
	if c.Trading.TakeProfitATRMultiple == 0 {
		c.Trading.TakeProfitATRMultiple = 2.0
	}
	if c.Trading.Volatility.ATRPeriod == 0 {
		c.Trading.Volatility.ATRPeriod = 14
	}
	if c.Trading.Volatility.NormalCooldownSecs == 0 {
		c.Trading.Volatility.NormalCooldownSecs = 60
	}
	if c.Trading.Volatility.ScalpCooldownSecs == 0 {
		c.Trading.Volatility.ScalpCooldownSecs = 30
	}
	if c.Strategy.MinConditionsRequired == 0 {
		c.Strategy.MinConditionsRequired = 3
	}
	if c.Strategy.EMAFastPeriod == 0 {
		c.Strategy.EMAFastPeriod = 21
	}
	if c.Strategy.EMASlowPeriod == 0 {
		c.Strategy.EMASlowPeriod = 50
	}
	if c.Strategy.EMATrendPeriod == 0 {
		c.Strategy.EMATrendPeriod = 200
	}
	if c.Strategy.RSIPeriod == 0 {
		c.Strategy.RSIPeriod = 14
	}
	if c.Strategy.RSIOversold == 0 {
		c.Strategy.RSIOversold = 30
	}
	if c.Strategy.RSIOverbought == 0 {
		c.Strategy.RSIOverbought = 70
	}
	if c.Strategy.ADXPeriod == 0 {
		c.Strategy.ADXPeriod = 14
	}
	if c.Strategy.ADXThreshold == 0 {
		c.Strategy.ADXThreshold = 25
	}
	if c.Strategy.StochasticK == 0 {
		c.Strategy.StochasticK = 14
	}
	if c.Strategy.StochasticD == 0 {
		c.Strategy.StochasticD = 3
	}
	if c.Strategy.StochasticOversold == 0 {
		c.Strategy.StochasticOversold = 20
	}
	if c.Strategy.StochasticOverbought == 0 {
		c.Strategy.StochasticOverbought = 80
	}
	if c.Strategy.BollingerPeriod == 0 {
		c.Strategy.BollingerPeriod = 20
	}
	if c.Strategy.BollingerStd == 0 {
		c.Strategy.BollingerStd = 2
	}
	if c.Risk.WeekStartDay == 0 {
		c.Risk.WeekStartDay = int(time.Monday)
	}
	if c.Risk.Timezone == "" {
		c.Risk.Timezone = "Local"
	}
	if c.News.APIURL == "" {
		c.News.APIURL = "https://nfs.faireconomy.media/ff_calendar_thisweek.xml"
	}
	if c.News.BufferBeforeMins == 0 {
		c.News.BufferBeforeMins = 30
	}
	if c.News.BufferAfterMins == 0 {
		c.News.BufferAfterMins = 30
	}
	if c.News.HolidayBufferHours == 0 {
		c.News.HolidayBufferHours = 12
	}
	if c.News.CheckIntervalSecs == 0 {
		c.News.CheckIntervalSecs = 300
	}
	if c.News.CacheMaxAgeMins == 0 {
		c.News.CacheMaxAgeMins = 10
	}
	if c.News.APITimeoutSecs == 0 {
		c.News.APITimeoutSecs = 10
	}
	if c.News.MaxRetries == 0 {
		c.News.MaxRetries = 3
	}
	if c.News.RetryDelaySecs == 0 {
		c.News.RetryDelaySecs = 2
	}
	if len(c.News.ImpactLevels) == 0 {
		c.News.ImpactLevels = []string{"High"}
	}
	if c.Statistics.MaxTradesHistory == 0 {
		c.Statistics.MaxTradesHistory = 100
	}
	if c.System.MainLoopIntervalSecs == 0 {
		c.System.MainLoopIntervalSecs = 10
	}
	if c.System.PausedLoopIntervalSecs == 0 {
		c.System.PausedLoopIntervalSecs = 30
	}
	if c.System.IdleLoopIntervalSecs == 0 {
		c.System.IdleLoopIntervalSecs = 60
	}
	if c.System.DataMode == "" {
		c.System.DataMode = "sim"
	}
	if c.System.WatchdogStaleSecs == 0 {
		c.System.WatchdogStaleSecs = 300
	}
	if c.System.WatchdogIntervalSecs == 0 {
		c.System.WatchdogIntervalSecs = 60
	}
}

// Validate rejects configurations missing required fields. A failure here is fatal at startup.
func (c *Config) Validate() error {
	if c.Broker.Symbol == "" {
		return fmt.Errorf("broker.symbol is required")
	}
	if c.Broker.MagicNumber == 0 {
		return fmt.Errorf("broker.magic_number is required")
	}
	if c.Trading.Timeframe == "" {
		return fmt.Errorf("trading.timeframe is required")
	}
	if c.Trading.LotSize <= 0 && c.Risk.RiskPerTradePct <= 0 {
		return fmt.Errorf("either trading.lot_size or risk.risk_per_trade_pct must be positive")
	}
	if c.Trading.StopLossATRMultiple <= 0 {
		return fmt.Errorf("trading.stop_loss_atr_multiple must be positive")
	}
	if c.Risk.MaxDailyLoss < 0 || c.Risk.MaxWeeklyLoss < 0 {
		return fmt.Errorf("risk loss caps must not be negative")
	}
	if c.Risk.WeekStartDay < 0 || c.Risk.WeekStartDay > 6 {
		return fmt.Errorf("risk.week_start_day must be 0-6")
	}
	if tf := c.Strategy.TrendFilter; tf.Enabled {
		if tf.Weekday < 0 || tf.Weekday > 6 {
			return fmt.Errorf("strategy.trend_filter.weekday must be 0-6")
		}
		if tf.StartHour < 0 || tf.StartHour > 23 || tf.EndHour < 0 || tf.EndHour > 24 || tf.StartHour >= tf.EndHour {
			return fmt.Errorf("strategy.trend_filter hours invalid")
		}
	}
	if c.System.DataMode != "sim" && c.System.DataMode != "stream" {
		return fmt.Errorf("system.data_mode must be sim or stream")
	}
	if c.System.DataMode == "stream" && c.System.StreamURL == "" {
		return fmt.Errorf("system.stream_url is required in stream mode")
	}
	return nil
}

// MainLoopInterval returns the active-trading tick period.
func (c *Config) MainLoopInterval() time.Duration {
	return time.Duration(c.System.MainLoopIntervalSecs) * time.Second
}

// PausedLoopInterval returns the tick period while admission is paused.
func (c *Config) PausedLoopInterval() time.Duration {
	return time.Duration(c.System.PausedLoopIntervalSecs) * time.Second
}

// IdleLoopInterval returns the tick period outside trading hours.
func (c *Config) IdleLoopInterval() time.Duration {
	return time.Duration(c.System.IdleLoopIntervalSecs) * time.Second
}
