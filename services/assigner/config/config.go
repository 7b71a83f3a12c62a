package config

import (
	"github.com/spf13/viper"

	"github.com/lawrns/camp-sub015/internal/scoring"
)

// Config holds typed configuration for the assigner service.
type Config struct {
	LogLevel       string
	KafkaBrokers   string
	RedisAddr      string
	PostgresDSN    string
	DirectoryURL   string
	Team           string
	ScoreThreshold float64
	ScoreTopN      int
	MaxAttempts    int
	TickSeconds    int
	SweepSeconds   int
	RateLimit      int
	MetricsAddr    string
	OTelEndpoint   string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	v.SetDefault("scoring.top_n", 3)
	return Config{
		LogLevel:       v.GetString("log_level"),
		KafkaBrokers:   v.GetString("kafka_brokers"),
		RedisAddr:      v.GetString("redis_addr"),
		PostgresDSN:    v.GetString("postgres_dsn"),
		DirectoryURL:   v.GetString("directory_url"),
		Team:           v.GetString("team"),
		ScoreThreshold: v.GetFloat64("score_threshold"),
		ScoreTopN:      v.GetInt("scoring.top_n"),
		MaxAttempts:    v.GetInt("max_attempts"),
		TickSeconds:    v.GetInt("tick_seconds"),
		SweepSeconds:   v.GetInt("sweep_seconds"),
		RateLimit:      v.GetInt("rate_limit"),
		MetricsAddr:    v.GetString("metrics_addr"),
		OTelEndpoint:   v.GetString("otel_endpoint"),
	}
}

// LoadWeights reads the scoring coefficients from the config file's scoring
// section. Keys left unset keep the tuned defaults, so a config file only
// needs to name the coefficients it overrides.
func LoadWeights(v *viper.Viper) scoring.Weights {
	d := scoring.DefaultWeights()
	v.SetDefault("scoring.load_weight", d.Load)
	v.SetDefault("scoring.response_weight", d.Response)
	v.SetDefault("scoring.response_cutoff_minutes", d.ResponseCutoffMinutes)
	v.SetDefault("scoring.satisfaction_weight", d.Satisfaction)
	v.SetDefault("scoring.specialist_bonus", d.SpecialistBonus)
	v.SetDefault("scoring.admin_bonus", d.AdminBonus)
	v.SetDefault("scoring.agent_bonus", d.AgentBonus)
	v.SetDefault("scoring.online_bonus", d.OnlineBonus)
	v.SetDefault("scoring.away_bonus", d.AwayBonus)
	v.SetDefault("scoring.busy_bonus", d.BusyBonus)
	return scoring.Weights{
		Load:                  v.GetFloat64("scoring.load_weight"),
		Response:              v.GetFloat64("scoring.response_weight"),
		ResponseCutoffMinutes: v.GetFloat64("scoring.response_cutoff_minutes"),
		Satisfaction:          v.GetFloat64("scoring.satisfaction_weight"),
		SpecialistBonus:       v.GetFloat64("scoring.specialist_bonus"),
		AdminBonus:            v.GetFloat64("scoring.admin_bonus"),
		AgentBonus:            v.GetFloat64("scoring.agent_bonus"),
		OnlineBonus:           v.GetFloat64("scoring.online_bonus"),
		AwayBonus:             v.GetFloat64("scoring.away_bonus"),
		BusyBonus:             v.GetFloat64("scoring.busy_bonus"),
	}
}
