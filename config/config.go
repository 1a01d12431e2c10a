// ttsforge/config/config.go
package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	// Media processor
	FFBin        string        `mapstructure:"FF_BIN"`
	FFProbeBin   string        `mapstructure:"FFPROBE_BIN"`
	FFTimeout    time.Duration `mapstructure:"FF_TIMEOUT"`
	FFExtraArgs  string        `mapstructure:"FF_EXTRA_ARGS"`
	VideoSize    string        `mapstructure:"VIDEO_SIZE"`
	AudioBitrate string        `mapstructure:"AUDIO_BITRATE"`

	// Text extraction
	PdfToTextBin string `mapstructure:"PDFTOTEXT_BIN"`

	// Synthesis engine
	SynthEngine  string        `mapstructure:"SYNTH_ENGINE"`
	SynthURL     string        `mapstructure:"SYNTH_URL"`
	SynthAPIKey  string        `mapstructure:"SYNTH_API_KEY"`
	SynthModel   string        `mapstructure:"SYNTH_MODEL"`
	SynthFormat  string        `mapstructure:"SYNTH_FORMAT"`
	SynthCommand string        `mapstructure:"SYNTH_COMMAND"`
	SynthTimeout time.Duration `mapstructure:"SYNTH_TIMEOUT"`
	Voice        string        `mapstructure:"VOICE"`
	Voices       []string      `mapstructure:"VOICES"`

	// Scheduling
	MaxConcurrency  int           `mapstructure:"MAX_CONCURRENCY"`
	MaxRetries      int           `mapstructure:"MAX_RETRIES"`
	RetryDelay      time.Duration `mapstructure:"RETRY_DELAY"`
	RetryMaxDelay   time.Duration `mapstructure:"RETRY_MAX_DELAY"`
	RetryMultiplier float64       `mapstructure:"RETRY_MULTIPLIER"`
	MinArtifactSize int64         `mapstructure:"MIN_ARTIFACT_SIZE"`
	MaxUnitSize     int           `mapstructure:"MAX_UNIT_SIZE"`
	MaxDuration     time.Duration `mapstructure:"MAX_DURATION"`

	// Storage
	OutputDir           string        `mapstructure:"OUTPUT_DIR"`
	WorkDir             string        `mapstructure:"WORK_DIR"`
	OutputLocalLifetime time.Duration `mapstructure:"OUTPUT_LOCAL_LIFETIME"`

	// Task manager and server
	MaxJobs          int     `mapstructure:"MAX_JOBS"`
	ThrottleEnable   bool    `mapstructure:"THROTTLE_ENABLE"`
	ThrottleCPU      float64 `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64   `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64   `mapstructure:"THROTTLE_FREEDISK"`
	AuthEnable       bool    `mapstructure:"AUTH_ENABLE"`
	AuthKey          string  `mapstructure:"AUTH_KEY"`
	Port             string  `mapstructure:"PORT"`
	BaseURL          string  `mapstructure:"BASE"`

	// Logging
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
	LogFile   string `mapstructure:"LOG_FILE"`
}

// ProgressDir is where per-job progress records and their lock files live.
func (c *Config) ProgressDir() string {
	return c.WorkDir
}

// MaxDurationSeconds returns the repackaging ceiling in seconds.
func (c *Config) MaxDurationSeconds() float64 {
	return c.MaxDuration.Seconds()
}

// stringToDurationHookFunc parses Go duration strings such as "90s" or "12h".
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc parses human-readable sizes such as "1KB" or "200MB".
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(data.(string))); err != nil {
			// Not a size string, let the next hook try.
			return data, nil
		}
		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	// A missing .env is fine.
	_ = godotenv.Load()

	vp := viper.New()

	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("FFPROBE_BIN", "ffprobe")
	vp.SetDefault("FF_TIMEOUT", "2h")
	vp.SetDefault("FF_EXTRA_ARGS", "-hide_banner -nostdin -loglevel error")
	vp.SetDefault("VIDEO_SIZE", "1280x720")
	vp.SetDefault("AUDIO_BITRATE", "192k")
	vp.SetDefault("PDFTOTEXT_BIN", "pdftotext")

	vp.SetDefault("SYNTH_ENGINE", "command")
	vp.SetDefault("SYNTH_URL", "https://api.openai.com/v1/audio/speech")
	vp.SetDefault("SYNTH_API_KEY", "")
	vp.SetDefault("SYNTH_MODEL", "tts-1")
	vp.SetDefault("SYNTH_FORMAT", "mp3")
	vp.SetDefault("SYNTH_COMMAND", "edge-tts --voice ${VOICE} --text ${TEXT} --write-media ${OUTPUT}")
	vp.SetDefault("SYNTH_TIMEOUT", "90s")
	vp.SetDefault("VOICE", "pt-BR-ThalitaMultilingualNeural")
	vp.SetDefault("VOICES", "")

	vp.SetDefault("MAX_CONCURRENCY", 5)
	vp.SetDefault("MAX_RETRIES", 3)
	vp.SetDefault("RETRY_DELAY", "2s")
	vp.SetDefault("RETRY_MAX_DELAY", "30s")
	vp.SetDefault("RETRY_MULTIPLIER", 1.0)
	vp.SetDefault("MIN_ARTIFACT_SIZE", "1KB")
	vp.SetDefault("MAX_UNIT_SIZE", 2000)
	vp.SetDefault("MAX_DURATION", "12h")

	vp.SetDefault("OUTPUT_DIR", "output")
	vp.SetDefault("WORK_DIR", "work")
	vp.SetDefault("OUTPUT_LOCAL_LIFETIME", "24h")

	vp.SetDefault("MAX_JOBS", 1)
	vp.SetDefault("THROTTLE_ENABLE", false)
	vp.SetDefault("THROTTLE_CPU", 50.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "500MB")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "123456")
	vp.SetDefault("PORT", "8080")
	vp.SetDefault("BASE", "")

	vp.SetDefault("LOG_LEVEL", "info")
	vp.SetDefault("LOG_FORMAT", "auto")
	vp.SetDefault("LOG_FILE", "")

	vp.SetConfigName("ttsforge_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/ttsforge/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("TTSFORGE")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The first hook that converts a value wins.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	))
	if err != nil {
		return nil, err
	}
	cfg.Voices = compactVoices(cfg.Voices)

	return &cfg, nil
}

func compactVoices(in []string) []string {
	out := in[:0]
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
