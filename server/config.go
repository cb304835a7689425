package systole

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Settings are the runtime knobs read from the environment.
// Flags in main override them.
type Settings struct {
	Source          string        `env:"SYSTOLE_SOURCE, default=synth"` // synth, csv, serial, nats
	SampleRate      float64       `env:"SYSTOLE_SAMPLE_RATE, default=30"`
	TuningFile      string        `env:"SYSTOLE_TUNING_FILE"`
	Addr            string        `env:"SYSTOLE_ADDR, default=:8090"`
	Outputs         []string      `env:"SYSTOLE_OUTPUTS"`
	DBPath          string        `env:"SYSTOLE_DB_PATH, default=./systole_db"`
	BatchSize       int           `env:"SYSTOLE_DB_BATCH, default=1"`
	CSVPath         string        `env:"SYSTOLE_CSV_PATH"`
	SerialPort      string        `env:"SYSTOLE_SERIAL_PORT, default=/dev/ttyUSB0"`
	SerialBaud      int           `env:"SYSTOLE_SERIAL_BAUD, default=115200"`
	SerialMinValue  float64       `env:"SYSTOLE_SERIAL_MIN_VALUE, default=1"`
	NATSURL         string        `env:"SYSTOLE_NATS_URL, default=nats://127.0.0.1:4222"`
	NATSSubject     string        `env:"SYSTOLE_NATS_SUBJECT, default=systole.ppg"`
	SynthBPM        float64       `env:"SYSTOLE_SYNTH_BPM, default=72"`
	NoSignalTimeout time.Duration `env:"SYSTOLE_NO_SIGNAL_TIMEOUT, default=5s"`
	SessionLength   time.Duration `env:"SYSTOLE_SESSION_LENGTH, default=0s"` // zero runs until stopped
	WaveSize        int           `env:"SYSTOLE_WAVE_SIZE, default=300"`
	MIDIPort        int           `env:"SYSTOLE_MIDI_PORT, default=0"`
	Headless        bool          `env:"SYSTOLE_HEADLESS, default=false"` // web endpoint only, no terminal
	Telemetry       string        `env:"SYSTOLE_OTEL"` // honeycomb, grafana or empty
}

// LoadSettings reads Settings from the process environment
func LoadSettings(ctx context.Context) (Settings, error) {
	var s Settings
	if err := envconfig.Process(ctx, &s); err != nil {
		slog.Error("Could not read settings from environment", slog.Any("error", err))
		return s, fmt.Errorf("settings: %w", err)
	}
	return s, nil
}

// LoadSettingsFrom reads Settings from a map, for tests and embedding
func LoadSettingsFrom(ctx context.Context, env map[string]string) (Settings, error) {
	var s Settings
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &s,
		Lookuper: envconfig.MapLookuper(env),
	})
	if err != nil {
		return s, fmt.Errorf("settings: %w", err)
	}
	return s, nil
}

// Tuning loads TuningFile over the defaults when set.
// SampleRate from the environment or flags always wins.
func (s Settings) Tuning() (Tuning, error) {
	t := DefaultTuning()
	if s.TuningFile != "" {
		var err error
		if t, err = LoadConfigFileName(s.TuningFile); err != nil {
			return t, err
		}
	}
	if s.SampleRate > 0 {
		t.SampleRate = s.SampleRate
	}
	return t, t.Validate()
}

// SessionConfig fills a SessionConfig from the settings.
// Hardware and network sources get the rate meter, the synthetic one
// runs exactly at the configured rate.
func (s Settings) SessionConfig(t Tuning) SessionConfig {
	cfg := DefaultSessionConfig(t)
	if s.WaveSize > 0 {
		cfg.WaveSize = s.WaveSize
	}
	cfg.NoSignalTimeout = s.NoSignalTimeout
	cfg.AutoRate = s.Source != "synth"
	return cfg
}

// LoadConfigFileName pulls a tuning file off local disk
// Validation is performed on the file before opening
func LoadConfigFileName(filename string) (Tuning, error) {
	file, err := os.Open(filename)
	if err != nil {
		return Tuning{}, err
	}
	defer file.Close()

	// validation
	err = validateLoad(file)
	if err != nil {
		slog.Error("Validation failed", slog.Any("Error", err))
		return Tuning{}, err
	}

	return LoadConfig(file)
}

func validateLoad(file *os.File) error {
	// validate file
	info, err := file.Stat()
	if err != nil {
		slog.Error("could not stat file")
		return err
	}

	// validate size
	if info.Size() == 0 {
		slog.Error("file is empty")
		return errors.New("file is empty")
	}

	return nil
}

// LoadConfig decodes a JSON tuning over DefaultTuning.
// Keys that are left out keep their default values.
func LoadConfig(r io.Reader) (Tuning, error) {
	t := DefaultTuning()

	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&t); err != nil {
		slog.Error("could not decode file", slog.Any("error", err))
		return Tuning{}, fmt.Errorf("decode tuning: %w", err)
	}

	if err := t.Validate(); err != nil {
		slog.Error("tuning is invalid", slog.Any("error", err))
		return Tuning{}, fmt.Errorf("invalid tuning: %w", err)
	}

	return t, nil
}
