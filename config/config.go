// Package config loads generator settings from YAML or JSON.
//
// A settings file looks like:
//
//	layout:
//	  timestamp_bits: 41
//	  data_center_bits: 4
//	  worker_bits: 6
//	  sequence_bits: 12
//	node:
//	  data_center: 3
//	  worker: 17
//	  overflow:
//	    strategy: sleep_with_jitter
//	    sleep: 100ms
//	    jitter: 500ms
//	clock:
//	  epoch: 2020-01-01T08:00:00Z
//	  tick_duration: 1ms
//
// Keys left out keep their Default value.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/Lzww0608/gflake"
)

// Format is a settings file format
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Environment variables read by ApplyEnv
const (
	EnvDataCenter = "GFLAKE_DATA_CENTER"
	EnvWorker     = "GFLAKE_WORKER"
)

var (
	// ErrEmptyPath indicates an empty settings path
	ErrEmptyPath = errors.New("config: empty config path")

	// ErrUnsupportedFormat indicates a format other than YAML or JSON
	ErrUnsupportedFormat = errors.New("config: unsupported config format")

	// ErrLoadFailed indicates the settings file could not be read
	ErrLoadFailed = errors.New("config: failed to load config")

	// ErrParseFailed indicates malformed YAML or JSON
	ErrParseFailed = errors.New("config: failed to parse config")

	// ErrUnmarshalFailed indicates values of the wrong type
	ErrUnmarshalFailed = errors.New("config: failed to unmarshal config")

	// ErrInvalidSettings indicates settings that do not describe a valid generator
	ErrInvalidSettings = errors.New("config: invalid settings")
)

// Settings describes one generator
type Settings struct {
	Layout LayoutSettings `koanf:"layout" json:"layout"`
	Node   NodeSettings   `koanf:"node" json:"node"`
	Clock  ClockSettings  `koanf:"clock" json:"clock"`
}

// LayoutSettings are the field widths of a gflake.BitLayout
type LayoutSettings struct {
	TimestampBits  int `koanf:"timestamp_bits" json:"timestamp_bits"`
	DataCenterBits int `koanf:"data_center_bits" json:"data_center_bits"`
	WorkerBits     int `koanf:"worker_bits" json:"worker_bits"`
	SequenceBits   int `koanf:"sequence_bits" json:"sequence_bits"`
}

// NodeSettings identify the generator and its overflow policy
type NodeSettings struct {
	DataCenter int64            `koanf:"data_center" json:"data_center"`
	Worker     int64            `koanf:"worker" json:"worker"`
	Overflow   OverflowSettings `koanf:"overflow" json:"overflow"`
}

// OverflowSettings select the overflow strategy. Strategy accepts the names
// understood by gflake.ParseOverflowStrategy.
type OverflowSettings struct {
	Strategy string        `koanf:"strategy" json:"strategy"`
	Sleep    time.Duration `koanf:"sleep" json:"sleep"`
	Jitter   time.Duration `koanf:"jitter" json:"jitter"`
}

// ClockSettings configure the time source. Epoch is an RFC 3339 timestamp.
type ClockSettings struct {
	Epoch        string        `koanf:"epoch" json:"epoch"`
	TickDuration time.Duration `koanf:"tick_duration" json:"tick_duration"`
}

// Default returns the settings of gflake.Default
func Default() Settings {
	l := gflake.DefaultLayout
	return Settings{
		Layout: LayoutSettings{
			TimestampBits:  l.TimestampBits(),
			DataCenterBits: l.DataCenterBits(),
			WorkerBits:     l.WorkerBits(),
			SequenceBits:   l.SequenceBits(),
		},
		Node: NodeSettings{
			Overflow: OverflowSettings{
				Strategy: gflake.OverflowSleep.String(),
				Sleep:    gflake.DefaultOverflowSleep,
				Jitter:   gflake.DefaultOverflowJitter,
			},
		},
		Clock: ClockSettings{
			Epoch:        gflake.DefaultEpoch.Format(time.RFC3339Nano),
			TickDuration: gflake.DefaultTickDuration,
		},
	}
}

// Load reads settings from path. The format is detected from the extension
// (.yaml, .yml or .json).
func Load(path string) (Settings, error) {
	if path == "" {
		return Settings{}, ErrEmptyPath
	}
	format, err := detectFormat(path)
	if err != nil {
		return Settings{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	return LoadBytes(data, format)
}

// LoadBytes parses settings in the given format. Empty data yields Default().
func LoadBytes(data []byte, format Format) (Settings, error) {
	if !isValidFormat(format) {
		return Settings{}, ErrUnsupportedFormat
	}

	s := Default()
	if len(data) == 0 {
		return s, nil
	}

	k := koanf.New(".")
	if err := loadData(k, data, format); err != nil {
		return Settings{}, err
	}
	if err := k.UnmarshalWithConf("", &s, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Settings{}, fmt.Errorf("%w: %w", ErrUnmarshalFailed, err)
	}
	return s, nil
}

// ApplyEnv overrides the node ids from GFLAKE_DATA_CENTER and GFLAKE_WORKER
// when they are set.
func (s *Settings) ApplyEnv() error {
	for _, e := range []struct {
		name   string
		target *int64
	}{
		{EnvDataCenter, &s.Node.DataCenter},
		{EnvWorker, &s.Node.Worker},
	} {
		v := strings.TrimSpace(os.Getenv(e.name))
		if v == "" {
			continue
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: invalid %s value %q: %w", ErrInvalidSettings, e.name, v, err)
		}
		*e.target = id
	}
	return nil
}

// Build validates the settings and returns the generator inputs
func (s Settings) Build() (gflake.BitLayout, gflake.NodeIdentity, gflake.TimeSource, error) {
	layout, err := gflake.NewBitLayout(
		s.Layout.TimestampBits, s.Layout.DataCenterBits, s.Layout.WorkerBits, s.Layout.SequenceBits)
	if err != nil {
		return gflake.BitLayout{}, gflake.NodeIdentity{}, nil, fmt.Errorf("%w: layout: %w", ErrInvalidSettings, err)
	}

	policy, err := s.Node.Overflow.policy()
	if err != nil {
		return gflake.BitLayout{}, gflake.NodeIdentity{}, nil, err
	}
	node, err := gflake.NewNodeIdentity(layout, s.Node.DataCenter, s.Node.Worker, policy)
	if err != nil {
		return gflake.BitLayout{}, gflake.NodeIdentity{}, nil, fmt.Errorf("%w: node: %w", ErrInvalidSettings, err)
	}

	ts, err := s.Clock.timeSource()
	if err != nil {
		return gflake.BitLayout{}, gflake.NodeIdentity{}, nil, err
	}
	return layout, node, ts, nil
}

// NewGenerator builds a generator from the settings
func (s Settings) NewGenerator(opts ...gflake.Option) (*gflake.Generator, error) {
	layout, node, ts, err := s.Build()
	if err != nil {
		return nil, err
	}
	return gflake.NewGenerator(layout, node, ts, opts...)
}

func (o OverflowSettings) policy() (gflake.OverflowPolicy, error) {
	strategy, err := gflake.ParseOverflowStrategy(o.Strategy)
	if err != nil {
		return gflake.OverflowPolicy{}, fmt.Errorf("%w: overflow: %w", ErrInvalidSettings, err)
	}
	p := gflake.OverflowPolicy{Strategy: strategy}
	switch strategy {
	case gflake.OverflowSleep:
		p.Sleep = o.Sleep
	case gflake.OverflowSleepWithJitter:
		p.Sleep, p.Jitter = o.Sleep, o.Jitter
	}
	return p, nil
}

func (c ClockSettings) timeSource() (gflake.TimeSource, error) {
	epoch, err := time.Parse(time.RFC3339Nano, c.Epoch)
	if err != nil {
		return nil, fmt.Errorf("%w: clock epoch %q: %w", ErrInvalidSettings, c.Epoch, err)
	}
	if epoch.After(time.Now()) {
		return nil, fmt.Errorf("%w: clock epoch %s is in the future", ErrInvalidSettings, c.Epoch)
	}
	ts, err := gflake.NewTimeSource(epoch, gflake.WithTickDuration(c.TickDuration))
	if err != nil {
		return nil, fmt.Errorf("%w: clock: %w", ErrInvalidSettings, err)
	}
	return ts, nil
}

func detectFormat(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown extension %s", ErrUnsupportedFormat, ext)
	}
}

func isValidFormat(format Format) bool {
	return format == FormatYAML || format == FormatJSON
}

func loadData(k *koanf.Koanf, data []byte, format Format) error {
	var parser koanf.Parser
	switch format {
	case FormatYAML:
		parser = yaml.Parser()
	case FormatJSON:
		parser = json.Parser()
	default:
		return ErrUnsupportedFormat
	}

	if err := k.Load(rawbytes.Provider(data), parser); err != nil {
		return fmt.Errorf("%w: %w", ErrParseFailed, err)
	}
	return nil
}
