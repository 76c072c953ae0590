// Package config is used to load the configuration file
package config

import (
	"fmt"
	"runtime"

	"github.com/blacktop/ilcov/internal/instrument"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

type instrumentation struct {
	Home        string   `mapstructure:"home"`
	SNK         string   `mapstructure:"snk"`
	SkipModules []string `mapstructure:"skip-modules"`
	SkipMethods []string `mapstructure:"skip-methods"`
	SearchDirs  []string `mapstructure:"search-dirs"`
	Output      string   `mapstructure:"output"`
	Parallel    int      `mapstructure:"parallel"`
}

// Config is the configuration struct
type Config struct {
	Instrument instrumentation `mapstructure:"instrument"`
}

func (c *Config) verify(fs afero.Fs) error {
	in := &c.Instrument
	if in.Home != "" {
		if ok, err := afero.DirExists(fs, in.Home); err != nil || !ok {
			return fmt.Errorf("config: support home directory %s does not exist", in.Home)
		}
	}
	switch {
	case in.Parallel < 0:
		return fmt.Errorf("config: parallel must be positive, got %d", in.Parallel)
	case in.Parallel == 0:
		in.Parallel = runtime.NumCPU()
	}
	if _, err := instrument.NewFilter(in.SkipModules, in.SkipMethods); err != nil {
		return fmt.Errorf("config: %v", err)
	}
	return nil
}

// InstrumentConfig returns the rewriter configuration.
func (c *Config) InstrumentConfig() *instrument.Config {
	return &instrument.Config{
		Home:        c.Instrument.Home,
		KeyFile:     c.Instrument.SNK,
		SkipModules: c.Instrument.SkipModules,
		SkipMethods: c.Instrument.SkipMethods,
		SearchDirs:  c.Instrument.SearchDirs,
		Output:      c.Instrument.Output,
	}
}

// Load unmarshals and verifies the configuration held by v. List values given as a
// single string, e.g. from the environment, are split on commas.
func Load(v *viper.Viper, fs afero.Fs) (*Config, error) {
	var c Config

	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&c, hook); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %v", err)
	}

	if err := c.verify(fs); err != nil {
		return nil, fmt.Errorf("config: failed to verify: %v", err)
	}

	return &c, nil
}

// LoadConfig loads the configuration file
func LoadConfig() (*Config, error) {
	return Load(viper.GetViper(), afero.NewOsFs())
}
