// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package config loads the configuration of the demo programs from an
// optional file, ICEAGENT_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pion/iceagent"
	"github.com/pion/iceagent/internal/zlog"
	"github.com/pion/logging"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "ICEAGENT"

var (
	errUnknownNetworkType = errors.New("unknown network type")
	errPortRange          = errors.New("port range must be [min, max]")
)

// ICE holds the agent settings.
type ICE struct {
	Controlling     bool          `mapstructure:"controlling"`
	STUNServer      string        `mapstructure:"stun"`
	PortRange       []uint16      `mapstructure:"portrange"`
	Nomination      string        `mapstructure:"nomination"`
	Pacing          time.Duration `mapstructure:"pacing"`
	MaxRetransmits  int           `mapstructure:"maxretransmits"`
	InitialRTO      time.Duration `mapstructure:"rto"`
	Keepalive       time.Duration `mapstructure:"keepalive"`
	IncludeLoopback bool          `mapstructure:"loopback"`
	NetworkTypes    []string      `mapstructure:"networktypes"`
}

// Exchange holds the file based description hand-off of the demos.
type Exchange struct {
	Stream     string        `mapstructure:"stream"`
	Components int           `mapstructure:"components"`
	LocalSDP   string        `mapstructure:"local"`
	RemoteSDP  string        `mapstructure:"remote"`
	Poll       time.Duration `mapstructure:"poll"`
}

// Config is the full demo configuration.
type Config struct {
	Log      zlog.Config `mapstructure:"log"`
	ICE      ICE         `mapstructure:"ice"`
	Exchange Exchange    `mapstructure:"exchange"`

	File string `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.no_color", false)
	v.SetDefault("ice.controlling", false)
	v.SetDefault("ice.stun", "stun.l.google.com:19302")
	v.SetDefault("ice.portrange", []uint16{})
	v.SetDefault("ice.nomination", "regular")
	v.SetDefault("ice.pacing", 20*time.Millisecond)
	v.SetDefault("ice.maxretransmits", 7)
	v.SetDefault("ice.rto", 500*time.Millisecond)
	v.SetDefault("ice.keepalive", 15*time.Second)
	v.SetDefault("ice.loopback", false)
	v.SetDefault("ice.networktypes", []string{"udp4"})
	v.SetDefault("exchange.stream", "video")
	v.SetDefault("exchange.components", 1)
	v.SetDefault("exchange.local", "local_sdp.txt")
	v.SetDefault("exchange.remote", "remote_sdp.txt")
	v.SetDefault("exchange.poll", time.Second)
}

// Load parses args (without the program name). Values come, by increasing
// precedence, from defaults, the file given with -c, the environment and
// the flags.
func Load(name string, args []string, output io.Writer) (*Config, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(output)

	file := fs.StringP("config", "c", "", "config file (toml, yaml or json)")
	fs.Bool("controlling", false, "start in the controlling role")
	fs.String("stun", "", "STUN server host:port, empty disables server reflexive candidates")
	fs.String("nomination", "", "nomination mode: regular or aggressive")
	fs.String("log-level", "", "trace, debug, info, warn or error")
	fs.Bool("loopback", false, "gather candidates on loopback interfaces")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, flag := range map[string]string{
		"ice.controlling": "controlling",
		"ice.stun":        "stun",
		"ice.nomination":  "nomination",
		"log.level":       "log-level",
		"ice.loopback":    "loopback",
	} {
		f := fs.Lookup(flag)
		if !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, err
		}
	}

	if *file != "" {
		v.SetConfigFile(*file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config file %s read failed: %w", *file, err)
		}
	}

	cfg := &Config{File: *file}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	if len(cfg.ICE.PortRange) != 0 && len(cfg.ICE.PortRange) != 2 {
		return nil, errPortRange
	}

	return cfg, nil
}

// AgentConfig maps the ICE settings onto an iceagent.AgentConfig.
func (c *Config) AgentConfig(loggerFactory logging.LoggerFactory) (iceagent.AgentConfig, error) {
	ice := c.ICE
	cfg := iceagent.AgentConfig{
		Role:            iceagent.RoleControlled,
		STUNServer:      ice.STUNServer,
		PacingInterval:  ice.Pacing,
		MaxRetransmits:  ice.MaxRetransmits,
		InitialRTO:      ice.InitialRTO,
		IncludeLoopback: ice.IncludeLoopback,
		LoggerFactory:   loggerFactory,
	}
	if ice.Controlling {
		cfg.Role = iceagent.RoleControlling
	}

	keepalive := ice.Keepalive
	cfg.KeepaliveInterval = &keepalive

	if len(ice.PortRange) == 2 {
		cfg.PortMin, cfg.PortMax = ice.PortRange[0], ice.PortRange[1]
	}

	if ice.Nomination != "" {
		if err := cfg.NominationMode.UnmarshalText([]byte(ice.Nomination)); err != nil {
			return iceagent.AgentConfig{}, err
		}
	}

	for _, raw := range ice.NetworkTypes {
		networkType, err := iceagent.NewNetworkType(raw)
		if err != nil {
			return iceagent.AgentConfig{}, fmt.Errorf("%w: %s", errUnknownNetworkType, raw)
		}
		cfg.NetworkTypes = append(cfg.NetworkTypes, networkType)
	}

	return cfg, nil
}
