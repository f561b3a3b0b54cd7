// Copyright 2024 The prellblock authors
// This file is part of the prellblock library.
//
// The prellblock library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The prellblock library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the prellblock library. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"

	"github.com/prellblock/prellblock/worldstate"
	"github.com/spf13/viper"
)

// Config is the node's on-disk configuration, loaded from a TOML or YAML
// file via viper; the only CLI flag is --config, which names that file.
type Config struct {
	// ListenAddress is the address the peer transport binds to.
	ListenAddress string `mapstructure:"listen_address"`
	// IdentityPath points at this RPU's ed25519 private key.
	IdentityPath string `mapstructure:"identity_path"`
	// TLSBundlePath points at the PKCS#12 bundle used for mutual TLS.
	TLSBundlePath string `mapstructure:"tls_bundle_path"`
	// TLSBundlePassword decrypts TLSBundlePath, if the bundle is encrypted.
	TLSBundlePassword string `mapstructure:"tls_bundle_password"`
	// DataPath is the directory the block log is persisted under; the
	// world state is rebuilt in memory and not written here.
	DataPath string `mapstructure:"data_path"`
	// MetricsAddress is the address the Prometheus scrape endpoint binds
	// to; empty disables it.
	MetricsAddress string `mapstructure:"metrics_address"`
	// Peers is the static consensus group this RPU participates in.
	Peers []worldstate.PeerAddress `mapstructure:"peers"`
}

func defaultConfig() Config {
	return Config{
		ListenAddress:  "0.0.0.0:55000",
		DataPath:       "./data",
		MetricsAddress: "0.0.0.0:9100",
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return cfg, nil
}
