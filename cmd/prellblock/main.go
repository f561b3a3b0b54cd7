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

// Command prellblock runs a single Replicating Processing Unit: it loads
// its identity and peer list, opens its block log and world state, and
// drives the PRaftBFT consensus engine until interrupted.
package main

import (
	"crypto/ed25519"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prellblock/prellblock/batcher"
	"github.com/prellblock/prellblock/blockstorage"
	"github.com/prellblock/prellblock/consensus"
	"github.com/prellblock/prellblock/crypto"
	"github.com/prellblock/prellblock/metrics"
	"github.com/prellblock/prellblock/peer"
	"github.com/prellblock/prellblock/praftbft"
	"github.com/prellblock/prellblock/worldstate"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "prellblock",
		Short: "Run a Prellblock consensus node",
		RunE:  run,
	}
	root.Flags().String("config", "prellblock.toml", "path to the node configuration file")

	if err := root.Execute(); err != nil {
		log.Crit("prellblock exited with error", "err", err)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	identity, err := loadIdentity(cfg.IdentityPath)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}

	peers := make([]crypto.PeerID, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		peers = append(peers, p.PeerID)
	}

	blocks, err := blockstorage.Open(cfg.DataPath + "/blocks")
	if err != nil {
		return fmt.Errorf("open block storage: %w", err)
	}
	defer blocks.Close()

	if cfg.TLSBundlePath != "" {
		cert, pool, err := peer.LoadTLSBundle(cfg.TLSBundlePath, cfg.TLSBundlePassword)
		if err != nil {
			return fmt.Errorf("load TLS bundle: %w", err)
		}
		log.Info("loaded mutual TLS identity", "subject", cert.Leaf.Subject, "trusted_issuers", len(pool.Subjects()))
	}

	world := worldstate.NewService(genesisState(cfg))

	fabric := peer.NewFabric()
	engine := praftbft.New(identity, peers, nil, blocks, world)
	loopback := fabric.Join(identity.PeerID(), engine.Dispatch)
	engine.Core.SetSender(loopback)

	txBatcher := batcher.New(loopback)
	stop := make(chan struct{})
	go txBatcher.Run(stop)

	engine.Start()
	defer engine.Stop()

	if cfg.MetricsAddress != "" {
		go func() {
			log.Info("serving metrics", "address", cfg.MetricsAddress)
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
				log.Error("metrics server stopped", "err", err)
			}
		}()
	}

	log.Info("prellblock running", "self", identity.PeerID(), "peers", len(peers))
	waitForShutdown()
	close(stop)
	return nil
}

func loadIdentity(path string) (crypto.Identity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return crypto.Identity{}, err
	}
	if len(raw) != ed25519.PrivateKeySize {
		return crypto.Identity{}, fmt.Errorf("identity file %s has wrong length %d", path, len(raw))
	}
	return crypto.IdentityFromPrivateKey(ed25519.PrivateKey(raw))
}

// genesisState seeds one RPU account per configured peer, each with
// writing rights over its own namespace, and no accounts for human
// administrators yet -- those are created later via CreateAccount
// transactions signed by an existing admin.
func genesisState(cfg Config) worldstate.State {
	accounts := make(map[crypto.PeerID]worldstate.Account, len(cfg.Peers))
	for _, p := range cfg.Peers {
		accounts[p.PeerID] = worldstate.NewAccount(consensus.AccountParams{
			IsRPU:         true,
			WritingRights: true,
		})
	}
	return worldstate.State{
		Peers:    cfg.Peers,
		Accounts: accounts,
	}
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
