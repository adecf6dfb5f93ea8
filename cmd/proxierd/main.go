// Command proxierd boots the proxy manager from a YAML config file and
// keeps the process alive while its listeners run. It is a thin
// ambient wrapper: the manager is the core, this is just the process
// entrypoint (spec §1: process bootstrap is an external collaborator).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/SametHaymana/Proxier/internal/config"
	"github.com/SametHaymana/Proxier/internal/manager"
	"github.com/SametHaymana/Proxier/internal/user"
)

func main() {
	configPath := flag.String("config", "proxier.yaml", "path to YAML config file")
	testConfig := flag.Bool("t", false, "test configuration and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if *testConfig {
			fmt.Fprintf(os.Stderr, "configuration test FAILED: %v\n", err)
			os.Exit(1)
		}
		log.Fatalf("[main] %v", err)
	}

	if *testConfig {
		fmt.Printf("configuration file %s test OK\n", *configPath)
		fmt.Printf("  listeners: %d\n", len(cfg.Listeners))
		for _, l := range cfg.Listeners {
			fmt.Printf("    socks5://0.0.0.0:%-5d auth=%v users=%d blocked=%d max_bandwidth=%d\n",
				l.Port, l.AllowedAuthMethods, len(l.Users), len(l.BlockedAddresses), l.MaxBandwidth)
		}
		os.Exit(0)
	}

	mgr := manager.New()
	ctx := context.Background()

	log.Printf("[main] loaded %d listener entries from %s", len(cfg.Listeners), *configPath)

	ids := make([]string, 0, len(cfg.Listeners))
	for _, spec := range cfg.Listeners {
		id, err := mgr.AddProxy(ctx, manager.KindSOCKS5, spec.Port)
		if err != nil {
			log.Fatalf("[main] add proxy on port %d: %v", spec.Port, err)
		}
		if err := applySpec(mgr, id, spec); err != nil {
			log.Fatalf("[main] configure proxy %s: %v", id, err)
		}
		ids = append(ids, id)
		log.Printf("[main]   socks5://0.0.0.0:%-5d id=%s", spec.Port, id)
	}

	log.Println("[main] all proxies running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("[main] received signal %s, shutting down...", sig)

	for _, id := range ids {
		if inst, ok := mgr.Get(id); ok {
			inst.Stop()
		}
	}
}

// applySpec pushes one listener's bootstrap policy through the
// manager's public operations, the same surface a management REST
// layer would use (spec §4.5) — this entrypoint takes no shortcuts
// around it.
func applySpec(mgr *manager.Manager, id string, spec config.ListenerSpec) error {
	for _, m := range spec.AllowedAuthMethods {
		method, err := config.ParseAuthMethod(m)
		if err != nil {
			return err
		}
		if err := mgr.SetAuthMethod(id, method); err != nil {
			return err
		}
	}

	for _, u := range spec.Users {
		if err := mgr.RegisterUser(id, user.New(u.Name, u.Password)); err != nil {
			return err
		}
	}

	for _, addr := range spec.BlockedAddresses {
		if err := mgr.BlockIP(id, net.ParseIP(addr)); err != nil {
			return err
		}
	}

	if spec.MaxBandwidth > 0 {
		if err := mgr.SetMaxBandwidth(id, spec.MaxBandwidth); err != nil {
			return err
		}
	}

	return nil
}
