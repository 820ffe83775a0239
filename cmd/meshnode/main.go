// Package main implements the meshnode CLI: identity management and a
// local single-process demo of the mesh formation core against a fake
// radio, since the physical BLE controller is an external collaborator
// this repository does not implement.
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/beemesh/meshcore/pkg/identity"
	"github.com/beemesh/meshcore/pkg/mesh"
	"github.com/beemesh/meshcore/pkg/meshid"
	"github.com/beemesh/meshcore/pkg/radio"
)

// Build-time variables set by ldflags
var (
	version    = "dev"
	buildTime  = "unknown"
	commitHash = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	var err error
	switch command {
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printUsage()
	case "keygen":
		err = keygenCommand(os.Args[2:])
	case "id":
		err = idCommand(os.Args[2:])
	case "start":
		err = startCommand(os.Args[2:])
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("meshnode %s\n", version)
	fmt.Printf("Built: %s\n", buildTime)
	fmt.Printf("Commit: %s\n", commitHash)
}

func printUsage() {
	fmt.Printf(`meshnode v%s - BLE-class mesh formation core

Usage:
  meshnode <command> [options]

Commands:
  keygen --keyfile <path>                       Generate and persist a node identity
  id --node <id>                                Print a debug name for the node id under a freshly generated cluster id
  start --node <id> --network <id> --keyfile <path> [--leaf] [--sink]
                                                 Run one node against a local fake radio
  version                                        Show version information
  help                                            Show this help message

Examples:
  meshnode keygen --keyfile ./node1.json
  meshnode start --node 1 --network 100 --keyfile ./node1.json --sink

`, version)
}

func keygenCommand(args []string) error {
	keyfile := flagValue(args, "--keyfile", "")
	if keyfile == "" {
		return fmt.Errorf("keygen requires --keyfile")
	}
	keys, err := identity.LoadOrGenerate(keyfile)
	if err != nil {
		return err
	}
	fmt.Printf("identity written to %s\n", keyfile)
	fmt.Printf("noise public key: %x\n", keys.NoisePublic)
	return nil
}

func idCommand(args []string) error {
	nodeArg := flagValue(args, "--node", "0")
	nodeNum, err := strconv.ParseUint(nodeArg, 10, 16)
	if err != nil {
		return fmt.Errorf("invalid --node: %w", err)
	}

	clusterID, err := meshid.Generate(meshid.NodeID(nodeNum), 0)
	if err != nil {
		return err
	}
	fmt.Println(meshid.DebugName(meshid.NodeID(nodeNum), clusterID))
	return nil
}

// startCommand runs a single node against an isolated fake radio network.
// A real deployment plugs a BLE-class radio.Controller implementation into
// mesh.Config.Radio instead of radio.Fake; the mesh formation core itself
// is unaffected by which one is wired in.
func startCommand(args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	nodeArg := flagValue(args, "--node", "")
	networkArg := flagValue(args, "--network", "")
	keyfile := flagValue(args, "--keyfile", "")
	if nodeArg == "" || networkArg == "" || keyfile == "" {
		return fmt.Errorf("start requires --node, --network, and --keyfile")
	}

	nodeNum, err := strconv.ParseUint(nodeArg, 10, 16)
	if err != nil {
		return fmt.Errorf("invalid --node: %w", err)
	}
	networkNum, err := strconv.ParseUint(networkArg, 10, 16)
	if err != nil {
		return fmt.Errorf("invalid --network: %w", err)
	}

	keys, err := identity.LoadOrGenerate(keyfile)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}

	networkKeyfile := filepath.Join(filepath.Dir(keyfile), "network.key")
	networkKey, err := loadOrGenerateNetworkKey(networkKeyfile)
	if err != nil {
		return fmt.Errorf("load network key: %w", err)
	}

	net := radio.NewFakeNetwork()
	fake := net.NewFake(meshid.NodeID(nodeNum))

	nodeID := meshid.NodeID(nodeNum)
	n, err := mesh.New(mesh.Config{
		NodeID:     nodeID,
		NetworkID:  meshid.NetworkID(networkNum),
		IsLeaf:     hasFlag(args, "--leaf"),
		IsSink:     hasFlag(args, "--sink"),
		Radio:      fake,
		Logger:     logger.With("node", nodeID.String()),
		Keys:       keys,
		NetworkKey: networkKey,
	})
	if err != nil {
		return fmt.Errorf("construct node: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	logger.Info("meshnode started", "cluster_id", n.ClusterID.String())

	<-ctx.Done()
	logger.Info("meshnode shutting down")
	n.Stop()
	return nil
}

func loadOrGenerateNetworkKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return nil, err
	}
	return key, nil
}

func flagValue(args []string, name, def string) string {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return def
}

func hasFlag(args []string, name string) bool {
	for _, a := range args {
		if a == name {
			return true
		}
	}
	return false
}
