// Command conode runs a single CANopen slave node against a CAN
// interface, configured from the command line the way cmd/canopen did
// before the library migrated to log/slog (see pkg/node, pkg/sdo).
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/samsamfire/conode/pkg/can"
	_ "github.com/samsamfire/conode/pkg/can/socketcan"
	_ "github.com/samsamfire/conode/pkg/can/virtual"
	"github.com/samsamfire/conode/pkg/eds"
	"github.com/samsamfire/conode/pkg/node"
	"github.com/samsamfire/conode/pkg/od"
)

var (
	DefaultNodeID       = 0x20
	DefaultCanInterface = "can0"
)

func main() {
	log.SetLevel(log.InfoLevel)

	interfaceName := flag.String("t", "socketcan", "transport: socketcan, virtual")
	channel := flag.String("i", DefaultCanInterface, "interface channel, e.g. can0, vcan0")
	nodeID := flag.Int("n", DefaultNodeID, "node id")
	edsPath := flag.String("p", "", "eds file path, builds a minimal dictionary if empty")
	flag.Parse()

	bus, err := can.NewBus(*interfaceName, *channel)
	if err != nil {
		log.Fatalf("could not open %s interface %v: %v", *interfaceName, *channel, err)
	}

	dict, err := loadDictionary(*edsPath)
	if err != nil {
		log.Fatalf("error encountered when loading object dictionary: %v", err)
	}

	if err := bus.Connect(); err != nil {
		log.Fatalf("could not connect to %v: %v", *channel, err)
	}

	localNode, err := node.NewLocalNode(dict, uint8(*nodeID), bus, nil)
	if err != nil {
		log.Fatalf("failed to initialize node %d: %v", *nodeID, err)
	}

	log.Infof("starting node %d on %s (%s)", *nodeID, *channel, *interfaceName)
	localNode.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	localNode.Shutdown()
	if err := bus.Disconnect(); err != nil {
		log.Warnf("error disconnecting bus: %v", err)
	}
}

// loadDictionary parses path as an EDS file, or, if path is empty, builds
// a minimal dictionary carrying only the mandatory standard objects
// (spec.md §2's "a node can be built entirely in code" allowance).
func loadDictionary(path string) (*od.ObjectDictionary, error) {
	if path == "" {
		dict := od.NewObjectDictionary(nil)
		dict.AddStandardObjects()
		return dict, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening eds file: %w", err)
	}
	defer file.Close()

	return eds.Parse(file)
}
