// Package node assembles a running exchange node: the ledger and its event
// sinks, the installed contract code and the deployed registry and exchange.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Aidin1998/relayex/internal/assets"
	"github.com/Aidin1998/relayex/internal/config"
	"github.com/Aidin1998/relayex/internal/events"
	"github.com/Aidin1998/relayex/internal/exchange"
	"github.com/Aidin1998/relayex/internal/ledger"
	"github.com/Aidin1998/relayex/internal/registry"
	"github.com/Aidin1998/relayex/pkg/errors"
)

const deploymentKey = "deployment"

// Deployment records where the node's contracts live. It is stored in the
// ledger so that a restarted node attaches instead of redeploying.
type Deployment struct {
	Registry   common.Address `json:"registry"`
	Exchange   common.Address `json:"exchange"`
	Owner      common.Address `json:"owner"`
	DeployedAt time.Time      `json:"deployed_at"`
}

// Node owns the ledger and handles on the deployed contracts.
type Node struct {
	Ledger     *ledger.Ledger
	Registry   *registry.Registry
	Exchange   *exchange.Exchange
	Recent     *events.MemorySink
	Deployment Deployment

	kafka  *events.KafkaSink
	logger *zap.Logger
}

// Options carries what Start does not read from the configuration.
type Options struct {
	// Clock defaults to the system clock.
	Clock ledger.Clock
}

// Start opens the ledger described by cfg, installs the contract code and
// deploys the registry and the exchange on first start. The exchange is the
// registry's initial operator.
func Start(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Node{
		Recent: events.NewMemorySink(cfg.Events.Buffer),
		logger: logger.Named("node"),
	}
	sinks := []ledger.EventSink{n.Recent}
	if cfg.Kafka.Enabled {
		k, err := events.NewKafkaSink(events.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("kafka sink: %w", err)
		}
		n.kafka = k
		sinks = append(sinks, k)
	}

	l, err := ledger.Open(ledger.Options{
		Dir:   cfg.Ledger.Dir,
		Clock: opts.Clock,
		Sink:  events.NewFanout(logger, sinks...),
	}, logger)
	if err != nil {
		_ = n.closeSinks()
		return nil, err
	}
	n.Ledger = l
	registry.Install(l)
	exchange.Install(l)
	assets.Install(l)

	if err := n.attachOrDeploy(ctx, cfg); err != nil {
		_ = n.Close()
		return nil, err
	}
	n.logger.Info("node started",
		zap.Stringer("registry", n.Deployment.Registry),
		zap.Stringer("exchange", n.Deployment.Exchange),
		zap.String("ledger_dir", cfg.Ledger.Dir))
	return n, nil
}

func (n *Node) attachOrDeploy(ctx context.Context, cfg *config.Config) error {
	raw, err := n.Ledger.Meta(ctx, deploymentKey)
	if err != nil {
		return fmt.Errorf("read deployment: %w", err)
	}
	if raw != nil {
		if err := json.Unmarshal(raw, &n.Deployment); err != nil {
			return fmt.Errorf("decode deployment: %w", err)
		}
		n.Registry = registry.New(n.Ledger, n.Deployment.Registry, n.logger)
		n.Exchange = exchange.New(n.Ledger, n.Deployment.Exchange, n.logger)
		n.logger.Info("attached to existing deployment")
		return nil
	}

	owner := cfg.Registry.OwnerAddress()
	reg, err := registry.Deploy(ctx, n.Ledger, owner, cfg.Registry.GrantDelay, n.logger)
	if err != nil {
		return fmt.Errorf("deploy registry: %w", err)
	}
	ex, err := exchange.Deploy(ctx, n.Ledger, owner, exchange.Config{
		Registry:             reg.Address(),
		ProtocolFeeBps:       cfg.Exchange.ProtocolFeeBps,
		ProtocolFeeRecipient: cfg.Exchange.RecipientAddress(),
	}, n.logger)
	if err != nil {
		return fmt.Errorf("deploy exchange: %w", err)
	}
	if _, err := reg.GrantInitial(ctx, owner, ex.Address()); err != nil {
		return fmt.Errorf("authorize exchange: %w", err)
	}

	n.Registry, n.Exchange = reg, ex
	n.Deployment = Deployment{
		Registry:   reg.Address(),
		Exchange:   ex.Address(),
		Owner:      owner,
		DeployedAt: n.Ledger.Now().UTC(),
	}
	raw, err = json.Marshal(n.Deployment)
	if err != nil {
		return err
	}
	if err := n.Ledger.SetMeta(ctx, deploymentKey, raw); err != nil {
		return fmt.Errorf("store deployment: %w", err)
	}
	n.logger.Info("deployed contracts", zap.Stringer("owner", owner))
	return nil
}

// Close flushes the event sinks and closes the ledger.
func (n *Node) Close() error {
	var errs []error
	if err := n.closeSinks(); err != nil {
		errs = append(errs, err)
	}
	if n.Ledger != nil {
		if err := n.Ledger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *Node) closeSinks() error {
	if n.kafka == nil {
		return nil
	}
	return n.kafka.Close()
}
