package node

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/relayex/internal/config"
	"github.com/Aidin1998/relayex/internal/ledger"
	"github.com/Aidin1998/relayex/internal/registry"
)

var owner = common.HexToAddress("0x00000000000000000000000000000000000a11ce")

func testConfig(dir string) *config.Config {
	return &config.Config{
		Environment: "test",
		Ledger:      config.LedgerConfig{Dir: dir},
		Registry:    config.RegistryConfig{Owner: owner.Hex(), GrantDelay: time.Hour},
		Exchange:    config.ExchangeConfig{ProtocolFeeBps: 500, ProtocolFeeRecipient: owner.Hex()},
		Events:      config.EventsConfig{Buffer: 16},
	}
}

func TestStartDeploysAndAuthorizesExchange(t *testing.T) {
	ctx := context.Background()
	clock := ledger.NewManualClock(time.Unix(1_700_000_000, 0))
	n, err := Start(ctx, testConfig(""), Options{Clock: clock}, zap.NewNop())
	require.NoError(t, err)
	defer n.Close()

	assert.Equal(t, owner, n.Deployment.Owner)
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), n.Deployment.DeployedAt)

	st, err := n.Registry.Status(ctx, n.Exchange.Address())
	require.NoError(t, err)
	assert.Equal(t, registry.Authorized, st.State)

	info, err := n.Exchange.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, n.Registry.Address(), info.Registry)
	assert.EqualValues(t, 500, info.ProtocolFeeBps)
	assert.Equal(t, owner, info.Owner)

	assert.NotEmpty(t, n.Recent.Recent(10, "OperatorAuthorized"))
}

func TestRestartAttachesToDeployment(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := Start(ctx, testConfig(dir), Options{}, nil)
	require.NoError(t, err)
	deployed := first.Deployment
	require.NoError(t, first.Close())

	second, err := Start(ctx, testConfig(dir), Options{}, nil)
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, deployed.Registry, second.Registry.Address())
	assert.Equal(t, deployed.Exchange, second.Exchange.Address())

	st, err := second.Registry.Status(ctx, second.Exchange.Address())
	require.NoError(t, err)
	assert.Equal(t, registry.Authorized, st.State)
}

func TestStartRejectsBadKafkaConfig(t *testing.T) {
	cfg := testConfig("")
	cfg.Kafka = config.KafkaConfig{Enabled: true}
	_, err := Start(context.Background(), cfg, Options{}, nil)
	assert.Error(t, err)
}
