package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"sentinel/internal/faults"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

type fakeRPCClient struct {
	blockNumber uint64
	gasPrice    *big.Int
	balance     *big.Int
	failAll     bool

	blockNumberCalls int
}

func (c *fakeRPCClient) BlockNumber(context.Context) (uint64, error) {
	c.blockNumberCalls++
	if c.failAll {
		return 0, errors.New("connection refused")
	}
	return c.blockNumber, nil
}

func (c *fakeRPCClient) SuggestGasPrice(context.Context) (*big.Int, error) {
	if c.failAll {
		return nil, errors.New("connection refused")
	}
	return c.gasPrice, nil
}

func (c *fakeRPCClient) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	if c.failAll {
		return nil, errors.New("connection refused")
	}
	return c.balance, nil
}

func (c *fakeRPCClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	if c.failAll {
		return 0, errors.New("connection refused")
	}
	return 7, nil
}

func (c *fakeRPCClient) SendTransaction(context.Context, *types.Transaction) error {
	if c.failAll {
		return errors.New("connection refused")
	}
	return nil
}

func (c *fakeRPCClient) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	if c.failAll {
		return nil, errors.New("connection refused")
	}
	return &types.Receipt{BlockNumber: big.NewInt(int64(c.blockNumber))}, nil
}

func (c *fakeRPCClient) Close() {}

func newTestConnector(clients ...rpcClient) *Connector {
	return newWithClients(clients, big.NewInt(11155111), 2, time.Second, nil)
}

func TestProbeFailsOverToBackup(t *testing.T) {
	t.Parallel()

	primary := &fakeRPCClient{failAll: true}
	backup := &fakeRPCClient{blockNumber: 100}
	connector := newTestConnector(primary, backup)

	require.Equal(t, "fake-0", connector.ActiveEndpoint())
	require.NoError(t, connector.Probe(context.Background()))
	require.Equal(t, "fake-1", connector.ActiveEndpoint())

	head, err := connector.BlockNumber(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(100), head)
}

func TestProbeKeepsHealthyPrimary(t *testing.T) {
	t.Parallel()

	primary := &fakeRPCClient{blockNumber: 50}
	backup := &fakeRPCClient{blockNumber: 50}
	connector := newTestConnector(primary, backup)

	require.NoError(t, connector.Probe(context.Background()))
	require.Equal(t, "fake-0", connector.ActiveEndpoint())
	require.Zero(t, backup.blockNumberCalls, "healthy primary must not touch backups")
}

func TestProbeAllEndpointsDown(t *testing.T) {
	t.Parallel()

	connector := newTestConnector(&fakeRPCClient{failAll: true}, &fakeRPCClient{failAll: true})

	err := connector.Probe(context.Background())
	require.Error(t, err)
	require.True(t, faults.IsTransient(err), "exhausted endpoints must be a transient fault")
	require.Empty(t, connector.ActiveEndpoint())

	_, err = connector.BlockNumber(context.Background())
	require.True(t, faults.IsTransient(err))
}

func TestProbeRecoversPrimary(t *testing.T) {
	t.Parallel()

	primary := &fakeRPCClient{failAll: true}
	backup := &fakeRPCClient{blockNumber: 10}
	connector := newTestConnector(primary, backup)

	require.NoError(t, connector.Probe(context.Background()))
	require.Equal(t, "fake-1", connector.ActiveEndpoint())

	// Once the backup dies too, a recovered primary is picked up again.
	backup.failAll = true
	primary.failAll = false
	require.NoError(t, connector.Probe(context.Background()))
	require.Equal(t, "fake-0", connector.ActiveEndpoint())
}

func TestGasPriceGweiConversion(t *testing.T) {
	t.Parallel()

	client := &fakeRPCClient{gasPrice: big.NewInt(25_000_000_000)}
	connector := newTestConnector(client)

	gwei, err := connector.GasPriceGwei(context.Background())
	require.NoError(t, err)
	require.InDelta(t, 25.0, gwei, 0.0001)
}

func TestBalanceReadsActiveEndpoint(t *testing.T) {
	t.Parallel()

	client := &fakeRPCClient{balance: big.NewInt(5e17)}
	connector := newTestConnector(client)

	balance, err := connector.Balance(context.Background(), common.HexToAddress("0x1111111111111111111111111111111111111111"))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(5e17), balance)
}

func TestInvokeRequiresSigner(t *testing.T) {
	t.Parallel()

	connector := newTestConnector(&fakeRPCClient{gasPrice: big.NewInt(1)})
	_, err := connector.Invoke(context.Background(), common.Address{}, nil)
	require.ErrorContains(t, err, "signer is not configured")
}

func TestMethodCallData(t *testing.T) {
	t.Parallel()

	pause := MethodCallData("pause()")
	require.Len(t, pause, 4)
	require.Equal(t, common.Hex2Bytes("8456cb59"), pause)

	owner := common.HexToAddress("0x8888888888888888888888888888888888888888")
	transfer := MethodCallData("transferOwnership(address)", owner)
	require.Len(t, transfer, 36)
	require.Equal(t, common.Hex2Bytes("f2fde38b"), transfer[:4])
	require.Equal(t, common.LeftPadBytes(owner.Bytes(), 32), transfer[4:])
}
