// Package chain implements domain.ChainClient for EVM networks using
// go-ethereum's ethclient.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/wavey0x/auction-curves-sub001/internal/domain"
)

// Minimal read-only ABIs for the contract views the indexer needs.
const (
	erc20ABIJSON = `[{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}]`

	auctionABIJSON = `[{"name":"available","type":"function","stateMutability":"view","inputs":[{"name":"from","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}]`
)

var (
	erc20ABI   abi.ABI
	auctionABI abi.ABI
)

func init() {
	var err error
	if erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON)); err != nil {
		panic(fmt.Sprintf("chain: parse erc20 abi: %v", err))
	}
	if auctionABI, err = abi.JSON(strings.NewReader(auctionABIJSON)); err != nil {
		panic(fmt.Sprintf("chain: parse auction abi: %v", err))
	}
}

// Client wraps an ethclient connection to one network.
type Client struct {
	ec        *ethclient.Client
	networkID int64

	mu         sync.Mutex
	blockTimes map[uint64]time.Time // header timestamp cache, per scan window
}

// Dial connects to the given RPC endpoint and verifies that the remote chain
// id matches the configured one.
func Dial(ctx context.Context, rpcURL string, networkID int64) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}

	remote, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}
	if remote.Int64() != networkID {
		ec.Close()
		return nil, fmt.Errorf("chain: endpoint %s serves chain %d, config says %d", rpcURL, remote.Int64(), networkID)
	}

	return &Client{
		ec:         ec,
		networkID:  networkID,
		blockTimes: make(map[uint64]time.Time),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.ec.Close()
}

// NetworkID identifies the chain this client is connected to.
func (c *Client) NetworkID() int64 {
	return c.networkID
}

// HeadBlock returns the current chain head.
func (c *Client) HeadBlock(ctx context.Context) (uint64, error) {
	head, err := c.ec.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: head block: %w", err)
	}
	return head, nil
}

// FilterLogs returns logs emitted by the given addresses in [from, to].
func (c *Client) FilterLogs(ctx context.Context, from, to uint64, addresses []string) ([]domain.Log, error) {
	if len(addresses) == 0 {
		return nil, nil
	}

	addrs := make([]common.Address, 0, len(addresses))
	for _, a := range addresses {
		addrs = append(addrs, common.HexToAddress(a))
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: addrs,
	}

	raw, err := c.ec.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("chain: filter logs [%d,%d]: %w", from, to, err)
	}

	logs := make([]domain.Log, 0, len(raw))
	for _, l := range raw {
		if l.Removed {
			continue
		}
		topics := make([]string, 0, len(l.Topics))
		for _, t := range l.Topics {
			topics = append(topics, t.Hex())
		}
		logs = append(logs, domain.Log{
			Address:     strings.ToLower(l.Address.Hex()),
			Topics:      topics,
			Data:        l.Data,
			BlockNumber: l.BlockNumber,
			TxHash:      l.TxHash.Hex(),
			LogIndex:    l.Index,
		})
	}
	return logs, nil
}

// BlockTime returns the timestamp of the given block. Timestamps are cached
// because takes in one batch usually cluster in a handful of blocks; the
// cache is reset when it grows past a scan window's worth of entries.
func (c *Client) BlockTime(ctx context.Context, block uint64) (time.Time, error) {
	c.mu.Lock()
	if ts, ok := c.blockTimes[block]; ok {
		c.mu.Unlock()
		return ts, nil
	}
	c.mu.Unlock()

	header, err := c.ec.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
	if err != nil {
		return time.Time{}, fmt.Errorf("chain: header %d: %w", block, err)
	}
	ts := time.Unix(int64(header.Time), 0).UTC()

	c.mu.Lock()
	if len(c.blockTimes) > 8192 {
		c.blockTimes = make(map[uint64]time.Time)
	}
	c.blockTimes[block] = ts
	c.mu.Unlock()

	return ts, nil
}

// TokenDecimals reads the ERC-20 decimals of a token contract.
func (c *Client) TokenDecimals(ctx context.Context, token string) (uint8, error) {
	data, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("chain: pack decimals: %w", err)
	}

	addr := common.HexToAddress(token)
	out, err := c.ec.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("chain: call decimals on %s: %w", token, err)
	}

	vals, err := erc20ABI.Unpack("decimals", out)
	if err != nil || len(vals) != 1 {
		return 0, fmt.Errorf("chain: unpack decimals on %s: %w", token, err)
	}
	dec, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("chain: decimals on %s: unexpected type %T", token, vals[0])
	}
	return dec, nil
}

// AuctionAvailable reads the auction's available(from) view in raw token
// units.
func (c *Client) AuctionAvailable(ctx context.Context, auction, fromToken string) (*big.Int, error) {
	data, err := auctionABI.Pack("available", common.HexToAddress(fromToken))
	if err != nil {
		return nil, fmt.Errorf("chain: pack available: %w", err)
	}

	addr := common.HexToAddress(auction)
	out, err := c.ec.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call available on %s: %w", auction, err)
	}

	vals, err := auctionABI.Unpack("available", out)
	if err != nil || len(vals) != 1 {
		return nil, fmt.Errorf("chain: unpack available on %s: %w", auction, err)
	}
	amount, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: available on %s: unexpected type %T", auction, vals[0])
	}
	return amount, nil
}

// Compile-time interface check.
var _ domain.ChainClient = (*Client)(nil)
