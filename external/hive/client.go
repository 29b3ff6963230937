package hive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
	"github.com/qubic/hive-streamer/entities"
)

const timestampLayout = "2006-01-02T15:04:05"

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      uint64 `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPCError is an error reported by the node itself. It never triggers a failover.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type BlockCache = ttlcache.Cache[uint64, entities.Block]

// NewBlockCache keeps recently fetched blocks so contracts can verify transactions without another request.
// The cache outlives single clients and is shared across failovers.
func NewBlockCache(ttl time.Duration, capacity uint64) *BlockCache {
	return ttlcache.New[uint64, entities.Block](
		ttlcache.WithTTL[uint64, entities.Block](ttl),
		ttlcache.WithCapacity[uint64, entities.Block](capacity),
		ttlcache.WithDisableTouchOnHit[uint64, entities.Block](),
	)
}

// Client talks to one Hive api node over JSON-RPC.
type Client struct {
	endpoint  string
	http      *resty.Client
	blocks    *BlockCache
	requestID atomic.Uint64
}

func NewClient(endpoint string, timeout time.Duration, blocks *BlockCache) *Client {
	return &Client{
		endpoint: endpoint,
		http: resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
		blocks: blocks,
	}
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

func (c *Client) GetDynamicGlobalProperties(ctx context.Context) (entities.GlobalProperties, error) {
	var props struct {
		HeadBlockNumber          uint64 `json:"head_block_number"`
		LastIrreversibleBlockNum uint64 `json:"last_irreversible_block_num"`
		Time                     string `json:"time"`
	}
	err := c.call(ctx, "condenser_api.get_dynamic_global_properties", []any{}, &props)
	if err != nil {
		return entities.GlobalProperties{}, err
	}

	timestamp, err := time.Parse(timestampLayout, props.Time)
	if err != nil {
		return entities.GlobalProperties{}, errors.Wrapf(err, "parsing time [%s]", props.Time)
	}

	return entities.GlobalProperties{
		HeadBlockNumber:         props.HeadBlockNumber,
		LastIrreversibleBlockNr: props.LastIrreversibleBlockNum,
		Time:                    timestamp,
	}, nil
}

func (c *Client) GetBlock(ctx context.Context, blockNumber uint64) (entities.Block, error) {
	var raw rawBlock
	err := c.call(ctx, "condenser_api.get_block", []any{blockNumber}, &raw)
	if err != nil {
		return entities.Block{}, err
	}

	block, err := raw.toBlock(blockNumber)
	if err != nil {
		return entities.Block{}, errors.Wrapf(err, "converting block [%d]", blockNumber)
	}

	if c.blocks != nil {
		c.blocks.Set(blockNumber, block, ttlcache.DefaultTTL)
	}
	return block, nil
}

// GetTransaction returns entities.ErrDataUnavailable if the block does not contain the transaction.
func (c *Client) GetTransaction(ctx context.Context, blockNumber uint64, transactionID string) (entities.Transaction, error) {
	var block entities.Block
	if item := c.cachedBlock(blockNumber); item != nil {
		block = item.Value()
	} else {
		fetched, err := c.GetBlock(ctx, blockNumber)
		if err != nil {
			return entities.Transaction{}, err
		}
		block = fetched
	}

	for _, transaction := range block.Transactions {
		if transaction.ID == transactionID {
			return transaction, nil
		}
	}
	return entities.Transaction{}, errors.Wrapf(entities.ErrDataUnavailable, "transaction [%s] not in block [%d]", transactionID, blockNumber)
}

func (c *Client) GetAccount(ctx context.Context, name string) (entities.Account, error) {
	var accounts []struct {
		Name    string `json:"name"`
		Balance string `json:"balance"`
	}
	err := c.call(ctx, "condenser_api.get_accounts", []any{[]string{name}}, &accounts)
	if err != nil {
		return entities.Account{}, err
	}
	if len(accounts) == 0 {
		return entities.Account{}, errors.Wrapf(entities.ErrDataUnavailable, "account [%s] not found", name)
	}

	balance, err := entities.ParseAsset(accounts[0].Balance)
	if err != nil {
		return entities.Account{}, errors.Wrapf(err, "parsing balance of [%s]", name)
	}
	return entities.Account{Name: accounts[0].Name, Balance: balance}, nil
}

func (c *Client) cachedBlock(blockNumber uint64) *ttlcache.Item[uint64, entities.Block] {
	if c.blocks == nil {
		return nil
	}
	return c.blocks.Get(blockNumber)
}

// call sends one JSON-RPC request. Transport failures and unhealthy node responses are wrapped in
// entities.ErrTransientNetwork, a null result is entities.ErrDataUnavailable.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	request := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.requestID.Add(1),
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetBody(request).
		Post(c.endpoint)
	if err != nil {
		return fmt.Errorf("calling %s on [%s]: %w: %w", method, c.endpoint, entities.ErrTransientNetwork, err)
	}

	var response rpcResponse
	err = json.Unmarshal(res.Body(), &response)
	if err != nil {
		if res.StatusCode() >= http.StatusInternalServerError || res.StatusCode() == http.StatusTooManyRequests {
			return fmt.Errorf("calling %s on [%s]: %w: status %d", method, c.endpoint, entities.ErrTransientNetwork, res.StatusCode())
		}
		return errors.Wrapf(err, "decoding %s response with status %d", method, res.StatusCode())
	}

	if response.Error != nil {
		return errors.Wrapf(response.Error, "calling %s", method)
	}
	if len(response.Result) == 0 || string(response.Result) == "null" {
		return errors.Wrapf(entities.ErrDataUnavailable, "no result for %s", method)
	}

	err = json.Unmarshal(response.Result, result)
	if err != nil {
		return errors.Wrapf(err, "unmarshalling %s result", method)
	}
	return nil
}
