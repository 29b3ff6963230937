package streamer

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/qubic/hive-streamer/entities"
)

type Gateway interface {
	GetDynamicGlobalProperties(ctx context.Context) (entities.GlobalProperties, error)
	GetBlock(ctx context.Context, blockNumber uint64) (entities.Block, error)
	GetTransaction(ctx context.Context, blockNumber uint64, transactionID string) (entities.Transaction, error)
}

// Dialer creates a gateway for one api node. The timeout applies to every request of that gateway.
type Dialer func(endpoint string, timeout time.Duration) (Gateway, error)

// Connection holds the gateway currently in use. The poller replaces it on failover while
// contracts read transactions through it.
type Connection struct {
	mu        sync.RWMutex
	endpoints []string
	index     int
	gateway   Gateway
	dial      Dialer
}

func NewConnection(endpoints []string, dial Dialer, timeout time.Duration) (*Connection, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("no api nodes configured")
	}

	gateway, err := dial(endpoints[0], timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to [%s]", endpoints[0])
	}

	return &Connection{
		endpoints: endpoints,
		gateway:   gateway,
		dial:      dial,
	}, nil
}

func (c *Connection) Gateway() Gateway {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gateway
}

func (c *Connection) Endpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoints[c.index]
}

func (c *Connection) Size() int {
	return len(c.endpoints)
}

// Rotate moves to the next endpoint (wrapping around) and replaces the gateway. When dialing fails
// the previous gateway stays in place but the position still moves, so the next rotation skips the
// failing node.
func (c *Connection) Rotate(timeout time.Duration) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.index = (c.index + 1) % len(c.endpoints)
	endpoint := c.endpoints[c.index]

	gateway, err := c.dial(endpoint, timeout)
	if err != nil {
		return endpoint, errors.Wrapf(err, "connecting to [%s]", endpoint)
	}
	c.gateway = gateway
	return endpoint, nil
}

func (c *Connection) GetTransaction(ctx context.Context, blockNumber uint64, transactionID string) (entities.Transaction, error) {
	return c.Gateway().GetTransaction(ctx, blockNumber, transactionID)
}
