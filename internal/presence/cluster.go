package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Envelope carries an event to the node holding the target channels
type Envelope struct {
	Address string `json:"address"`
	Event   Event  `json:"event"`
}

// Relay moves envelopes between coordinator processes
type Relay interface {
	Send(ctx context.Context, nodeID string, env Envelope) error
	// Listen delivers envelopes addressed to nodeID until the returned stop func is called
	Listen(nodeID string, fn func(Envelope)) (stop func() error, err error)
}

// Cluster shares presence across processes. Channels live in a Local
// registry; Redis records which nodes hold channels for an address, and
// events for remote channels are relayed to those nodes.
type Cluster struct {
	local  *Local
	rdb    redis.UniversalClient
	relay  Relay
	nodeID string
	ttl    time.Duration
}

// NewCluster creates a clustered presence service
func NewCluster(rdb redis.UniversalClient, relay Relay, nodeID string, ttl time.Duration) *Cluster {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cluster{
		local:  NewLocal(),
		rdb:    rdb,
		relay:  relay,
		nodeID: nodeID,
		ttl:    ttl,
	}
}

// NodeID returns the identity of this process in the cluster
func (c *Cluster) NodeID() string {
	return c.nodeID
}

func presenceKey(address string) string {
	return "presence:" + address
}

// Register adds a local channel and advertises this node for address
func (c *Cluster) Register(ctx context.Context, address string, ch Channel) error {
	if err := c.local.Register(ctx, address, ch); err != nil {
		return err
	}
	return c.advertise(ctx, address)
}

// Unregister removes a local channel and withdraws this node once no
// local channel remains for address
func (c *Cluster) Unregister(ctx context.Context, address string, ch Channel) error {
	if err := c.local.Unregister(ctx, address, ch); err != nil {
		return err
	}
	if c.local.has(address) {
		return nil
	}
	if err := c.rdb.ZRem(ctx, presenceKey(address), c.nodeID).Err(); err != nil {
		return fmt.Errorf("withdraw presence: %w", err)
	}
	return nil
}

// Lookup reports whether any node holds a live channel for address
func (c *Cluster) Lookup(ctx context.Context, address string) (bool, error) {
	if c.local.has(address) {
		return true, nil
	}
	nodes, err := c.nodes(ctx, address)
	if err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

// Publish delivers locally and relays to every other node advertising
// address. The count includes one per remote node reached.
func (c *Cluster) Publish(ctx context.Context, address string, ev Event) (int, error) {
	delivered, _ := c.local.Publish(ctx, address, ev)

	nodes, err := c.nodes(ctx, address)
	if err != nil {
		if delivered > 0 {
			log.Warn().Err(err).Str("address", address).Msg("Presence lookup failed, delivered locally only")
			return delivered, nil
		}
		return 0, err
	}

	for _, node := range nodes {
		if node == c.nodeID {
			continue
		}
		if err := c.relay.Send(ctx, node, Envelope{Address: address, Event: ev}); err != nil {
			log.Warn().Err(err).
				Str("address", address).
				Str("node", node).
				Msg("Failed to relay event")
			continue
		}
		delivered++
	}
	return delivered, nil
}

// Run listens for relayed events and refreshes this node's presence
// records until ctx is cancelled
func (c *Cluster) Run(ctx context.Context) error {
	stop, err := c.relay.Listen(c.nodeID, func(env Envelope) {
		if _, err := c.local.Publish(context.Background(), env.Address, env.Event); err != nil {
			log.Warn().Err(err).Str("address", env.Address).Msg("Failed to deliver relayed event")
		}
	})
	if err != nil {
		return fmt.Errorf("listen for relayed events: %w", err)
	}
	defer stop()

	log.Info().
		Str("node", c.nodeID).
		Dur("ttl", c.ttl).
		Msg("Cluster presence started")

	ticker := time.NewTicker(c.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.withdrawAll()
			return nil
		case <-ticker.C:
			c.Heartbeat(ctx)
		}
	}
}

// Heartbeat refreshes the expiry of every address held by this node
func (c *Cluster) Heartbeat(ctx context.Context) {
	for _, addr := range c.local.Addresses() {
		if err := c.advertise(ctx, addr); err != nil {
			log.Warn().Err(err).Str("address", addr).Msg("Presence heartbeat failed")
		}
	}
}

func (c *Cluster) advertise(ctx context.Context, address string) error {
	key := presenceKey(address)
	expiresAt := float64(time.Now().Add(c.ttl).UnixMilli())

	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: expiresAt, Member: c.nodeID})
		pipe.Expire(ctx, key, 2*c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("advertise presence: %w", err)
	}
	return nil
}

// nodes returns the nodes with an unexpired advertisement for address
func (c *Cluster) nodes(ctx context.Context, address string) ([]string, error) {
	key := presenceKey(address)
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	if err := c.rdb.ZRemRangeByScore(ctx, key, "-inf", "("+now).Err(); err != nil {
		return nil, fmt.Errorf("prune presence: %w", err)
	}
	nodes, err := c.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: now, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("lookup presence: %w", err)
	}
	return nodes, nil
}

func (c *Cluster) withdrawAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, addr := range c.local.Addresses() {
		c.rdb.ZRem(ctx, presenceKey(addr), c.nodeID)
	}
}

// NATSRelay relays envelopes over NATS subjects presence.node.<nodeID>
type NATSRelay struct {
	nc *nats.Conn
}

// NewNATSRelay creates a NATS-backed relay
func NewNATSRelay(nc *nats.Conn) *NATSRelay {
	return &NATSRelay{nc: nc}
}

func nodeSubject(nodeID string) string {
	return "presence.node." + nodeID
}

// Send publishes env to the node's subject
func (r *NATSRelay) Send(_ context.Context, nodeID string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return r.nc.Publish(nodeSubject(nodeID), data)
}

// Listen subscribes to this node's subject
func (r *NATSRelay) Listen(nodeID string, fn func(Envelope)) (func() error, error) {
	sub, err := r.nc.Subscribe(nodeSubject(nodeID), func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to unmarshal relayed event")
			return
		}
		fn(env)
	})
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}
