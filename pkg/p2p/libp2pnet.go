package p2p

import (
	"context"
	"errors"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/abci"
)

const (
	topicTxs    = "hyperswap-txs"
	topicBlocks = "hyperswap-blocks"

	// maxTxWireBytes bounds a gossiped transaction, matching the API body cap.
	maxTxWireBytes = 1 << 20
)

// Handlers receive gossip from other peers. Messages this node published
// are never delivered back to it.
type Handlers struct {
	OnTx    func(raw []byte) error
	OnBlock func(from peer.ID, blk abci.Block)
}

// Libp2pNet relays accepted transactions between nodes and announces
// committed blocks over GossipSub.
type Libp2pNet struct {
	h   host.Host
	ps  *pubsub.PubSub
	log *zap.SugaredLogger

	tTxs, tBlocks     *pubsub.Topic
	subTxs, subBlocks *pubsub.Subscription

	muH      sync.RWMutex
	handlers Handlers

	muHeads sync.Mutex
	heads   map[peer.ID]abci.Block // latest block announced by each peer
}

type Libp2pConfig struct {
	ListenAddr string
	Bootstrap  []string
	Logger     *zap.SugaredLogger
}

func NewLibp2pNet(ctx context.Context, cfg Libp2pConfig) (*Libp2pNet, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, err
	}

	net := &Libp2pNet{
		h:     h,
		ps:    ps,
		log:   cfg.Logger,
		heads: make(map[peer.ID]abci.Block),
	}

	for _, bs := range cfg.Bootstrap {
		if err := net.Connect(ctx, bs); err != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if err := net.joinTopics(); err != nil {
		h.Close()
		return nil, err
	}

	go net.handleTxs(ctx)
	go net.handleBlocks(ctx)

	cfg.Logger.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	return net, nil
}

// Connect dials a full /ip4/.../p2p/<id> multiaddr.
func (n *Libp2pNet) Connect(ctx context.Context, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return n.h.Connect(ctx, *info)
}

func (n *Libp2pNet) joinTopics() error {
	err := n.ps.RegisterTopicValidator(topicTxs, func(_ context.Context, _ peer.ID, msg *pubsub.Message) bool {
		if len(msg.Data) > maxTxWireBytes+256 {
			return false
		}
		var w TxWire
		return gobDecode(msg.Data, &w) == nil && len(w.Raw) > 0
	})
	if err != nil {
		return err
	}

	if n.tTxs, err = n.ps.Join(topicTxs); err != nil {
		return err
	}
	if n.tBlocks, err = n.ps.Join(topicBlocks); err != nil {
		return err
	}

	if n.subTxs, err = n.tTxs.Subscribe(); err != nil {
		return err
	}
	if n.subBlocks, err = n.tBlocks.Subscribe(); err != nil {
		return err
	}
	return nil
}

func (n *Libp2pNet) SetHandlers(h Handlers) { n.muH.Lock(); n.handlers = h; n.muH.Unlock() }

func (n *Libp2pNet) Host() host.Host { return n.h }

// Peers returns the number of connected peers.
func (n *Libp2pNet) Peers() int { return len(n.h.Network().Peers()) }

// BroadcastTx relays a transaction this node accepted.
func (n *Libp2pNet) BroadcastTx(ctx context.Context, raw []byte) error {
	if len(raw) > maxTxWireBytes {
		return errors.New("transaction too large to gossip")
	}
	data, err := gobEncode(TxWire{Raw: raw})
	if err != nil {
		return err
	}
	return n.tTxs.Publish(ctx, data)
}

// AnnounceBlock publishes the header of a block this node committed.
func (n *Libp2pNet) AnnounceBlock(ctx context.Context, blk abci.Block) error {
	data, err := gobEncode(blockWire(blk))
	if err != nil {
		return err
	}
	return n.tBlocks.Publish(ctx, data)
}

// PeerHead returns the highest block any peer has announced.
func (n *Libp2pNet) PeerHead() (abci.Block, bool) {
	n.muHeads.Lock()
	defer n.muHeads.Unlock()
	var best abci.Block
	found := false
	for _, b := range n.heads {
		if !found || b.Height > best.Height {
			best, found = b, true
		}
	}
	return best, found
}

func (n *Libp2pNet) Close() error {
	n.subTxs.Cancel()
	n.subBlocks.Cancel()
	return errors.Join(n.tTxs.Close(), n.tBlocks.Close(), n.h.Close())
}

// inbound

func (n *Libp2pNet) handleTxs(ctx context.Context) {
	for {
		msg, err := n.subTxs.Next(ctx)
		if err != nil {
			return
		}
		if msg.GetFrom() == n.h.ID() {
			continue
		}
		var w TxWire
		if err := gobDecode(msg.Data, &w); err != nil {
			continue
		}

		n.muH.RLock()
		h := n.handlers
		n.muH.RUnlock()
		if h.OnTx == nil {
			continue
		}
		if err := h.OnTx(w.Raw); err != nil {
			n.log.Debugw("gossip_tx_refused", "from", msg.GetFrom().String(), "err", err)
		}
	}
}

func (n *Libp2pNet) handleBlocks(ctx context.Context) {
	for {
		msg, err := n.subBlocks.Next(ctx)
		if err != nil {
			return
		}
		from := msg.GetFrom()
		if from == n.h.ID() {
			continue
		}
		var w BlockWire
		if err := gobDecode(msg.Data, &w); err != nil {
			continue
		}
		blk := w.Block()

		n.muHeads.Lock()
		if prev, ok := n.heads[from]; !ok || blk.Height > prev.Height {
			n.heads[from] = blk
		}
		n.muHeads.Unlock()

		n.muH.RLock()
		h := n.handlers
		n.muH.RUnlock()
		if h.OnBlock != nil {
			h.OnBlock(from, blk)
		}
	}
}
