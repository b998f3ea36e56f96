package fusion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/fusion/internal/config"
	logs "github.com/danmuck/fusion/internal/logging"
	"github.com/danmuck/fusion/internal/messenger"
	"github.com/danmuck/fusion/internal/observability"
	"github.com/danmuck/fusion/internal/protocol/frame"
	"github.com/danmuck/fusion/internal/protocol/payload"
	"github.com/danmuck/fusion/internal/transport"
	"golang.org/x/sync/errgroup"
)

const inboundQueue = 64

// LogicStepInfo is delivered to the lifecycle handler once per tick.
type LogicStepInfo struct {
	// Delta is the time since the previous tick.
	Delta time.Duration
	// Elapsed is the time since the loop started.
	Elapsed time.Duration
}

type LifeCycleHandler interface {
	LogicStep(info LogicStepInfo)
}

// Client owns one connection: its Messenger, Scenegraph and root Node.
type Client struct {
	cfg       config.ClientConfig
	messenger *messenger.Messenger
	graph     *Scenegraph
	root      *Node
	sidecar   *observability.Sidecar

	lifecycle atomic.Pointer[func(LogicStepInfo) bool]
	running   atomic.Bool
	stopOnce  sync.Once
	stop      chan struct{}

	startedAt time.Time
	lastTick  time.Time
}

// Connect resolves the server address, dials it and registers base prefixes.
func Connect(ctx context.Context, cfg config.ClientConfig) (*Client, error) {
	addr, err := config.ResolveAddress(cfg)
	if err != nil {
		return nil, err
	}
	t, err := transport.NewDialer(cfg.Session, cfg.MaxConnectAttempts).Dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("fusion: connect %s: %w", addr, err)
	}
	c := NewClient(t, cfg)
	if len(cfg.BasePrefixes) > 0 {
		if err := c.SetBasePrefixes(cfg.BasePrefixes); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	logs.Infof("fusion.Connect address=%q", addr)
	return c, nil
}

// NewClient builds a Client on an established transport.
func NewClient(t transport.Transport, cfg config.ClientConfig) *Client {
	c := &Client{
		cfg:       cfg,
		messenger: messenger.New(t),
		graph:     NewScenegraph(),
		stop:      make(chan struct{}),
	}
	root, err := newNode(c, "/", false)
	if err != nil {
		panic(err)
	}
	c.root = root
	ref := MakeWeakRef(c)
	root.SetLocalSignal("logicStep", func(data []byte) error {
		cl := ref.Upgrade()
		if cl == nil {
			return nil
		}
		return cl.handleLogicStepSignal(data)
	})
	if cfg.MetricsAddr != "" {
		c.sidecar = observability.NewSidecar(observability.SidecarConfig{
			Addr:    cfg.MetricsAddr,
			Service: "fusion-client",
		})
	}
	return c
}

func (c *Client) Root() *Node {
	return c.root
}

func (c *Client) Scenegraph() *Scenegraph {
	return c.graph
}

func (c *Client) Messenger() *messenger.Messenger {
	return c.messenger
}

// SetBasePrefixes registers asset search prefixes with the server.
func (c *Client) SetBasePrefixes(prefixes []string) error {
	return c.root.SendRemoteSignalArgs("setBasePrefixes", prefixes)
}

// RootWrapper is the lifecycle handler attached to a Client.
type RootWrapper[H LifeCycleHandler] struct {
	*HandlerWrapper[Client, H]
}

// WrapRoot attaches a lifecycle handler. The Client keeps only a weak
// reference to it; the returned wrapper owns it.
func WrapRoot[H LifeCycleHandler](c *Client, init func(WeakRef[Client], *Client) H) *RootWrapper[H] {
	w := NewHandlerWrapper(c, func(wh WeakHandler[H], ref WeakRef[Client], c *Client) H {
		step := func(info LogicStepInfo) bool {
			return wh.With(func(h H) {
				h.LogicStep(info)
			})
		}
		c.lifecycle.Store(&step)
		return init(ref, c)
	})
	return &RootWrapper[H]{w}
}

func (c *Client) logicStep(info LogicStepInfo) {
	step := c.lifecycle.Load()
	if step == nil {
		return
	}
	(*step)(info)
}

// handleLogicStepSignal accepts a server-driven tick carrying
// [delta_seconds, elapsed_seconds].
func (c *Client) handleLogicStepSignal(data []byte) error {
	raw, err := payload.SplitArgs(data)
	if err != nil {
		return err
	}
	var delta, elapsed float64
	if err := payload.Arg(raw, 0, &delta); err != nil {
		return err
	}
	if err := payload.Arg(raw, 1, &elapsed); err != nil {
		return err
	}
	c.logicStep(LogicStepInfo{
		Delta:   time.Duration(delta * float64(time.Second)),
		Elapsed: time.Duration(elapsed * float64(time.Second)),
	})
	return nil
}

// Run pumps inbound frames and ticks until ctx is done, StopLoop is called,
// or the connection drops. Connection loss returns ErrConnectionLost; the
// other exits return nil. The connection is closed when Run returns.
func (c *Client) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	frames := make(chan frame.Frame, inboundQueue)

	g.Go(func() error {
		err := c.messenger.ReadLoop(gctx, frames)
		if errors.Is(err, ErrConnectionLost) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer cancel()
		defer c.messenger.Close()
		return c.loop(gctx, frames)
	})
	if c.sidecar != nil {
		c.sidecar.SetReady(true)
		g.Go(func() error {
			return c.sidecar.ListenAndServe(gctx)
		})
	}

	err := g.Wait()
	if err != nil {
		logs.Warnf("fusion.Client.Run exit err=%v", err)
		return err
	}
	logs.Infof("fusion.Client.Run stopped")
	return nil
}

func (c *Client) loop(ctx context.Context, frames <-chan frame.Frame) error {
	c.startedAt = time.Now()
	c.lastTick = c.startedAt

	var tick <-chan time.Time
	if c.cfg.TickInterval > 0 {
		ticker := time.NewTicker(c.cfg.TickInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stop:
			return nil
		case f := <-frames:
			_ = c.messenger.Dispatch(f, c.graph)
		case now := <-tick:
			info := LogicStepInfo{Delta: now.Sub(c.lastTick), Elapsed: now.Sub(c.startedAt)}
			c.lastTick = now
			c.logicStep(info)
		}
	}
}

// StopLoop asks Run to return.
func (c *Client) StopLoop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// Close stops the loop and closes the connection. Pending calls fail with
// ErrInvalidMessenger.
func (c *Client) Close() error {
	c.StopLoop()
	return c.messenger.Close()
}
