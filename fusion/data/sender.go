package data

import (
	"context"
	"fmt"
	"sync"

	"github.com/danmuck/fusion/fusion"
	"github.com/danmuck/fusion/fusion/fields"
	"github.com/danmuck/fusion/fusion/spatial"
	logs "github.com/danmuck/fusion/internal/logging"
	"github.com/danmuck/fusion/internal/protocol/payload"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	InterfacePath  = "/data"
	SenderPrefix   = "/data/sender"
	ReceiverPrefix = "/data/receiver"
)

// NewReceiverInfo describes a receiver that became visible to a sender.
type NewReceiverInfo struct {
	UID      string       `cbor:"uid"`
	Distance float32      `cbor:"distance"`
	Position payload.Vec3 `cbor:"position"`
	Rotation payload.Quat `cbor:"rotation"`
}

type PulseSenderHandler interface {
	NewReceiver(receiver *PulseReceiver, field *fields.UnknownField, info NewReceiverInfo)
	DropReceiver(uid string)
}

type receiverEntry struct {
	receiver *PulseReceiver
	field    *fields.UnknownField
}

// PulseSender sends keyed-map payloads to receivers that match its mask.
type PulseSender struct {
	*spatial.Spatial

	mu        sync.Mutex
	receivers map[string]receiverEntry
}

// NewPulseSender validates mask and creates a sender under parent. init builds
// the handler; the returned wrapper owns both the sender and the handler.
func NewPulseSender[H PulseSenderHandler](
	ctx context.Context,
	parent *spatial.Spatial,
	position *r3.Vec,
	rotation *quat.Number,
	mask []byte,
	init func(fusion.WeakRef[PulseSender], *PulseSender) H,
) (*fusion.HandlerWrapper[PulseSender, H], error) {
	if err := payload.ValidateMap(mask); err != nil {
		return nil, err
	}
	var w *fusion.HandlerWrapper[PulseSender, H]
	_, err := fusion.NewNodeWith(ctx, parent.Client(), InterfacePath, "createPulseSender", SenderPrefix, true, fusion.NewID(),
		func(n *fusion.Node) {
			w = wrapSender(n, init)
		},
		parent.Path(),
		spatial.WireTransform(position, rotation, nil),
		mask,
	)
	if err != nil {
		if w != nil {
			w.ReleaseHandler()
		}
		return nil, err
	}
	return w, nil
}

// wrapSender installs the receiver callbacks before the server can announce
// any receiver.
func wrapSender[H PulseSenderHandler](
	n *fusion.Node,
	init func(fusion.WeakRef[PulseSender], *PulseSender) H,
) *fusion.HandlerWrapper[PulseSender, H] {
	sender := &PulseSender{
		Spatial:   spatial.FromNode(n),
		receivers: make(map[string]receiverEntry),
	}
	return fusion.NewHandlerWrapper(sender, func(wh fusion.WeakHandler[H], ref fusion.WeakRef[PulseSender], s *PulseSender) H {
		s.Node().SetLocalSignal("newReceiver", func(data []byte) error {
			var info NewReceiverInfo
			if err := payload.Unmarshal(data, &info); err != nil {
				return fmt.Errorf("newReceiver: %w", err)
			}
			if info.UID == "" {
				return fmt.Errorf("newReceiver: missing uid")
			}
			var cbErr error
			ref.With(func(s *PulseSender) {
				entry, err := s.addReceiver(info.UID)
				if err != nil {
					cbErr = err
					return
				}
				wh.With(func(h H) {
					h.NewReceiver(entry.receiver, entry.field, info)
				})
			})
			return cbErr
		})
		s.Node().SetLocalSignal("dropReceiver", func(data []byte) error {
			raw, err := payload.SplitArgs(data)
			if err != nil {
				return fmt.Errorf("dropReceiver: %w", err)
			}
			var uid string
			if err := payload.Arg(raw, 0, &uid); err != nil {
				return fmt.Errorf("dropReceiver: %w", err)
			}
			ref.With(func(s *PulseSender) {
				s.removeReceiver(uid)
				wh.With(func(h H) {
					h.DropReceiver(uid)
				})
			})
			return nil
		})
		return init(ref, s)
	})
}

// addReceiver aliases the receiver and its field under this sender's path.
func (s *PulseSender) addReceiver(uid string) (receiverEntry, error) {
	c := s.Client()
	rx, err := spatial.FromPath(c, s.Path()+"/"+uid, false)
	if err != nil {
		return receiverEntry{}, err
	}
	field, err := fields.UnknownFieldFromPath(c, s.Path()+"/"+uid+"-field")
	if err != nil {
		_ = rx.Close()
		return receiverEntry{}, err
	}
	entry := receiverEntry{receiver: &PulseReceiver{Spatial: rx}, field: field}

	s.mu.Lock()
	prev, had := s.receivers[uid]
	s.receivers[uid] = entry
	s.mu.Unlock()
	if had {
		prev.close()
	}
	logs.Debugf("data.PulseSender newReceiver sender=%q uid=%q", s.Path(), uid)
	return entry, nil
}

func (s *PulseSender) removeReceiver(uid string) {
	s.mu.Lock()
	entry, ok := s.receivers[uid]
	delete(s.receivers, uid)
	s.mu.Unlock()
	if ok {
		entry.close()
	}
	logs.Debugf("data.PulseSender dropReceiver sender=%q uid=%q", s.Path(), uid)
}

func (e receiverEntry) close() {
	_ = e.receiver.Close()
	_ = e.field.Close()
}

// Receivers returns a snapshot of the visible receivers by uid.
func (s *PulseSender) Receivers() map[string]*PulseReceiver {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*PulseReceiver, len(s.receivers))
	for uid, entry := range s.receivers {
		out[uid] = entry.receiver
	}
	return out
}

// SendData sends a keyed-map payload to receiver. data must be a
// well-formed map or ErrMapInvalid is returned without sending.
func (s *PulseSender) SendData(receiver *PulseReceiver, data []byte) error {
	if err := payload.ValidateMap(data); err != nil {
		return err
	}
	return s.Node().SendRemoteSignalArgs("sendData", receiver.Node().Name(), data)
}

// Close drops every receiver alias and destroys the sender.
func (s *PulseSender) Close() error {
	s.mu.Lock()
	entries := s.receivers
	s.receivers = make(map[string]receiverEntry)
	s.mu.Unlock()
	for _, entry := range entries {
		entry.close()
	}
	return s.Spatial.Close()
}
