package data

import (
	"context"
	"fmt"

	"github.com/danmuck/fusion/fusion"
	"github.com/danmuck/fusion/fusion/fields"
	"github.com/danmuck/fusion/fusion/spatial"
	"github.com/danmuck/fusion/internal/protocol/payload"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

type PulseReceiverHandler interface {
	// Data receives the raw payload and its decoded map. uid names the sender.
	Data(uid string, data []byte, decoded map[string]any)
}

// PulseReceiver accepts payloads from senders whose mask it satisfies.
type PulseReceiver struct {
	*spatial.Spatial
}

type sendDataInfo struct {
	UID  string `cbor:"uid"`
	Data []byte `cbor:"data"`
}

// NewPulseReceiver validates mask and creates a receiver under parent whose
// visibility is defined by field.
func NewPulseReceiver[H PulseReceiverHandler](
	ctx context.Context,
	parent *spatial.Spatial,
	position *r3.Vec,
	rotation *quat.Number,
	field fields.Field,
	mask []byte,
	init func(fusion.WeakRef[PulseReceiver], *PulseReceiver) H,
) (*fusion.HandlerWrapper[PulseReceiver, H], error) {
	if err := payload.ValidateMap(mask); err != nil {
		return nil, err
	}
	var w *fusion.HandlerWrapper[PulseReceiver, H]
	_, err := fusion.NewNodeWith(ctx, parent.Client(), InterfacePath, "createPulseReceiver", ReceiverPrefix, true, fusion.NewID(),
		func(n *fusion.Node) {
			w = wrapReceiver(n, init)
		},
		parent.Path(),
		spatial.WireTransform(position, rotation, nil),
		field.Node().Path(),
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

func wrapReceiver[H PulseReceiverHandler](
	n *fusion.Node,
	init func(fusion.WeakRef[PulseReceiver], *PulseReceiver) H,
) *fusion.HandlerWrapper[PulseReceiver, H] {
	rx := &PulseReceiver{Spatial: spatial.FromNode(n)}
	return fusion.NewHandlerWrapper(rx, func(wh fusion.WeakHandler[H], ref fusion.WeakRef[PulseReceiver], r *PulseReceiver) H {
		r.Node().SetLocalSignal("data", func(data []byte) error {
			var info sendDataInfo
			if err := payload.Unmarshal(data, &info); err != nil {
				return fmt.Errorf("data: %w", err)
			}
			decoded, err := payload.ReadMap(info.Data)
			if err != nil {
				return err
			}
			wh.With(func(h H) {
				h.Data(info.UID, info.Data, decoded)
			})
			return nil
		})
		return init(ref, r)
	})
}
