package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/danmuck/fusion/fusion"
	"github.com/danmuck/fusion/fusion/data"
	"github.com/danmuck/fusion/fusion/fields"
	"github.com/danmuck/fusion/fusion/spatial"
	logs "github.com/danmuck/fusion/internal/logging"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/spatial/r3"
)

// parseMask turns key=value pairs into a mask. Values that parse as bool,
// integer or float keep that type; everything else stays a string.
func parseMask(pairs []string) (data.Mask, error) {
	m := make(data.Mask, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("mask entry %q is not key=value", pair)
		}
		m[key] = parseValue(strings.TrimSpace(raw))
	}
	return m, nil
}

func parseValue(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

// pulser sends message to every receiver it is told about.
type pulser struct {
	sender  fusion.WeakRef[data.PulseSender]
	message []byte
}

func (p *pulser) NewReceiver(receiver *data.PulseReceiver, _ *fields.UnknownField, info data.NewReceiverInfo) {
	logs.Infof("fusionctl.pulse receiver uid=%q distance=%.3f", info.UID, info.Distance)
	p.sender.With(func(s *data.PulseSender) {
		if err := s.SendData(receiver, p.message); err != nil {
			logs.Warnf("fusionctl.pulse send uid=%q err=%v", info.UID, err)
		}
	})
}

func (p *pulser) DropReceiver(uid string) {
	logs.Infof("fusionctl.pulse receiver dropped uid=%q", uid)
}

type printer struct{}

func (printer) Data(uid string, _ []byte, decoded map[string]any) {
	fmt.Printf("%s %v\n", uid, decoded)
}

func pulseCmd(opts *rootOptions) *cobra.Command {
	var maskPairs []string
	cmd := &cobra.Command{
		Use:   "pulse",
		Short: "Send or receive keyed-map pulses",
	}
	cmd.PersistentFlags().StringSliceVarP(&maskPairs, "mask", "m", []string{"demo=true"}, "mask entries as key=value")

	var message []string
	send := &cobra.Command{
		Use:   "send",
		Short: "Send a message to every matching receiver",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mask, err := encodeMask(maskPairs)
			if err != nil {
				return err
			}
			body, err := parseMask(message)
			if err != nil {
				return err
			}
			payload, err := body.Encode()
			if err != nil {
				return err
			}
			return withClient(cmd.Context(), opts, func(ctx context.Context, c *fusion.Client) (func(), error) {
				p := &pulser{message: payload}
				w, err := data.NewPulseSender(ctx, spatial.Root(c), nil, nil, mask,
					func(ref fusion.WeakRef[data.PulseSender], _ *data.PulseSender) *pulser {
						p.sender = ref
						return p
					})
				if err != nil {
					return nil, err
				}
				return func() { _ = w.Close() }, nil
			})
		},
	}
	send.Flags().StringSliceVar(&message, "message", []string{"text=hello"}, "message entries as key=value")

	var radius float64
	listen := &cobra.Command{
		Use:   "listen",
		Short: "Print messages from matching senders",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mask, err := encodeMask(maskPairs)
			if err != nil {
				return err
			}
			return withClient(cmd.Context(), opts, func(ctx context.Context, c *fusion.Client) (func(), error) {
				root := spatial.Root(c)
				zone, err := fields.NewSphereField(ctx, root, r3.Vec{}, float32(radius))
				if err != nil {
					return nil, err
				}
				w, err := data.NewPulseReceiver(ctx, root, nil, nil, zone, mask,
					func(fusion.WeakRef[data.PulseReceiver], *data.PulseReceiver) printer { return printer{} })
				if err != nil {
					_ = zone.Close()
					return nil, err
				}
				return func() {
					_ = w.Close()
					_ = zone.Close()
				}, nil
			})
		},
	}
	listen.Flags().Float64Var(&radius, "radius", 1, "receiver field radius in meters")

	cmd.AddCommand(send, listen)
	return cmd
}

func encodeMask(pairs []string) ([]byte, error) {
	m, err := parseMask(pairs)
	if err != nil {
		return nil, err
	}
	return m.Encode()
}

// withClient connects, runs the client loop, calls setup once the loop is
// pumping, and blocks until interrupted or the connection drops.
func withClient(parent context.Context, opts *rootOptions, setup func(context.Context, *fusion.Client) (func(), error)) error {
	cfg, err := opts.clientConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := fusion.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	teardown, err := setup(ctx, c)
	if err != nil {
		_ = c.Close()
		<-runErr
		return err
	}
	defer teardown()
	return <-runErr
}
