package main

import (
	"context"
	"errors"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/fusion/fusion"
	"github.com/danmuck/fusion/fusion/drawable"
	"github.com/danmuck/fusion/fusion/spatial"
	logs "github.com/danmuck/fusion/internal/logging"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// spinner turns the ring anchor about Y and each model about its own Y.
type spinner struct {
	anchor *spatial.Spatial
	models []*drawable.Model
	speed  float64
	angle  float64
}

func yaw(angle float64) quat.Number {
	return quat.Number{Real: math.Cos(angle / 2), Jmag: math.Sin(angle / 2)}
}

func (s *spinner) LogicStep(info fusion.LogicStepInfo) {
	s.angle = math.Mod(s.angle+s.speed*info.Delta.Seconds(), 2*math.Pi)
	if err := s.anchor.SetRotation(nil, yaw(s.angle)); err != nil {
		logs.Debugf("fusionctl.demo rotate anchor err=%v", err)
		return
	}
	for _, m := range s.models {
		_ = m.SetRotation(nil, yaw(-2*s.angle))
	}
}

func demoCmd(opts *rootOptions) *cobra.Command {
	var (
		count    int
		radius   float64
		speed    float64
		resource string
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Spin a ring of models around a spatial anchor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.clientConfig()
			if err != nil {
				return err
			}
			res, err := drawable.ParseNamespacedResource(resource)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := fusion.Connect(ctx, cfg)
			if err != nil {
				return err
			}
			runErr := make(chan error, 1)
			go func() { runErr <- c.Run(ctx) }()

			s, err := buildRing(ctx, c, res, count, radius)
			if err != nil {
				_ = c.Close()
				<-runErr
				return err
			}
			s.speed = speed
			defer func() {
				for _, m := range s.models {
					_ = m.Close()
				}
				_ = s.anchor.Close()
			}()

			root := fusion.WrapRoot(c, func(fusion.WeakRef[fusion.Client], *fusion.Client) *spinner { return s })
			defer root.ReleaseHandler()
			logs.Infof("fusionctl.demo running models=%d resource=%q", len(s.models), res.String())

			if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 6, "models in the ring")
	cmd.Flags().Float64Var(&radius, "radius", 0.5, "ring radius in meters")
	cmd.Flags().Float64Var(&speed, "speed", math.Pi/4, "ring angular speed in radians per second")
	cmd.Flags().StringVar(&resource, "model", "fusion:gyro.glb", "model resource as namespace:path")
	return cmd
}

func buildRing(ctx context.Context, c *fusion.Client, res drawable.NamespacedResource, count int, radius float64) (*spinner, error) {
	anchor, err := spatial.Create(ctx, spatial.Root(c), spatial.Options{})
	if err != nil {
		return nil, err
	}
	s := &spinner{anchor: anchor}
	for i := range count {
		theta := 2 * math.Pi * float64(i) / float64(count)
		pos := r3.Vec{X: radius * math.Cos(theta), Z: radius * math.Sin(theta)}
		m, err := drawable.NewModel(ctx, anchor, res, spatial.Options{Position: &pos})
		if err != nil {
			for _, made := range s.models {
				_ = made.Close()
			}
			_ = anchor.Close()
			return nil, err
		}
		s.models = append(s.models, m)
	}
	return s, nil
}
