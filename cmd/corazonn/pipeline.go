package main

import (
	"fmt"
	"log/slog"

	"github.com/c360/corazonn/component"
	"github.com/c360/corazonn/config"
	"github.com/c360/corazonn/errors"
	"github.com/c360/corazonn/health"
	"github.com/c360/corazonn/input/natssub"
	"github.com/c360/corazonn/input/udp"
	"github.com/c360/corazonn/metric"
	"github.com/c360/corazonn/natsclient"
	"github.com/c360/corazonn/output/file"
	"github.com/c360/corazonn/output/httppost"
	"github.com/c360/corazonn/output/natspub"
	"github.com/c360/corazonn/output/osc"
	"github.com/c360/corazonn/output/websocket"
	"github.com/c360/corazonn/ppg"
	"github.com/c360/corazonn/processor/beat"
	"github.com/c360/corazonn/sink"
)

// publisherComponent is an output: a managed component that publishes beats
type publisherComponent interface {
	component.LifecycleComponent
	sink.Publisher
}

// pipeline is the wired service: inputs feed the beat processor, which
// hands beats to the async sink, which publishes to every output
type pipeline struct {
	manager   *component.Manager
	monitor   *health.Monitor
	processor *beat.Registry
	sink      *sink.Async
	outputs   []publisherComponent
	inputs    []component.LifecycleComponent
}

type pipelineDeps struct {
	NATS            *natsclient.Client // nil unless cfg.NeedsNATS()
	MetricsRegistry *metric.MetricsRegistry
	Monitor         *health.Monitor // created from MetricsRegistry when nil
	Logger          *slog.Logger
}

// buildPipeline creates every enabled component and registers them with the
// manager so that outputs start first and inputs stop first
func buildPipeline(cfg *config.Config, deps pipelineDeps) (*pipeline, error) {
	if cfg.NeedsNATS() && deps.NATS == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConnection, "main", "buildPipeline", "NATS client required")
	}

	p := &pipeline{
		manager: component.NewManager(deps.Logger, deps.MetricsRegistry),
		monitor: deps.Monitor,
	}
	if p.monitor == nil {
		p.monitor = health.NewMonitor(deps.MetricsRegistry)
	}

	outputs, err := buildOutputs(cfg, deps)
	if err != nil {
		return nil, err
	}
	p.outputs = outputs

	publishers := make([]sink.Publisher, len(outputs))
	for i, out := range outputs {
		publishers[i] = out
	}
	if len(publishers) == 0 {
		deps.Logger.Warn("No outputs enabled; beats will be detected and counted but not delivered")
	}

	p.sink, err = sink.NewAsync(cfg.Sink, publishers, sink.Deps{
		Logger:          deps.Logger,
		MetricsRegistry: deps.MetricsRegistry,
	})
	if err != nil {
		return nil, errors.Wrap(err, "main", "buildPipeline", "create event sink")
	}

	p.processor, err = beat.NewRegistry(cfg.Processor, beat.Deps{
		Logger:          deps.Logger,
		MetricsRegistry: deps.MetricsRegistry,
		Sink:            p.sink,
	})
	if err != nil {
		return nil, errors.Wrap(err, "main", "buildPipeline", "create beat processor")
	}

	p.inputs, err = buildInputs(cfg, p.processor, deps)
	if err != nil {
		return nil, err
	}

	ordered := make([]component.LifecycleComponent, 0, len(p.outputs)+len(p.inputs)+2)
	for _, out := range p.outputs {
		ordered = append(ordered, out)
	}
	ordered = append(ordered, p.sink, p.processor)
	ordered = append(ordered, p.inputs...)

	for _, comp := range ordered {
		if err := p.manager.Add(comp); err != nil {
			return nil, err
		}
		p.monitor.Watch(comp)
	}
	return p, nil
}

func buildOutputs(cfg *config.Config, deps pipelineDeps) ([]publisherComponent, error) {
	var outputs []publisherComponent
	add := func(out publisherComponent, err error) error {
		if err != nil {
			return err
		}
		outputs = append(outputs, out)
		return nil
	}

	o := cfg.Outputs
	if o.OSC.Enabled {
		if err := add(osc.NewOutput(osc.Deps{
			Config:          o.OSC.Config,
			MetricsRegistry: deps.MetricsRegistry,
			Logger:          deps.Logger,
		})); err != nil {
			return nil, errors.Wrap(err, "main", "buildOutputs", "create OSC output")
		}
	}
	if o.NATS.Enabled {
		if err := add(natspub.NewOutput(natspub.Deps{
			Config:          o.NATS.Config,
			Client:          deps.NATS,
			MetricsRegistry: deps.MetricsRegistry,
			Logger:          deps.Logger,
		})); err != nil {
			return nil, errors.Wrap(err, "main", "buildOutputs", "create NATS output")
		}
	}
	if o.WebSocket.Enabled {
		if err := add(websocket.NewOutput(websocket.Deps{
			Config:          o.WebSocket.Config,
			MetricsRegistry: deps.MetricsRegistry,
			Logger:          deps.Logger,
		})); err != nil {
			return nil, errors.Wrap(err, "main", "buildOutputs", "create WebSocket output")
		}
	}
	if o.File.Enabled {
		if err := add(file.NewOutput(file.Deps{
			Config: o.File.Config,
			Logger: deps.Logger,
		})); err != nil {
			return nil, errors.Wrap(err, "main", "buildOutputs", "create file output")
		}
	}
	if o.Webhook.Enabled {
		if err := add(httppost.NewOutput(httppost.Deps{
			Config:          o.Webhook.Config,
			MetricsRegistry: deps.MetricsRegistry,
			Logger:          deps.Logger,
		})); err != nil {
			return nil, errors.Wrap(err, "main", "buildOutputs", "create webhook output")
		}
	}
	return outputs, nil
}

func buildInputs(cfg *config.Config, target *beat.Registry, deps pipelineDeps) ([]component.LifecycleComponent, error) {
	var inputs []component.LifecycleComponent

	if cfg.Inputs.UDP.Enabled {
		in, err := udp.NewInput(udp.InputDeps{
			Config:          cfg.Inputs.UDP.InputConfig,
			Target:          target,
			MetricsRegistry: deps.MetricsRegistry,
			Logger:          deps.Logger,
		})
		if err != nil {
			return nil, errors.Wrap(err, "main", "buildInputs", "create UDP input")
		}
		inputs = append(inputs, in)
	}
	if cfg.Inputs.NATS.Enabled {
		in, err := natssub.NewInput(natssub.Deps{
			Config:          cfg.Inputs.NATS.Config,
			Client:          deps.NATS,
			Target:          target,
			MetricsRegistry: deps.MetricsRegistry,
			Logger:          deps.Logger,
		})
		if err != nil {
			return nil, errors.Wrap(err, "main", "buildInputs", "create NATS input")
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

// refreshChannelHealth reports each channel as its own health entry:
// healthy when Active, degraded while warming up or paused
func (p *pipeline) refreshChannelHealth() {
	for _, st := range p.processor.ChannelStatuses() {
		name := fmt.Sprintf("channel-%d", st.ChannelID)
		if st.Phase == ppg.PhaseActive.String() {
			p.monitor.Update(name, health.NewHealthy(name, st.Phase))
			continue
		}
		p.monitor.Update(name, health.NewDegraded(name, st.Phase))
	}
}

// healthReport backs the /health endpoint
func (p *pipeline) healthReport() (any, bool) {
	p.refreshChannelHealth()
	return p.monitor.Report(appName)
}
