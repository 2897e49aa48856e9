package command

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonbio/biosync-core/internal/device"
	"github.com/halcyonbio/biosync-core/internal/transport"
)

// defaultTimeout bounds a command round trip when the request does not
// set one.
const defaultTimeout = 10 * time.Second

// Logger defines the logging interface used by the Dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// SessionProvider resolves live device sessions. The connection
// coordinator satisfies it.
type SessionProvider interface {
	Session(deviceID string) (transport.Session, error)
	ConnectedIDs() []string
}

// Dispatcher fans commands out to devices and collects per-device results.
//
// Thread Safety: safe for concurrent use.
type Dispatcher struct {
	registry *device.Registry
	sessions SessionProvider
	logger   Logger
	timeout  time.Duration
}

// NewDispatcher creates a Dispatcher. timeout of zero selects the default.
func NewDispatcher(registry *device.Registry, sessions SessionProvider, timeout time.Duration) *Dispatcher {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Dispatcher{
		registry: registry,
		sessions: sessions,
		logger:   noopLogger{},
		timeout:  timeout,
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// Send dispatches one command to every target concurrently. The returned
// slice has one Result per target, in target order; a failing device is
// reported in its own Result and never affects the others.
func (d *Dispatcher) Send(ctx context.Context, req Request) ([]Result, error) {
	if !req.Kind.Valid() {
		return nil, ErrUnknownKind
	}
	if len(req.Targets) == 0 {
		return nil, ErrNoTargets
	}
	if req.Priority == "" {
		req.Priority = DefaultPriority(req.Kind)
	}
	timeout := req.Timeout
	if timeout == 0 {
		timeout = d.timeout
	}

	params, err := paramsToMap(req.Params)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(req.Targets))
	var wg sync.WaitGroup
	for i, id := range req.Targets {
		wg.Add(1)
		go func(slot int, deviceID string) {
			defer wg.Done()
			results[slot] = d.sendOne(ctx, deviceID, req.Kind, params, req.Priority, timeout)
		}(i, id)
	}
	wg.Wait()

	return results, nil
}

// sendOne executes a single device round trip and applies the registry
// side effects of the command's outcome.
func (d *Dispatcher) sendOne(ctx context.Context, deviceID string, kind Kind, params map[string]any, priority Priority, timeout time.Duration) Result {
	start := time.Now()
	res := Result{DeviceID: deviceID, Timestamp: start.UTC()}

	fail := func(err error) Result {
		res.Err = err
		res.Error = err.Error()
		res.Latency = time.Since(start)
		d.registry.RecordError(deviceID) //nolint:errcheck // Best-effort counter
		return res
	}

	if _, err := d.registry.Get(deviceID); err != nil {
		res.Err = ErrDeviceNotFound
		res.Error = ErrDeviceNotFound.Error()
		res.Latency = time.Since(start)
		return res
	}

	sess, err := d.sessions.Session(deviceID)
	if err != nil {
		res.Err = ErrNoActiveConnection
		res.Error = ErrNoActiveConnection.Error()
		res.Latency = time.Since(start)
		return res
	}

	d.applyPreState(deviceID, kind)

	env := transport.Envelope{
		Type:      kind.EnvelopeType(),
		Params:    params,
		RequestID: uuid.New().String(),
	}
	// Normal priority is the wire default and stays implicit.
	if priority != "" && priority != PriorityNormal {
		if env.Params == nil {
			env.Params = map[string]any{}
		}
		env.Params["priority"] = string(priority)
	}

	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := sess.Send(sendCtx, env)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fail(ErrCommandTimeout)
		}
		return fail(err)
	}

	d.applyPostState(deviceID, kind)

	res.Success = true
	res.Data = resp.Data
	res.Latency = time.Since(start)
	return res
}

// applyPreState reflects an in-flight command in the device record.
func (d *Dispatcher) applyPreState(deviceID string, kind Kind) {
	switch kind {
	case KindStartMeasurement:
		d.registry.SetStatus(deviceID, device.StatusMeasuring) //nolint:errcheck // Cosmetic state
	case KindCalibrate:
		d.registry.SetStatus(deviceID, device.StatusCalibrating) //nolint:errcheck // Cosmetic state
	}
}

// applyPostState reflects a completed command in the device record.
func (d *Dispatcher) applyPostState(deviceID string, kind Kind) {
	switch kind {
	case KindStartMeasurement:
		d.registry.RecordMeasurement(deviceID, time.Now().UTC()) //nolint:errcheck // Best-effort counter
	case KindStopMeasurement, KindCalibrate:
		d.registry.SetStatus(deviceID, device.StatusOnline) //nolint:errcheck // Cosmetic state
	}
}

// SendToGroup dispatches to the members of a named device group.
func (d *Dispatcher) SendToGroup(ctx context.Context, groups *device.Groups, group string, req Request) ([]Result, error) {
	members, err := groups.Members(group)
	if err != nil {
		return nil, err
	}
	req.Targets = members
	return d.Send(ctx, req)
}

// sendToConnected dispatches one kind to every connected device, optionally
// filtered by capability.
func (d *Dispatcher) sendToConnected(ctx context.Context, kind Kind, params any, cap device.Capability) ([]Result, error) {
	targets := make([]string, 0)
	for _, id := range d.sessions.ConnectedIDs() {
		if cap != "" {
			rec, err := d.registry.Get(id)
			if err != nil || !rec.HasCapability(cap) {
				continue
			}
		}
		targets = append(targets, id)
	}
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	return d.Send(ctx, Request{Kind: kind, Targets: targets, Params: params})
}

// CalibrateAll calibrates every connected device that supports calibration.
func (d *Dispatcher) CalibrateAll(ctx context.Context, params CalibrateParams) ([]Result, error) {
	return d.sendToConnected(ctx, KindCalibrate, params, device.CapCalibration)
}

// StartMeasurementAll starts a measurement on every connected device.
func (d *Dispatcher) StartMeasurementAll(ctx context.Context, params StartMeasurementParams) ([]Result, error) {
	return d.sendToConnected(ctx, KindStartMeasurement, params, "")
}

// StopMeasurementAll stops measurements on every connected device.
func (d *Dispatcher) StopMeasurementAll(ctx context.Context) ([]Result, error) {
	return d.sendToConnected(ctx, KindStopMeasurement, nil, "")
}

// GetStatusAll queries the status of every connected device.
func (d *Dispatcher) GetStatusAll(ctx context.Context) ([]Result, error) {
	return d.sendToConnected(ctx, KindGetStatus, nil, "")
}
