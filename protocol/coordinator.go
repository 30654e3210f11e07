package protocol

import (
	"fmt"
	"sync"
)

// InstanceState tracks an instance through its lifecycle.
type InstanceState string

const (
	// StateCollecting means the instance was set up and is accepting votes.
	StateCollecting InstanceState = "collecting"

	// StateRevealed means the tally was produced; mask material is gone.
	StateRevealed InstanceState = "revealed"

	// StateAborted means the instance was discarded before revealing.
	StateAborted InstanceState = "aborted"
)

type instanceContext struct {
	request *Request
	setups  []*NodeSetup // held only until taken for distribution
	state   InstanceState
	tally   *Tally
}

// Coordinator owns instance lifecycles. It maps instance identifiers to their
// per-instance contexts, each carrying its own mask material, with explicit
// creation and teardown; there is no ambient shared state between instances.
//
// The coordinator never sees vote values: it handles only public parameters,
// mask material before distribution, and the final tally.
type Coordinator struct {
	mu        sync.RWMutex
	instances map[string]*instanceContext
}

// NewCoordinator creates an empty instance registry.
func NewCoordinator() *Coordinator {
	return &Coordinator{instances: make(map[string]*instanceContext)}
}

// CreateInstance sets up a new protocol instance and returns its public
// request. A previously used instance identifier is rejected as a fatal
// protocol violation, including identifiers of revealed or aborted instances;
// reuse would enable cross-instance correlation.
func (c *Coordinator) CreateInstance(config InstanceConfig) (*Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.instances[config.InstanceID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateInstance, config.InstanceID)
	}

	req, setups, err := NewInstance(config, entropySource)
	if err != nil {
		return nil, err
	}

	c.instances[config.InstanceID] = &instanceContext{
		request: req,
		setups:  setups,
		state:   StateCollecting,
	}
	return req, nil
}

// TakeNodeSetups hands out the instance's private mask material exactly once,
// for distribution to the nodes over a confidential channel. After the call
// the coordinator no longer holds any mask.
func (c *Coordinator) TakeNodeSetups(instanceID string) ([]*NodeSetup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, ok := c.instances[instanceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstance, instanceID)
	}
	if ctx.state != StateCollecting {
		return nil, fmt.Errorf("%w: %s is %s", ErrInstanceNotPending, instanceID, ctx.state)
	}
	if ctx.setups == nil {
		return nil, fmt.Errorf("mask material for %s was already distributed", instanceID)
	}

	setups := ctx.setups
	ctx.setups = nil
	return setups, nil
}

// Request returns the public parameters of an instance.
func (c *Coordinator) Request(instanceID string) (*Request, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ctx, ok := c.instances[instanceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstance, instanceID)
	}
	return ctx.request, nil
}

// State returns the lifecycle state of an instance.
func (c *Coordinator) State(instanceID string) (InstanceState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ctx, ok := c.instances[instanceID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownInstance, instanceID)
	}
	return ctx.state, nil
}

// Combine reveals the tally from all nodes' partial results and moves the
// instance to the revealed state. Once revealed, the tally is fixed: repeat
// calls return the stored value.
func (c *Coordinator) Combine(instanceID string, partials []*PartialResult) (*Tally, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, ok := c.instances[instanceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstance, instanceID)
	}
	switch ctx.state {
	case StateAborted:
		return nil, fmt.Errorf("%w: %s", ErrInstanceAborted, instanceID)
	case StateRevealed:
		return ctx.tally, nil
	}

	tally, err := Combine(ctx.request, partials)
	if err != nil {
		return nil, err
	}

	c.discardSetupsLocked(ctx)
	ctx.state = StateRevealed
	ctx.tally = tally
	return tally, nil
}

// Tally returns the revealed tally of an instance, or an error while the
// instance is still collecting.
func (c *Coordinator) Tally(instanceID string) (*Tally, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ctx, ok := c.instances[instanceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstance, instanceID)
	}
	if ctx.state == StateAborted {
		return nil, fmt.Errorf("%w: %s", ErrInstanceAborted, instanceID)
	}
	if ctx.tally == nil {
		return nil, fmt.Errorf("%w: %s not revealed yet", ErrInstanceNotPending, instanceID)
	}
	return ctx.tally, nil
}

// Abort discards an instance before revealing. Its mask material and partial
// state are erased and never reused; the identifier stays burned.
func (c *Coordinator) Abort(instanceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, ok := c.instances[instanceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstance, instanceID)
	}
	if ctx.state == StateRevealed {
		return fmt.Errorf("%w: %s already revealed", ErrInstanceNotPending, instanceID)
	}

	c.discardSetupsLocked(ctx)
	ctx.state = StateAborted
	return nil
}

func (c *Coordinator) discardSetupsLocked(ctx *instanceContext) {
	for _, s := range ctx.setups {
		s.Erase()
	}
	ctx.setups = nil
}
