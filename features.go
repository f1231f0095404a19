package fixiplug

import (
	"github.com/codetalcott/fixiplug/internal/logger"
	"github.com/codetalcott/fixiplug/plugins"
)

// Bundled feature names accepted by Config.Features.
const (
	FeatureIntrospection = "introspection"
	FeatureStateTracker  = "state-tracker"
	FeatureScheduler     = "scheduler"
	FeatureEventLog      = "event-log"
	FeatureNATSBridge    = "nats-bridge"
)

// DefaultFeatures is the set installed when Config.Features is nil.
func DefaultFeatures() []string {
	return []string{FeatureIntrospection}
}

// Features returns every bundled feature name, sorted by install order.
func Features() []string {
	return []string{
		FeatureIntrospection,
		FeatureStateTracker,
		FeatureScheduler,
		FeatureEventLog,
		FeatureNATSBridge,
	}
}

// installFeature resolves one feature name to its bundled plugin and registers
// it, reporting false for unknown names.
func (inst *Instance) installFeature(name string, cfg Config) bool {
	switch name {
	case FeatureIntrospection:
		inst.Use(plugins.Introspection(inst.engine, Version))
	case FeatureStateTracker:
		tracker := plugins.NewStateTracker(cfg.HistoryCapacity)
		inst.tracker = tracker
		inst.Use(tracker.Plugin())
	case FeatureScheduler:
		scheduler := plugins.NewScheduler(logger.Plugins())
		inst.Use(scheduler.Plugin())
		inst.closers = append(inst.closers, scheduler)
	case FeatureEventLog:
		inst.Use(plugins.EventLog(logger.Plugins()))
	case FeatureNATSBridge:
		bridge := plugins.NewBridge(cfg.NATS, logger.Bridge())
		inst.Use(bridge.Plugin())
		inst.closers = append(inst.closers, bridge)
	default:
		return false
	}
	return true
}

// StateTracker returns the tracker installed by the state-tracker feature,
// nil when the feature was not selected.
func (inst *Instance) StateTracker() *plugins.StateTracker {
	return inst.tracker
}
