/*
Package health provides reachability probing for remote base replicas.

A Remote BaseReplica is reachable over the network at addr:nvmf_port. This
package implements the Checker interface, which bdevd uses to probe a
remote replica before adding it (an already discovered replica is not
probed again), and the hysteresis bookkeeping
(Status) that turns a handful of consecutive probe failures into a single
"unhealthy" transition instead of flapping on every dropped packet.

# Architecture

	Checker interface
	  - Check(ctx) Result
	  - Type() CheckType

	TCPChecker is the only implementation carried forward: a bare
	dial-and-close against addr:nvmf_port. There is no HTTP or exec
	endpoint on a base replica to probe instead.

# Usage

	checker := health.NewTCPChecker("10.0.0.5:4420").WithTimeout(3 * time.Second)
	result := checker.Check(ctx)
	if !result.Healthy {
		status.Update(result, health.DefaultConfig())
	}

# Hysteresis

	Healthy → 1 failure  → still healthy
	Healthy → Retries failures → unhealthy
	Unhealthy → 1 success → healthy

Retries defaults to 3, preventing a single transient network blip from
triggering a BaseDeviceUnavailable transition.
*/
package health
