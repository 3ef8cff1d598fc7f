package replay

import (
	"fmt"
	"math"

	"github.com/swarmnet/validator/internal/models"
)

// LandingEnvelope bounds the tolerated contact and touchdown region
// around the goal. The envelope is configuration, not hardcoded ratio:
// deployments tune it alongside the platform geometry.
type LandingEnvelope struct {
	// PadRadius is the landing platform radius (m).
	PadRadius float64 `yaml:"pad_radius"`
	// PadCoverage scales PadRadius down to the touchdown target area.
	PadCoverage float64 `yaml:"pad_coverage"`
	// ContactSlack widens the allowed-contact radius beyond the pad (m).
	ContactSlack float64 `yaml:"contact_slack"`
	// ContactHeight is how close to the pad surface an allowed contact
	// must be (m).
	ContactHeight float64 `yaml:"contact_height"`
	// TouchdownHeight is the vertical tolerance for the stability check (m).
	TouchdownHeight float64 `yaml:"touchdown_height"`
	// BelowTolerance is how far under the pad surface still counts (m).
	BelowTolerance float64 `yaml:"below_tolerance"`
	// StableSec is the continuous in-envelope duration required for
	// success (s).
	StableSec float64 `yaml:"stable_sec"`
}

// DefaultLandingEnvelope matches the competition platform geometry.
func DefaultLandingEnvelope() LandingEnvelope {
	return LandingEnvelope{
		PadRadius:       0.6,
		PadCoverage:     0.85,
		ContactSlack:    0.05,
		ContactHeight:   0.3,
		TouchdownHeight: 0.3,
		BelowTolerance:  0.1,
		StableSec:       1.0,
	}
}

// EnergyParams scales the accumulated energy integral.
type EnergyParams struct {
	LiftCoeff float64 `yaml:"lift_coeff"`
	PropEff   float64 `yaml:"prop_eff"`
}

// DefaultEnergyParams mirrors the propeller model constants.
func DefaultEnergyParams() EnergyParams {
	return EnergyParams{LiftCoeff: 3.16e-10, PropEff: 0.60}
}

// Outcome is the raw result of one deterministic replay.
type Outcome struct {
	Success    bool
	SimTimeSec float64
	Energy     float64
}

// Engine replays action plans deterministically.
type Engine struct {
	Sim      Simulator
	Envelope LandingEnvelope
	Energy   EnergyParams
}

// Replay re-simulates the plan against the task. Two independent
// termination conditions apply: any disallowed contact is a collision
// failure, and remaining continuously inside the landing envelope for
// StableSec is a success. Reaching the horizon with neither is a
// non-collision failure.
func (e *Engine) Replay(task models.Task, plan models.ActionPlan) (Outcome, error) {
	steps := task.Steps()
	if steps <= 0 {
		return Outcome{}, fmt.Errorf("task has no simulation steps (horizon %.2fs, dt %.4fs)", task.HorizonSec, task.SimDT)
	}

	if err := e.Sim.Reset(task); err != nil {
		return Outcome{}, fmt.Errorf("resetting simulator: %w", err)
	}

	table := planTable(plan.Commands, steps, task.SimDT)

	var out Outcome
	stable := 0.0
	for k := 0; k < steps; k++ {
		cmd := models.Command{T: float64(k) * task.SimDT, RPM: table[k]}
		state, contacts, err := e.Sim.Step(cmd)
		if err != nil {
			return Outcome{}, fmt.Errorf("stepping simulator: %w", err)
		}

		// Elapsed time is counted at the start of the step, matching the
		// command timestamps the plan table is indexed by.
		out.SimTimeSec = float64(k) * task.SimDT
		out.Energy += stepEnergy(cmd.RPM, e.Energy, task.SimDT)

		if e.collided(task.Goal, contacts) {
			out.Success = false
			return out, nil
		}

		if e.onPad(task.Goal, state.Pos) {
			stable += task.SimDT
			if stable >= e.Envelope.StableSec {
				out.Success = true
				return out, nil
			}
		} else {
			// Any excursion resets the stability clock.
			stable = 0
		}
	}
	return out, nil
}

// collided reports whether any contact falls outside the tolerated
// region near the goal pad. Touchdown contacts on the pad are allowed.
func (e *Engine) collided(goal models.Vec3, contacts []Contact) bool {
	for _, c := range contacts {
		horiz := math.Hypot(c.Pos.X-goal.X, c.Pos.Y-goal.Y)
		vert := math.Abs(c.Pos.Z - goal.Z)
		if horiz >= e.Envelope.PadRadius+e.Envelope.ContactSlack || vert >= e.Envelope.ContactHeight {
			return true
		}
	}
	return false
}

// onPad reports whether the body sits inside the touchdown envelope.
func (e *Engine) onPad(goal, pos models.Vec3) bool {
	horiz := math.Hypot(pos.X-goal.X, pos.Y-goal.Y)
	vert := math.Abs(pos.Z - goal.Z)
	return horiz < e.Envelope.PadRadius*e.Envelope.PadCoverage &&
		vert < e.Envelope.TouchdownHeight &&
		pos.Z >= goal.Z-e.Envelope.BelowTolerance
}

func stepEnergy(rpm [4]float64, p EnergyParams, dt float64) float64 {
	var sq float64
	for _, r := range rpm {
		sq += r * r
	}
	return sq * p.LiftCoeff / p.PropEff * dt
}

// planTable expands the sparse, time-stamped command list into one
// command per simulation step: zero before the first command, the last
// issued command across every gap and past the end of the plan.
func planTable(cmds []models.Command, steps int, dt float64) [][4]float64 {
	table := make([][4]float64, steps)
	var last [4]float64
	idx := 0

	for _, cmd := range cmds {
		k := int(cmd.T/dt + 1e-9)
		if k < 0 {
			k = 0
		}
		if k > steps-1 {
			k = steps - 1
		}
		for ; idx < k; idx++ {
			table[idx] = last
		}
		last = cmd.RPM
		table[k] = last
		if k+1 > idx {
			idx = k + 1
		}
	}
	for ; idx < steps; idx++ {
		table[idx] = last
	}
	return table
}
