// Package replay re-simulates action plans against a fixed task and maps
// the outcome to a scalar reward. Both the replay loop and the reward are
// pure functions of their inputs given a deterministic simulator.
package replay

import (
	"math"

	"github.com/swarmnet/validator/internal/models"
)

// State is the observable simulation state after one physics step.
type State struct {
	Pos models.Vec3
}

// Contact is a physical contact event between the controlled body and
// the environment, in world coordinates.
type Contact struct {
	Pos models.Vec3
}

// Simulator advances the physical model one fixed step at a time. The
// full rigid-body backend is an external collaborator; implementations
// must be deterministic functions of the task seed and command sequence.
type Simulator interface {
	Reset(task models.Task) error
	Step(cmd models.Command) (State, []Contact, error)
}

// PointMass is the built-in fallback backend: a vertical-thrust point
// mass with no lateral dynamics. It exists so rounds can run end to end
// without the external physics engine; it is not a flight model.
type PointMass struct {
	Mass      float64
	LiftCoeff float64
	Gravity   float64

	dt  float64
	pos models.Vec3
	vel float64
}

// NewPointMass returns a point mass with Crazyflie-like defaults.
func NewPointMass() *PointMass {
	return &PointMass{
		Mass:      0.027,
		LiftCoeff: 3.16e-10,
		Gravity:   9.81,
	}
}

func (p *PointMass) Reset(task models.Task) error {
	p.dt = task.SimDT
	p.pos = task.Start
	p.vel = 0
	return nil
}

func (p *PointMass) Step(cmd models.Command) (State, []Contact, error) {
	var thrust float64
	for _, rpm := range cmd.RPM {
		thrust += p.LiftCoeff * rpm * rpm
	}

	acc := thrust/p.Mass - p.Gravity
	p.vel += acc * p.dt
	p.pos.Z += p.vel * p.dt

	var contacts []Contact
	if p.pos.Z <= 0 {
		p.pos.Z = 0
		p.vel = math.Max(p.vel, 0)
		contacts = append(contacts, Contact{Pos: models.Vec3{X: p.pos.X, Y: p.pos.Y, Z: 0}})
	}
	return State{Pos: p.pos}, contacts, nil
}
