package models

// Vec3 is a position in simulation world coordinates (meters).
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Obstacle is a static cylinder the controlled body must not touch.
type Obstacle struct {
	Pos    Vec3    `json:"pos"`
	Radius float64 `json:"radius"`
	Height float64 `json:"height"`
}

// Task is one deterministic simulation scenario. A fresh task is generated
// every round so participants cannot overfit a fixed scenario.
type Task struct {
	Start      Vec3       `json:"start"`
	Goal       Vec3       `json:"goal"`
	Obstacles  []Obstacle `json:"obstacles"`
	HorizonSec float64    `json:"horizon_sec"`
	SimDT      float64    `json:"sim_dt"`
	Seed       int64      `json:"seed"`
}

// Steps returns the number of fixed physics steps within the task horizon.
func (t Task) Steps() int {
	if t.SimDT <= 0 {
		return 0
	}
	return int(t.HorizonSec / t.SimDT)
}

// Command is a single time-stamped rotor command.
type Command struct {
	T   float64    `json:"t"`
	RPM [4]float64 `json:"rpm"`
}

// ActionPlan is the ordered, sparse command sequence produced by a policy.
// Gaps before the first command are filled with a zero command; gaps after
// a command hold the last issued value.
type ActionPlan struct {
	Commands []Command `json:"commands"`
}
