package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmnet/validator/internal/models"
)

// scriptedSim plays back a fixed trajectory and records the commands
// it was fed. Steps past the end of the script hold the final pose.
type scriptedSim struct {
	states   []State
	contacts map[int][]Contact
	step     int
	cmds     []models.Command
}

func (s *scriptedSim) Reset(models.Task) error {
	s.step = 0
	s.cmds = nil
	return nil
}

func (s *scriptedSim) Step(cmd models.Command) (State, []Contact, error) {
	s.cmds = append(s.cmds, cmd)
	i := s.step
	if i >= len(s.states) {
		i = len(s.states) - 1
	}
	contacts := s.contacts[s.step]
	s.step++
	return s.states[i], contacts, nil
}

func testTask() models.Task {
	return models.Task{
		Start:      models.Vec3{X: 0, Y: 0, Z: 2},
		Goal:       models.Vec3{X: 1, Y: 1, Z: 0.5},
		HorizonSec: 4,
		SimDT:      1.0 / 50.0,
		Seed:       7,
	}
}

func newEngine(sim Simulator) *Engine {
	return &Engine{Sim: sim, Envelope: DefaultLandingEnvelope(), Energy: DefaultEnergyParams()}
}

func hover(goal models.Vec3, n int) []State {
	states := make([]State, n)
	for i := range states {
		states[i] = State{Pos: goal}
	}
	return states
}

func TestReplayStableLandingSucceeds(t *testing.T) {
	task := testTask()
	sim := &scriptedSim{states: hover(task.Goal, task.Steps())}
	eng := newEngine(sim)

	out, err := eng.Replay(task, models.ActionPlan{})
	require.NoError(t, err)
	assert.True(t, out.Success)
	// Success lands when the stability clock crosses StableSec; elapsed
	// time is counted at the start of the terminal step.
	assert.InDelta(t, eng.Envelope.StableSec-task.SimDT, out.SimTimeSec, 1e-9)
}

func TestReplayExcursionResetsStabilityClock(t *testing.T) {
	task := testTask()
	steps := task.Steps()
	stableSteps := int(DefaultLandingEnvelope().StableSec / task.SimDT)

	// Sit on the pad for one step short of success, leave, come back.
	states := hover(task.Goal, steps)
	away := task.Goal
	away.Z += 5
	states[stableSteps-1] = State{Pos: away}

	sim := &scriptedSim{states: states}
	eng := newEngine(sim)

	out, err := eng.Replay(task, models.ActionPlan{})
	require.NoError(t, err)
	assert.True(t, out.Success)
	// The clock restarted after the excursion, so the landing completes
	// one full stable window later.
	want := float64(2*stableSteps-1) * task.SimDT
	assert.InDelta(t, want, out.SimTimeSec, 1e-9)
}

func TestReplayNeverOnPadFails(t *testing.T) {
	task := testTask()
	far := models.Vec3{X: 20, Y: 20, Z: 10}
	sim := &scriptedSim{states: hover(far, 1)}
	eng := newEngine(sim)

	out, err := eng.Replay(task, models.ActionPlan{})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.InDelta(t, task.HorizonSec-task.SimDT, out.SimTimeSec, 1e-9)
}

func TestReplayCollisionOffPadFails(t *testing.T) {
	task := testTask()
	sim := &scriptedSim{
		states: hover(task.Goal, task.Steps()),
		contacts: map[int][]Contact{
			3: {{Pos: models.Vec3{X: 10, Y: 10, Z: 0}}},
		},
	}
	eng := newEngine(sim)

	out, err := eng.Replay(task, models.ActionPlan{})
	require.NoError(t, err)
	assert.False(t, out.Success)
	// Collision on step index 3: elapsed time counts completed steps.
	assert.InDelta(t, 3*task.SimDT, out.SimTimeSec, 1e-9)
}

func TestReplayTouchdownContactOnPadAllowed(t *testing.T) {
	task := testTask()
	pad := task.Goal
	pad.Z -= 0.1
	sim := &scriptedSim{
		states: hover(task.Goal, task.Steps()),
		contacts: map[int][]Contact{
			0: {{Pos: pad}},
			1: {{Pos: pad}},
		},
	}
	eng := newEngine(sim)

	out, err := eng.Replay(task, models.ActionPlan{})
	require.NoError(t, err)
	assert.True(t, out.Success)
}

func TestReplayIsDeterministic(t *testing.T) {
	task := testTask()
	plan := models.ActionPlan{Commands: []models.Command{
		{T: 0, RPM: [4]float64{14000, 14000, 14000, 14000}},
		{T: 1.5, RPM: [4]float64{12000, 12000, 12000, 12000}},
	}}
	eng := newEngine(NewPointMass())

	first, err := eng.Replay(task, plan)
	require.NoError(t, err)
	second, err := eng.Replay(task, plan)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestReplayEnergyIntegral(t *testing.T) {
	task := testTask()
	sim := &scriptedSim{states: hover(models.Vec3{X: 20, Y: 20, Z: 10}, 1)}
	eng := newEngine(sim)

	rpm := 10000.0
	plan := models.ActionPlan{Commands: []models.Command{
		{T: 0, RPM: [4]float64{rpm, rpm, rpm, rpm}},
	}}
	out, err := eng.Replay(task, plan)
	require.NoError(t, err)

	p := DefaultEnergyParams()
	want := 4 * rpm * rpm * p.LiftCoeff / p.PropEff * task.HorizonSec
	assert.InDelta(t, want, out.Energy, want*1e-9)
}

func TestPlanTableZeroBeforeFirstAndHoldLast(t *testing.T) {
	dt := 1.0 / 50.0
	cmds := []models.Command{
		{T: 5 * dt, RPM: [4]float64{1, 1, 1, 1}},
		{T: 10 * dt, RPM: [4]float64{2, 2, 2, 2}},
	}
	table := planTable(cmds, 20, dt)

	assert.Equal(t, [4]float64{}, table[0])
	assert.Equal(t, [4]float64{}, table[4])
	assert.Equal(t, [4]float64{1, 1, 1, 1}, table[5])
	assert.Equal(t, [4]float64{1, 1, 1, 1}, table[9])
	assert.Equal(t, [4]float64{2, 2, 2, 2}, table[10])
	assert.Equal(t, [4]float64{2, 2, 2, 2}, table[19])
}

func TestPlanTableEmptyPlanIsAllZero(t *testing.T) {
	table := planTable(nil, 10, 0.02)
	for i, rpm := range table {
		assert.Equal(t, [4]float64{}, rpm, "step %d", i)
	}
}

func TestRewardBounds(t *testing.T) {
	task := testTask()

	assert.Zero(t, Reward(false, 1, 1, task.HorizonSec))

	fast := Reward(true, 0.5, 10, task.HorizonSec)
	slow := Reward(true, task.HorizonSec, 10, task.HorizonSec)
	assert.Greater(t, fast, slow)
	assert.LessOrEqual(t, fast, 1.0)
	assert.GreaterOrEqual(t, slow, rewardBase)

	thrifty := Reward(true, 1, 0, task.HorizonSec)
	wasteful := Reward(true, 1, energyRefJoules*2, task.HorizonSec)
	assert.Greater(t, thrifty, wasteful)
}

func TestFinalScorePolicy(t *testing.T) {
	assert.Zero(t, FinalScore(0.8, true))
	assert.Zero(t, FinalScore(0, true))
	assert.Equal(t, minScore, FinalScore(0, false))
	assert.Equal(t, 0.8, FinalScore(0.8, false))
	assert.Equal(t, 1.0, FinalScore(1.7, false))
}
