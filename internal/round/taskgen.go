package round

import (
	"math"
	"math/rand"

	"github.com/swarmnet/validator/internal/models"
)

// TaskGen produces the fresh randomized task evaluated each round.
// Every parameter is seeded so two validators running the same seed
// generate the identical task.
type TaskGen struct {
	// RMin and RMax bound the radial distance from the start to the
	// landing platform (m).
	RMin float64 `yaml:"r_min"`
	RMax float64 `yaml:"r_max"`
	// HMin and HMax bound the platform height (m).
	HMin float64 `yaml:"h_min"`
	HMax float64 `yaml:"h_max"`
	// MaxObstacles caps the number of cylinder obstacles.
	MaxObstacles int `yaml:"max_obstacles"`
	// HorizonSec and SimDT define the simulation window.
	HorizonSec float64 `yaml:"horizon_sec"`
	SimDT      float64 `yaml:"sim_dt"`
}

// DefaultTaskGen returns the competition task distribution.
func DefaultTaskGen() TaskGen {
	return TaskGen{
		RMin:         10,
		RMax:         30,
		HMin:         2,
		HMax:         10,
		MaxObstacles: 4,
		HorizonSec:   30,
		SimDT:        1.0 / 50.0,
	}
}

// Task generates the deterministic task for the given seed.
func (g TaskGen) Task(seed int64) models.Task {
	rng := rand.New(rand.NewSource(seed))

	radius := g.RMin + rng.Float64()*(g.RMax-g.RMin)
	bearing := rng.Float64() * 2 * math.Pi
	height := g.HMin + rng.Float64()*(g.HMax-g.HMin)

	start := models.Vec3{X: 0, Y: 0, Z: 1}
	goal := models.Vec3{
		X: radius * math.Cos(bearing),
		Y: radius * math.Sin(bearing),
		Z: height,
	}

	var obstacles []models.Obstacle
	if g.MaxObstacles > 0 {
		// Obstacles scatter along the corridor between start and goal,
		// never inside the landing approach.
		for i, n := 0, rng.Intn(g.MaxObstacles+1); i < n; i++ {
			along := 0.2 + rng.Float64()*0.6
			obstacles = append(obstacles, models.Obstacle{
				Pos: models.Vec3{
					X: goal.X*along + (rng.Float64()-0.5)*4,
					Y: goal.Y*along + (rng.Float64()-0.5)*4,
				},
				Radius: 0.5 + rng.Float64()*1.5,
				Height: height + rng.Float64()*4,
			})
		}
	}

	return models.Task{
		Start:      start,
		Goal:       goal,
		Obstacles:  obstacles,
		HorizonSec: g.HorizonSec,
		SimDT:      g.SimDT,
		Seed:       seed,
	}
}
