package optimizer

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"trader-engine/internal/backtest"
	traderrors "trader-engine/internal/errors"
	"trader-engine/internal/logger"
)

const (
	gaPopulationSize = 10
	gaGenerations    = 5
	gaMutationRate   = 0.3
)

// Genetic evolves simulation configs toward higher total PnL. The
// population is small on purpose: the search space is a coarse grid
// and the evaluator dominates the cost, so the algorithm favors quick
// convergence and stops at the first profitable candidate it finds.
type Genetic struct {
	evaluator        Evaluator
	ranges           Ranges
	maxWorkers       int
	candidateTimeout time.Duration
	rng              *rand.Rand
	log              *logger.Logger
}

func NewGenetic(evaluator Evaluator, ranges Ranges, log *logger.Logger) *Genetic {
	return NewGeneticSeeded(evaluator, ranges, log, time.Now().UnixNano())
}

// NewGeneticSeeded fixes the RNG seed so runs can be replayed.
func NewGeneticSeeded(evaluator Evaluator, ranges Ranges, log *logger.Logger, seed int64) *Genetic {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &Genetic{
		evaluator:        evaluator,
		ranges:           ranges,
		maxWorkers:       defaultMaxWorkers,
		candidateTimeout: defaultCandidateTimeout,
		rng:              rand.New(rand.NewSource(seed)),
		log:              log,
	}
}

// SetCandidateTimeout overrides the per-candidate evaluation budget.
func (g *Genetic) SetCandidateTimeout(d time.Duration) { g.candidateTimeout = d }

// Run evolves up to gaGenerations generations and returns the best
// candidate seen. The search exits early as soon as any generation
// produces a profitable candidate: a positive result is applied
// immediately instead of burning evaluations chasing a marginally
// better one.
func (g *Genetic) Run(ctx context.Context, base backtest.Config) (*Candidate, error) {
	population := make([]*Candidate, gaPopulationSize)
	for i := range population {
		population[i] = randomCandidate(base, g.ranges, g.rng)
	}

	var best *Candidate
	for gen := 0; gen < gaGenerations; gen++ {
		if err := ctx.Err(); err != nil {
			break
		}
		evaluateAll(ctx, g.evaluator, population, g.maxWorkers, g.candidateTimeout, g.log)
		sortByFitness(population)

		top := population[0]
		if top.Evaluated && (best == nil || top.Fitness > best.Fitness) {
			clone := *top
			best = &clone
		}
		if best != nil && best.Fitness > 0 {
			g.log.Info("genetic search: profitable candidate at generation %d, pnl %.4f", gen+1, best.Fitness)
			return best, nil
		}
		if gen < gaGenerations-1 {
			population = g.nextGeneration(population)
		}
	}
	if best == nil {
		return nil, traderrors.New(traderrors.CategoryOptimizer, "genetic", "run",
			"no candidate survived evaluation")
	}
	g.log.Info("genetic search: finished %d generations, best pnl %.4f", gaGenerations, best.Fitness)
	return best, nil
}

// nextGeneration keeps the top half as elites and fills the rest with
// children of randomly paired elites.
func (g *Genetic) nextGeneration(population []*Candidate) []*Candidate {
	eliteCount := len(population) / 2
	next := make([]*Candidate, len(population))
	for i := 0; i < eliteCount; i++ {
		clone := *population[i]
		next[i] = &clone
	}
	for i := eliteCount; i < len(population); i++ {
		p1 := population[g.rng.Intn(eliteCount)]
		p2 := population[g.rng.Intn(eliteCount)]
		child := g.crossover(p1, p2)
		g.mutate(child)
		next[i] = child
	}
	return next
}

// crossover copies the first parent and takes exactly one gene from
// the second.
func (g *Genetic) crossover(p1, p2 *Candidate) *Candidate {
	child := &Candidate{Config: p1.Config}
	switch g.rng.Intn(3) {
	case 0:
		child.Config.CommissionPct = p2.Config.CommissionPct
	case 1:
		child.Config.CandleLimit = p2.Config.CandleLimit
	case 2:
		child.Config.Timeframe = p2.Config.Timeframe
	}
	return child
}

// mutate re-rolls one random gene with probability gaMutationRate and
// clears fitness so the candidate is re-scored.
func (g *Genetic) mutate(c *Candidate) {
	if g.rng.Float64() >= gaMutationRate {
		return
	}
	switch g.rng.Intn(3) {
	case 0:
		c.Config.CommissionPct = g.ranges.CommissionPcts[g.rng.Intn(len(g.ranges.CommissionPcts))]
	case 1:
		c.Config.CandleLimit = g.ranges.CandleLimits[g.rng.Intn(len(g.ranges.CandleLimits))]
	case 2:
		c.Config.Timeframe = g.ranges.Timeframes[g.rng.Intn(len(g.ranges.Timeframes))]
	}
	c.Fitness = 0
	c.Evaluated = false
}

// sortByFitness orders evaluated candidates best first; unevaluated
// candidates sink to the bottom.
func sortByFitness(population []*Candidate) {
	sort.SliceStable(population, func(i, j int) bool {
		if population[i].Evaluated != population[j].Evaluated {
			return population[i].Evaluated
		}
		return population[i].Fitness > population[j].Fitness
	})
}
