package world

import (
	"runtime"
	"sort"
	"sync"

	"github.com/mlange-42/ark/ecs"

	"github.com/crucible-sim/crucible/chem"
	"github.com/crucible-sim/crucible/genome"
)

// parallelThreshold is the minimum organism count to use parallel
// processing. Below this, single-threaded is faster due to goroutine
// overhead.
const parallelThreshold = 64

// orgSnapshot captures read-only state for the compute phase.
type orgSnapshot struct {
	entity ecs.Entity
	id     uint64
	pos    Position
	gt     *genome.Genotype
	cells  int
}

// orgIntent captures desired chemical flows, to be clamped and applied
// sequentially.
type orgIntent struct {
	wants    []float64 // desired uptake per base
	secretes []float64 // desired secretion per base
	upkeep   float64   // metabolic energy cost this tick
}

type workChunk struct {
	start, end int
	bases      int
	dt         float64
}

// uptakeState holds the worker pool for intent computation.
type uptakeState struct {
	snapshots  []orgSnapshot
	intents    []orgIntent
	numWorkers int

	workChan chan workChunk
	doneChan chan struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
}

func newUptakeState() *uptakeState {
	return &uptakeState{
		numWorkers: runtime.GOMAXPROCS(0),
		snapshots:  make([]orgSnapshot, 0, 512),
		intents:    make([]orgIntent, 0, 512),
	}
}

func (p *uptakeState) startWorkers(w *World) {
	if p.running {
		return
	}
	p.workChan = make(chan workChunk, p.numWorkers)
	p.doneChan = make(chan struct{}, p.numWorkers)
	p.stopChan = make(chan struct{})
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(w)
	}
}

func (p *uptakeState) stopWorkers() {
	if !p.running {
		return
	}
	close(p.stopChan)
	p.wg.Wait()
	close(p.workChan)
	close(p.doneChan)
	p.running = false
}

func (p *uptakeState) worker(w *World) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopChan:
			return
		case chunk, ok := <-p.workChan:
			if !ok {
				return
			}
			w.computeChunk(chunk.start, chunk.end, chunk.bases, chunk.dt)
			p.doneChan <- struct{}{}
		}
	}
}

// Close stops the worker pool. Safe to call on a world that never ran
// a parallel tick.
func (w *World) Close() {
	if w.parallel != nil {
		w.parallel.stopWorkers()
	}
}

// metabolize runs the three-phase organism update: read-only snapshots,
// parallel intent computation, sequential clamped apply in ascending
// organism id.
func (w *World) metabolize(snap *chem.Snapshot, dt float64) {
	// Phase A: snapshots (single-threaded).
	w.parallel.snapshots = w.parallel.snapshots[:0]

	query := w.filter.Query()
	for query.Next() {
		pos, vit, meta := query.Get()
		if !vit.Alive {
			continue
		}
		p := w.phenotypes[meta.ID]
		if p == nil {
			continue
		}
		w.parallel.snapshots = append(w.parallel.snapshots, orgSnapshot{
			entity: query.Entity(),
			id:     meta.ID,
			pos:    *pos,
			gt:     w.genotypes[meta.Genotype],
			cells:  p.LiveCount(),
		})
	}
	sort.Slice(w.parallel.snapshots, func(i, j int) bool {
		return w.parallel.snapshots[i].id < w.parallel.snapshots[j].id
	})

	n := len(w.parallel.snapshots)
	if n == 0 {
		return
	}
	if cap(w.parallel.intents) < n {
		w.parallel.intents = make([]orgIntent, n)
	}
	w.parallel.intents = w.parallel.intents[:n]

	// Phase B: compute intents, single or parallel by population size.
	if n < parallelThreshold {
		w.computeChunk(0, n, snap.Len(), dt)
	} else {
		w.computeParallel(n, snap.Len(), dt)
	}

	// Phase C: apply sequentially; ordering and clamping live here.
	w.applyIntents(snap, dt)
}

func (w *World) computeParallel(n, bases int, dt float64) {
	if !w.parallel.running {
		w.parallel.startWorkers(w)
	}
	numWorkers := w.parallel.numWorkers
	chunkSize := (n + numWorkers - 1) / numWorkers

	dispatched := 0
	for i := 0; i < numWorkers; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > n {
			end = n
		}
		if start >= end {
			continue
		}
		w.parallel.workChan <- workChunk{start: start, end: end, bases: bases, dt: dt}
		dispatched++
	}
	for i := 0; i < dispatched; i++ {
		<-w.parallel.doneChan
	}
}

// computeChunk derives chemical-flow intents for a range of organisms.
// Pure per-organism math over the snapshots; no shared writes.
func (w *World) computeChunk(i0, i1, bases int, dt float64) {
	for i := i0; i < i1; i++ {
		snap := &w.parallel.snapshots[i]
		intent := &w.parallel.intents[i]

		intent.wants = resize(intent.wants, bases)
		intent.secretes = resize(intent.secretes, bases)
		intent.upkeep = w.cfg.MetabolicCost * float64(snap.cells) * dt

		scale := float64(snap.cells) * dt
		for _, gn := range snap.gt.Genes {
			b, ok := w.field.Index(gn.Base)
			if !ok || b >= bases {
				continue
			}
			switch gn.Mode {
			case genome.ModeConsume:
				intent.wants[b] += gn.Rate * scale
			case genome.ModeProduce:
				intent.secretes[b] += gn.Rate * scale
			}
		}
	}
}

// charge moves up to amount from the organism's stored energy to heat
// and returns what was actually paid. Energy never goes negative, so
// the conservation books stay exact; an organism that cannot pay its
// way ends the tick at zero and is reaped.
func (w *World) charge(vit *Vitals, amount float64) float64 {
	if amount > vit.Energy {
		amount = vit.Energy
	}
	if amount <= 0 {
		return 0
	}
	vit.Energy -= amount
	vit.Spent += amount
	w.heat += amount
	return amount
}

// applyIntents settles the tick's chemical flows against the field and
// the organisms' energy books, in ascending organism id.
func (w *World) applyIntents(snap *chem.Snapshot, dt float64) {
	for i := range w.parallel.snapshots {
		s := &w.parallel.snapshots[i]
		intent := &w.parallel.intents[i]

		_, vit, _ := w.mapper.Get(s.entity)
		if vit == nil || !vit.Alive {
			continue
		}

		for b := 0; b < snap.Len(); b++ {
			base := snap.At(b)

			if want := intent.wants[b]; want > 0 {
				take := w.field.Take(b, s.pos.X, s.pos.Y, want)
				if take > 0 {
					vit.Harvested += take
					gain := take * base.EnergyYield
					vit.Energy += gain
					w.injected += gain
					if base.Toxicity > 0 {
						w.charge(vit, take*base.Toxicity)
					}
				}
			}

			if amount := intent.secretes[b]; amount > 0 {
				cost := amount * w.cfg.SecretionCost
				if cost > vit.Energy && cost > 0 {
					// Secretion is best-effort under an energy budget.
					amount *= vit.Energy / cost
				}
				if amount > 0 {
					w.field.Add(b, s.pos.X, s.pos.Y, amount)
					w.charge(vit, amount*w.cfg.SecretionCost)
				}
			}
		}

		w.charge(vit, intent.upkeep)
		vit.Age++
	}
}

func resize(s []float64, n int) []float64 {
	if cap(s) < n {
		return make([]float64, n)
	}
	s = s[:n]
	for i := range s {
		s[i] = 0
	}
	return s
}
