package world

// Position is an organism's grid cell. Organisms are sessile; the
// position is fixed at placement and freed on death.
type Position struct {
	X, Y int
}

// Vitals is the mutable energetic state of an organism.
type Vitals struct {
	Energy    float64
	Age       int // ticks since placement
	Alive     bool
	Harvested float64 // lifetime chemical units absorbed
	Spent     float64 // lifetime energy paid to metabolism, toxicity, secretion
}

// Meta is the immutable identity of an organism.
type Meta struct {
	ID        uint64
	Genotype  string
	BornTick  int
	Offspring int
}
