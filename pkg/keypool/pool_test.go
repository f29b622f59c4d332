package keypool

import (
	"testing"

	"github.com/google/uuid"
)

func TestWeightedPickConvergesToWeights(t *testing.T) {
	p := New(nil, nil, nil, 5, 0)

	healthy := []Credential{
		{ID: uuid.New(), Weight: 1, Status: StatusHealthy},
		{ID: uuid.New(), Weight: 3, Status: StatusHealthy},
	}

	const trials = 20000
	counts := map[uuid.UUID]int{}
	for i := 0; i < trials; i++ {
		picked := p.weightedPick(healthy)
		counts[picked.ID]++
	}

	got := float64(counts[healthy[1].ID]) / float64(trials)
	want := 0.75
	if diff := got - want; diff > 0.05 || diff < -0.05 {
		t.Errorf("credential with weight 3 selected %.3f of the time, want ~%.2f", got, want)
	}
}

func TestWeightedPickZeroTotalFallsBackToUniform(t *testing.T) {
	p := New(nil, nil, nil, 5, 0)

	healthy := []Credential{
		{ID: uuid.New(), Weight: 0, Status: StatusHealthy},
		{ID: uuid.New(), Weight: 0, Status: StatusHealthy},
	}

	picked := p.weightedPick(healthy)
	if picked.ID != healthy[0].ID && picked.ID != healthy[1].ID {
		t.Fatalf("picked credential not in candidate set: %v", picked.ID)
	}
}

func TestWeightedPickNeverSelectsZeroWeightWhenPositiveWeightHealthy(t *testing.T) {
	p := New(nil, nil, nil, 5, 0)

	zero := Credential{ID: uuid.New(), Weight: 0, Status: StatusHealthy}
	positive := Credential{ID: uuid.New(), Weight: 5, Status: StatusHealthy}
	healthy := []Credential{zero, positive}

	for i := 0; i < 1000; i++ {
		if p.weightedPick(healthy).ID == zero.ID {
			t.Fatal("zero-weight credential was selected alongside a positive-weight healthy one")
		}
	}
}
