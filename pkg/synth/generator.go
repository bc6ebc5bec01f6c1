// Package synth generates synthetic person-trait and contact-network files
// and samples rows from existing network files.
package synth

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"strconv"

	"github.com/dd0wney/cluso-contactgraph/pkg/logging"
	"github.com/dd0wney/cluso-contactgraph/pkg/model"
)

// ctxCheckEvery is how many rows are written between cancellation checks.
const ctxCheckEvery = 4096

// Generator produces deterministic synthetic data for a seed.
type Generator struct {
	rng    *rand.Rand
	logger logging.Logger
}

// New returns a generator seeded with seed.
func New(seed uint64, logger logging.Logger) *Generator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Generator{
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		logger: logger.With(logging.Component("synth")),
	}
}

// Person draws the traits of pid. Household ids fall in [0, population).
func (g *Generator) Person(pid int64, population int) model.Person {
	age := int(math.Abs(g.rng.NormFloat64()*35 + 35))
	group, _ := model.AgeGroupFor(age)
	return model.Person{
		PID:      pid,
		HID:      g.rng.Int64N(int64(max(population, 1))),
		Age:      age,
		AgeGroup: group,
		Gender:   1 + g.rng.IntN(2),
		FIPS:     strconv.Itoa(10000 + g.rng.IntN(89999)),
		HomeLat:  g.rng.Float64()*180 - 90,
		HomeLon:  g.rng.Float64()*360 - 180,
		Admin1:   strconv.Itoa(g.rng.IntN(5)) + strconv.Itoa(g.rng.IntN(9)),
		Admin2:   strconv.Itoa(g.rng.IntN(9)),
		Admin3:   strconv.Itoa(100000 + g.rng.IntN(899999)),
		Admin4:   strconv.Itoa(g.rng.IntN(9)),
	}
}

// WritePersons writes a person-trait file with pids 0..n-1.
func (g *Generator) WritePersons(ctx context.Context, w io.Writer, n int) error {
	if n < 0 {
		return fmt.Errorf("person count must not be negative: got %d", n)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(model.PersonColumns); err != nil {
		return err
	}
	for pid := 0; pid < n; pid++ {
		if pid%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := cw.Write(model.FormatPerson(g.Person(int64(pid), n))); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	g.logger.Info("persons generated", logging.Count(n))
	return nil
}

func (g *Generator) activity() string {
	return "1:" + strconv.Itoa(1+g.rng.IntN(9))
}

// ContactPair draws one undirected contact among population people and
// returns it as two directed edges. The endpoints always differ.
func (g *Generator) ContactPair(population int) (model.ContactEdge, model.ContactEdge) {
	n := int64(population)
	trg := g.rng.Int64N(n)
	src := g.rng.Int64N(n)
	if trg == src {
		src = (src + 1) % n
	}
	trgAct, srcAct := g.activity(), g.activity()
	duration := 1 + g.rng.IntN(99999)

	forward := model.ContactEdge{
		TargetPID: trg, TargetActivity: trgAct,
		SourcePID: src, SourceActivity: srcAct,
		Duration: duration,
	}
	reverse := model.ContactEdge{
		TargetPID: src, TargetActivity: srcAct,
		SourcePID: trg, SourceActivity: trgAct,
		Duration: duration,
	}
	return forward, reverse
}

// WriteContacts writes a contact-network file of edges/2 symmetric pairs
// among population people.
func (g *Generator) WriteContacts(ctx context.Context, w io.Writer, edges, population int) error {
	if population < 2 {
		return fmt.Errorf("contact network needs at least 2 people: got %d", population)
	}
	if edges < 0 {
		return fmt.Errorf("edge count must not be negative: got %d", edges)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(model.ContactColumns); err != nil {
		return err
	}
	pairs := edges / 2
	for i := 0; i < pairs; i++ {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		fwd, rev := g.ContactPair(population)
		if err := cw.Write(model.FormatContact(fwd)); err != nil {
			return err
		}
		if err := cw.Write(model.FormatContact(rev)); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	g.logger.Info("contacts generated", logging.Count(2*pairs), logging.Int("population", population))
	return nil
}
