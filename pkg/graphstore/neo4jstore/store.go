// Package neo4jstore implements graphstore.Store on the official Neo4j Go
// driver. Every write runs in a managed transaction.
package neo4jstore

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/config"

	"github.com/dd0wney/cluso-contactgraph/pkg/graphstore"
	"github.com/dd0wney/cluso-contactgraph/pkg/logging"
	"github.com/dd0wney/cluso-contactgraph/pkg/metrics"
	"github.com/dd0wney/cluso-contactgraph/pkg/model"
)

// DefaultURITemplate turns a bare hostname into a routing URI.
const DefaultURITemplate = "neo4j://%s:7687"

// Config holds connection settings.
type Config struct {
	URI                   string
	Username              string
	Password              string
	Database              string
	MaxConnectionLifetime time.Duration
	MaxConnectionPoolSize int
	Logger                logging.Logger
	Metrics               *metrics.Registry
}

// Store wraps a driver. It is safe for concurrent use; sessions are not.
type Store struct {
	driver  neo4j.DriverWithContext
	cfg     Config
	logger  logging.Logger
	metrics *metrics.Registry
}

var _ graphstore.Store = (*Store)(nil)

// New creates the driver. It does not contact the server; call Verify.
func New(cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j: empty URI")
	}
	if cfg.Database == "" {
		cfg.Database = "neo4j"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *config.Config) {
			if cfg.MaxConnectionLifetime > 0 {
				c.MaxConnectionLifetime = cfg.MaxConnectionLifetime
			}
			if cfg.MaxConnectionPoolSize > 0 {
				c.MaxConnectionPoolSize = cfg.MaxConnectionPoolSize
			}
		})
	if err != nil {
		return nil, graphstore.ConnectionError(cfg.URI, err)
	}

	return &Store{
		driver:  driver,
		cfg:     cfg,
		logger:  logger.With(logging.Component("neo4j"), logging.String("uri", cfg.URI)),
		metrics: cfg.Metrics,
	}, nil
}

// Verify implements graphstore.Store.
func (s *Store) Verify(ctx context.Context) error {
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return graphstore.ConnectionError(s.cfg.URI, err)
	}
	s.logger.Info("connected to graph store", logging.String("database", s.cfg.Database))
	return nil
}

// NewSession implements graphstore.Store.
func (s *Store) NewSession(ctx context.Context, mode graphstore.AccessMode) (graphstore.Session, error) {
	access := neo4j.AccessModeWrite
	if mode == graphstore.Read {
		access = neo4j.AccessModeRead
	}
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   access,
		DatabaseName: s.cfg.Database,
	})
	return &session{store: s, sess: sess}, nil
}

// Retryable implements graphstore.Store using the driver's classification
// of transient and cluster-routing failures.
func (s *Store) Retryable(err error) bool {
	return neo4j.IsRetryable(err)
}

// Close implements graphstore.Store.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Store) observe(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	s.metrics.RecordStoreOperation(op, status, time.Since(start))
}

type session struct {
	store *Store
	sess  neo4j.SessionWithContext
}

func (ss *session) write(ctx context.Context, op string, work neo4j.ManagedTransactionWork) (any, error) {
	start := time.Now()
	out, err := ss.sess.ExecuteWrite(ctx, work)
	ss.store.observe(op, start, err)
	return out, err
}

func (ss *session) read(ctx context.Context, op string, work neo4j.ManagedTransactionWork) (any, error) {
	start := time.Now()
	out, err := ss.sess.ExecuteRead(ctx, work)
	ss.store.observe(op, start, err)
	return out, err
}

// runEach executes statements one per transaction; schema statements may not
// share a transaction with each other.
func (ss *session) runEach(ctx context.Context, op string, statements []string) error {
	for _, stmt := range statements {
		_, err := ss.write(ctx, op, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx, stmt, nil)
			if err != nil {
				return nil, err
			}
			return res.Consume(ctx)
		})
		if err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}

func (ss *session) EnsureConstraints(ctx context.Context, edition graphstore.Edition) error {
	var stmts []string
	for _, c := range graphstore.Constraints(edition) {
		stmts = append(stmts, createConstraintCypher(c))
	}
	if err := ss.runEach(ctx, "EnsureConstraints", stmts); err != nil {
		return graphstore.NewError("EnsureConstraints").Entity("constraint").
			Cause(fmt.Errorf("%w: %w", graphstore.ErrSchema, err)).Err()
	}
	ss.store.logger.Info("constraints ensured", logging.String("edition", string(edition)), logging.Count(len(stmts)))
	return nil
}

func (ss *session) EnsureIndexes(ctx context.Context) error {
	var stmts []string
	for _, idx := range graphstore.Indexes {
		stmts = append(stmts, createIndexCypher(idx))
	}
	if err := ss.runEach(ctx, "EnsureIndexes", stmts); err != nil {
		return graphstore.NewError("EnsureIndexes").Entity("index").
			Cause(fmt.Errorf("%w: %w", graphstore.ErrSchema, err)).Err()
	}
	ss.store.logger.Info("indexes ensured", logging.Count(len(stmts)))
	return nil
}

func (ss *session) Purge(ctx context.Context, batchSize int) (graphstore.PurgeResult, error) {
	if batchSize < 1 {
		batchSize = 10000
	}
	var res graphstore.PurgeResult
	for {
		out, err := ss.write(ctx, "Purge", func(tx neo4j.ManagedTransaction) (any, error) {
			r, err := tx.Run(ctx, purgeBatchCypher, map[string]any{"limit": int64(batchSize)})
			if err != nil {
				return nil, err
			}
			rec, err := r.Single(ctx)
			if err != nil {
				return nil, err
			}
			n, _, err := neo4j.GetRecordValue[int64](rec, "deleted")
			return n, err
		})
		if err != nil {
			return res, graphstore.TransactionError("Purge", err)
		}
		deleted := out.(int64)
		res.Nodes += deleted
		if deleted == 0 {
			break
		}
		ss.store.logger.Debug("purge batch", logging.Int64("deleted", deleted))
	}

	var drops []string
	for _, idx := range graphstore.Indexes {
		drops = append(drops, dropIndexCypher(idx.Name))
	}
	res.Indexes = len(drops)
	for _, c := range graphstore.AllConstraints() {
		drops = append(drops, dropConstraintCypher(c.Name))
		res.Constraints++
	}
	if err := ss.runEach(ctx, "Purge", drops); err != nil {
		return res, graphstore.NewError("Purge").Entity("schema").Cause(err).Err()
	}
	return res, nil
}

func (ss *session) UpsertPersons(ctx context.Context, persons []model.Person) (int, error) {
	out, err := ss.write(ctx, "UpsertPersons", func(tx neo4j.ManagedTransaction) (any, error) {
		r, err := tx.Run(ctx, upsertPersonsCypher, map[string]any{"rows": personRows(persons)})
		if err != nil {
			return nil, err
		}
		rec, err := r.Single(ctx)
		if err != nil {
			return nil, err
		}
		n, _, err := neo4j.GetRecordValue[int64](rec, "applied")
		return n, err
	})
	if err != nil {
		return 0, graphstore.NewError("UpsertPersons").Persons(len(persons)).Cause(err).Err()
	}
	return int(out.(int64)), nil
}

func (ss *session) CreateContacts(ctx context.Context, edges []model.ContactEdge) (graphstore.ContactResult, error) {
	out, err := ss.write(ctx, "CreateContacts", func(tx neo4j.ManagedTransaction) (any, error) {
		r, err := tx.Run(ctx, createContactsCypher, map[string]any{"rows": contactRows(edges)})
		if err != nil {
			return nil, err
		}
		rec, err := r.Single(ctx)
		if err != nil {
			return nil, err
		}
		matched, _, err := neo4j.GetRecordValue[int64](rec, "matched")
		if err != nil {
			return nil, err
		}
		summary, err := r.Consume(ctx)
		if err != nil {
			return nil, err
		}
		return contactCounts(len(edges), int(matched), summary.Counters().RelationshipsCreated()), nil
	})
	if err != nil {
		return graphstore.ContactResult{}, graphstore.NewError("CreateContacts").Contacts(len(edges)).Cause(err).Err()
	}
	return out.(graphstore.ContactResult), nil
}

func (ss *session) IncomingContacts(ctx context.Context, core []int64, tick, skip, limit int) ([]model.ContactTriple, error) {
	out, err := ss.read(ctx, "IncomingContacts", func(tx neo4j.ManagedTransaction) (any, error) {
		r, err := tx.Run(ctx, incomingContactsCypher, incomingParams(core, tick, skip, limit))
		if err != nil {
			return nil, err
		}
		records, err := r.Collect(ctx)
		if err != nil {
			return nil, err
		}
		triples := make([]model.ContactTriple, 0, len(records))
		for _, rec := range records {
			triple, err := decodeTriple(rec)
			if err != nil {
				return nil, err
			}
			triples = append(triples, triple)
		}
		return triples, nil
	})
	if err != nil {
		return nil, graphstore.NewError("IncomingContacts").Entity("contact").Cause(err).Err()
	}
	return out.([]model.ContactTriple), nil
}

func decodeTriple(rec *neo4j.Record) (model.ContactTriple, error) {
	src, _, err := neo4j.GetRecordValue[neo4j.Node](rec, "s")
	if err != nil {
		return model.ContactTriple{}, err
	}
	trg, _, err := neo4j.GetRecordValue[neo4j.Node](rec, "t")
	if err != nil {
		return model.ContactTriple{}, err
	}
	rel, _, err := neo4j.GetRecordValue[neo4j.Relationship](rec, "r")
	if err != nil {
		return model.ContactTriple{}, err
	}

	var t model.ContactTriple
	if t.Source, err = model.PersonFromProperties(src.Props); err != nil {
		return t, fmt.Errorf("source node: %w", err)
	}
	if t.Target, err = model.PersonFromProperties(trg.Props); err != nil {
		return t, fmt.Errorf("target node: %w", err)
	}
	if t.Edge, err = model.ContactFromProperties(rel.Props); err != nil {
		return t, fmt.Errorf("contact edge: %w", err)
	}
	t.Edge.SourcePID = t.Source.PID
	t.Edge.TargetPID = t.Target.PID
	return t, nil
}

func (ss *session) count(ctx context.Context, op, cypher string, params map[string]any) (int64, error) {
	out, err := ss.read(ctx, op, func(tx neo4j.ManagedTransaction) (any, error) {
		r, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		rec, err := r.Single(ctx)
		if err != nil {
			return nil, err
		}
		n, _, err := neo4j.GetRecordValue[int64](rec, "n")
		return n, err
	})
	if err != nil {
		return 0, graphstore.NewError(op).Entity("count").Cause(err).Err()
	}
	return out.(int64), nil
}

func (ss *session) CountPersons(ctx context.Context) (int64, error) {
	return ss.count(ctx, "CountPersons", countPersonsCypher, nil)
}

func (ss *session) CountContacts(ctx context.Context, occur *int) (int64, error) {
	params := map[string]any{"occur": nil}
	if occur != nil {
		params["occur"] = int64(*occur)
	}
	return ss.count(ctx, "CountContacts", countContactsCypher, params)
}

func (ss *session) Close(ctx context.Context) error {
	return ss.sess.Close(ctx)
}

// contactCounts splits a batch into new, merged and dropped rows. MERGE
// returns a row for every matched pair whether or not it created the
// relationship, so only the write counters tell the two apart.
func contactCounts(rows, matched, created int) graphstore.ContactResult {
	return graphstore.ContactResult{
		Created: created,
		Merged:  matched - created,
		Dropped: rows - matched,
	}
}
