package core

import (
	"context"
	"time"

	"idmcore/internal/config"
	"idmcore/pkg/domain"
)

// FatalHandler receives errors after which the process state can no longer
// be trusted, such as a schema commit failing after records were committed.
type FatalHandler func(err error)

func panicOnFatal(err error) { panic(err) }

// Server is the query engine. It pairs a record store with a schema store and
// runs every write through the plugin pipeline.
type Server struct {
	records  domain.RecordStore
	schema   domain.SchemaStore
	pipeline *domain.Pipeline
	logger   Logger
	metrics  MetricsRecorder
	clock    Clock
	fatal    FatalHandler
}

// Option configures a Server.
type Option func(*Server)

// WithPipeline replaces the default plugin pipeline.
func WithPipeline(p *domain.Pipeline) Option {
	return func(s *Server) {
		if p != nil {
			s.pipeline = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsRecorder sets the metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock sets the clock write transactions take their time from.
func WithClock(c Clock) Option {
	return func(s *Server) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithFatalHandler overrides the default handler, which panics.
func WithFatalHandler(h FatalHandler) Option {
	return func(s *Server) {
		if h != nil {
			s.fatal = h
		}
	}
}

// NewServer builds a server over records and schema.
func NewServer(records domain.RecordStore, schema domain.SchemaStore, opts ...Option) *Server {
	s := &Server{
		records:  records,
		schema:   schema,
		pipeline: DefaultPipeline(config.DefaultGraceWindow),
		logger:   noopLogger{},
		metrics:  noopMetrics{},
		clock:    systemClock{},
		fatal:    panicOnFatal,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Read opens a read transaction on the latest committed snapshot. Records and
// schema are loaded separately, and a write commits records before schema, so
// a reader that starts between the two commits sees the new records with the
// previous schema. The window closes when the schema commit lands, or stays
// open if that commit fails and the fatal handler returns.
func (s *Server) Read(ctx context.Context) (*ReadTransaction, error) {
	txn, err := s.records.Read(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	return &ReadTransaction{searcher{server: s, records: txn, schema: s.schema.Read()}}, nil
}

// Write opens the exclusive write transaction with the clock's current time.
func (s *Server) Write(ctx context.Context) (*WriteTransaction, error) {
	return s.WriteAt(ctx, s.clock.Now())
}

// WriteAt opens the exclusive write transaction with a fixed current time.
// Records are locked before schema.
func (s *Server) WriteAt(ctx context.Context, now time.Time) (*WriteTransaction, error) {
	rtxn, err := s.records.Write(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	stxn, err := s.schema.Write(ctx)
	if err != nil {
		rtxn.Abort()
		return nil, err
	}
	return newWriteTransaction(s, rtxn, stxn, now), nil
}

// Initialise opens a write transaction, bootstraps the builtin entries and
// commits.
func (s *Server) Initialise(ctx context.Context) error {
	txn, err := s.Write(ctx)
	if err != nil {
		return err
	}
	if err := txn.Initialise(ctx); err != nil {
		txn.Abort()
		return err
	}
	return txn.Commit(ctx)
}

func (s *Server) observe(ctx context.Context, op string, start time.Time, err error) {
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
}

func storeErr(err error) error {
	if err == nil || domain.ErrStore.Has(err) {
		return err
	}
	return domain.ErrStore.Wrap(err)
}
