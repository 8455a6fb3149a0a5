// Package testutil fakes the Postgres server behind the submission store.
//
// The fake models exactly the two tables the store owns: the JSONB state
// snapshot keyed by bucket and the relational submissions mirror. Writes made
// inside a transaction are staged on the connection and only land on commit,
// so tests can assert what a failed persist left behind.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrServerDown is returned for every round trip while the server is down.
var ErrServerDown = errors.New("connection refused")

var driverSeq atomic.Uint64

// SubmissionRow is one row of the submissions mirror table.
type SubmissionRow struct {
	ID             string
	IdentityHandle string
	ProofReference string
	Amount         float64
	Status         string
	CreatedAt      time.Time
	ReviewedAt     *time.Time
	Reviewer       string
}

// Server holds the committed contents of the fake database.
type Server struct {
	mu          sync.Mutex
	statements  []string
	state       map[string][]byte
	submissions map[string]SubmissionRow
	down        bool
	failCommit  bool
}

// NewServer returns an empty, reachable server.
func NewServer() *Server {
	return &Server{
		state:       make(map[string][]byte),
		submissions: make(map[string]SubmissionRow),
	}
}

// Open registers a driver bound to the server and returns a handle to it.
func (s *Server) Open() *sql.DB {
	name := fmt.Sprintf("fakepg%d", driverSeq.Add(1))
	sql.Register(name, fakeDriver{server: s})
	db, err := sql.Open(name, "fake")
	if err != nil {
		panic(err)
	}
	return db
}

// SetDown makes every ping, begin, exec and query fail until reset.
func (s *Server) SetDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

// SetFailCommit makes transaction commits fail and discard their writes.
func (s *Server) SetFailCommit(fail bool) {
	s.mu.Lock()
	s.failCommit = fail
	s.mu.Unlock()
}

// SeedState stores a snapshot payload as if a previous process wrote it.
func (s *Server) SeedState(bucket string, payload []byte) {
	s.mu.Lock()
	s.state[bucket] = append([]byte(nil), payload...)
	s.mu.Unlock()
}

// State returns the committed payload for bucket.
func (s *Server) State(bucket string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.state[bucket]
	return append([]byte(nil), payload...), ok
}

// Submissions returns the committed mirror rows ordered by id.
func (s *Server) Submissions() []SubmissionRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SubmissionRow, 0, len(s.submissions))
	for _, row := range s.submissions {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Statements returns every statement received, in order.
func (s *Server) Statements() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.statements...)
}

type write func(*Server)

func (s *Server) exec(query string, args []driver.NamedValue) (write, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statements = append(s.statements, query)
	if s.down {
		return nil, ErrServerDown
	}
	switch head := statementHead(query); {
	case strings.HasPrefix(head, "CREATE TABLE"):
		return func(*Server) {}, nil
	case strings.HasPrefix(head, "INSERT INTO STATE"):
		if len(args) != 2 {
			return nil, fmt.Errorf("state upsert wants 2 args, got %d", len(args))
		}
		bucket, _ := args[0].Value.(string)
		payload, err := bytesArg(args[1].Value)
		if err != nil {
			return nil, err
		}
		return func(s *Server) { s.state[bucket] = payload }, nil
	case strings.HasPrefix(head, "INSERT INTO SUBMISSIONS"):
		row, err := submissionRow(args)
		if err != nil {
			return nil, err
		}
		return func(s *Server) {
			if existing, ok := s.submissions[row.ID]; ok {
				existing.Status = row.Status
				existing.ReviewedAt = row.ReviewedAt
				existing.Reviewer = row.Reviewer
				row = existing
			}
			s.submissions[row.ID] = row
		}, nil
	default:
		return nil, fmt.Errorf("unsupported statement: %s", query)
	}
}

func (s *Server) query(query string) ([][]driver.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statements = append(s.statements, query)
	if s.down {
		return nil, ErrServerDown
	}
	if statementHead(query) != "SELECT BUCKET, PAYLOAD FROM STATE" {
		return nil, fmt.Errorf("unsupported query: %s", query)
	}
	buckets := make([]string, 0, len(s.state))
	for bucket := range s.state {
		buckets = append(buckets, bucket)
	}
	sort.Strings(buckets)
	rows := make([][]driver.Value, 0, len(buckets))
	for _, bucket := range buckets {
		rows = append(rows, []driver.Value{bucket, append([]byte(nil), s.state[bucket]...)})
	}
	return rows, nil
}

func (s *Server) commit(writes []write) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return ErrServerDown
	}
	if s.failCommit {
		return errors.New("could not serialize access")
	}
	for _, w := range writes {
		w(s)
	}
	return nil
}

func (s *Server) apply(w write) {
	s.mu.Lock()
	w(s)
	s.mu.Unlock()
}

func (s *Server) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return ErrServerDown
	}
	return nil
}

func statementHead(query string) string {
	fields := strings.Fields(strings.ToUpper(query))
	head := strings.Join(fields, " ")
	if i := strings.IndexAny(head, "("); i > 0 && strings.HasPrefix(head, "INSERT") {
		head = strings.TrimSpace(head[:i])
	}
	return head
}

func bytesArg(v driver.Value) ([]byte, error) {
	switch p := v.(type) {
	case []byte:
		return append([]byte(nil), p...), nil
	case string:
		return []byte(p), nil
	default:
		return nil, fmt.Errorf("payload must be bytes, got %T", v)
	}
}

func submissionRow(args []driver.NamedValue) (SubmissionRow, error) {
	if len(args) != 8 {
		return SubmissionRow{}, fmt.Errorf("submission upsert wants 8 args, got %d", len(args))
	}
	var row SubmissionRow
	var ok bool
	if row.ID, ok = args[0].Value.(string); !ok || row.ID == "" {
		return SubmissionRow{}, errors.New("submission id must be a non-empty string")
	}
	row.IdentityHandle, _ = args[1].Value.(string)
	row.ProofReference, _ = args[2].Value.(string)
	if row.Amount, ok = args[3].Value.(float64); !ok {
		return SubmissionRow{}, fmt.Errorf("amount must be float64, got %T", args[3].Value)
	}
	row.Status, _ = args[4].Value.(string)
	if row.CreatedAt, ok = args[5].Value.(time.Time); !ok {
		return SubmissionRow{}, fmt.Errorf("created_at must be a time, got %T", args[5].Value)
	}
	if reviewed, ok := args[6].Value.(time.Time); ok {
		row.ReviewedAt = &reviewed
	}
	row.Reviewer, _ = args[7].Value.(string)
	return row, nil
}

type fakeDriver struct {
	server *Server
}

func (d fakeDriver) Open(string) (driver.Conn, error) {
	return &fakeConn{server: d.server}, nil
}

type fakeConn struct {
	server *Server
	staged []write
	inTx   bool
}

func (c *fakeConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepared statements are not supported")
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *fakeConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if err := c.server.ping(); err != nil {
		return nil, err
	}
	c.staged = nil
	c.inTx = true
	return &fakeTx{conn: c}, nil
}

func (c *fakeConn) Ping(context.Context) error { return c.server.ping() }

func (c *fakeConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	w, err := c.server.exec(query, args)
	if err != nil {
		return nil, err
	}
	if c.inTx {
		c.staged = append(c.staged, w)
		return driver.RowsAffected(1), nil
	}
	c.server.apply(w)
	return driver.RowsAffected(1), nil
}

func (c *fakeConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	rows, err := c.server.query(query)
	if err != nil {
		return nil, err
	}
	return &fakeRows{cols: []string{"bucket", "payload"}, rows: rows}, nil
}

type fakeTx struct {
	conn *fakeConn
}

func (t *fakeTx) Commit() error {
	staged := t.conn.staged
	t.conn.staged, t.conn.inTx = nil, false
	return t.conn.server.commit(staged)
}

func (t *fakeTx) Rollback() error {
	t.conn.staged, t.conn.inTx = nil, false
	return nil
}

type fakeRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
}

func (r *fakeRows) Columns() []string { return r.cols }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}
