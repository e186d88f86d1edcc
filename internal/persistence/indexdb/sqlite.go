package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteIndex is a queryable secondary record of builds. Writes are queued to
// a single writer goroutine; the build output itself stays the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropBuildTotal atomic.Uint64
	dropSceneTotal atomic.Uint64
	dropAssetTotal atomic.Uint64
}

type Stats struct {
	QueueDepth     int
	QueueCapacity  int
	DropBuildTotal uint64
	DropSceneTotal uint64
	DropAssetTotal uint64
}

type reqKind int

const (
	reqBuild reqKind = iota + 1
	reqScene
	reqAsset
	reqSync
)

type req struct {
	kind reqKind

	build Build
	scene Scene
	asset Asset
	done  chan struct{}
}

// Build is one run of the builder. FinishedAt is empty until the build ends.
type Build struct {
	ID         string
	OutputDir  string
	StartedAt  time.Time
	FinishedAt time.Time
	Projects   int
	Scenes     int
	Policies   int
}

type Scene struct {
	BuildID string
	Project string
	SceneID string
	Name    string
	Format  string
	Path    string
	Assets  int
	Bytes   int64
}

type Asset struct {
	BuildID string
	Project string
	SceneID string
	Key     string
	Size    int64
	Digest  string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS builds (
			build_id TEXT PRIMARY KEY,
			output_dir TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			projects INTEGER NOT NULL,
			scenes INTEGER NOT NULL,
			policies INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS scenes (
			build_id TEXT NOT NULL,
			project TEXT NOT NULL,
			scene_id TEXT NOT NULL,
			name TEXT NOT NULL,
			format TEXT NOT NULL,
			path TEXT NOT NULL,
			assets INTEGER NOT NULL,
			bytes INTEGER NOT NULL,
			PRIMARY KEY (build_id, project, scene_id)
		);`,
		`CREATE TABLE IF NOT EXISTS assets (
			build_id TEXT NOT NULL,
			project TEXT NOT NULL,
			scene_id TEXT NOT NULL,
			key TEXT NOT NULL,
			size INTEGER NOT NULL,
			blake3 TEXT NOT NULL,
			PRIMARY KEY (build_id, project, scene_id, key)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_assets_blake3 ON assets(blake3);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the queue and closes the database.
func (s *SQLiteIndex) Close() error {
	if s == nil {
		return nil
	}
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropBuildTotal: s.dropBuildTotal.Load(),
		DropSceneTotal: s.dropSceneTotal.Load(),
		DropAssetTotal: s.dropAssetTotal.Load(),
	}
}

// RecordBuild upserts b; call it at the start and again at the end of a build.
func (s *SQLiteIndex) RecordBuild(b Build) {
	if s == nil || s.closed.Load() || b.ID == "" {
		return
	}
	if b.StartedAt.IsZero() {
		b.StartedAt = time.Now()
	}
	select {
	case s.ch <- req{kind: reqBuild, build: b}:
	default:
		s.dropBuildTotal.Add(1)
	}
}

func (s *SQLiteIndex) RecordScene(sc Scene) {
	if s == nil || s.closed.Load() || sc.BuildID == "" {
		return
	}
	select {
	case s.ch <- req{kind: reqScene, scene: sc}:
	default:
		s.dropSceneTotal.Add(1)
	}
}

func (s *SQLiteIndex) RecordAsset(a Asset) {
	if s == nil || s.closed.Load() || a.BuildID == "" {
		return
	}
	select {
	case s.ch <- req{kind: reqAsset, asset: a}:
	default:
		s.dropAssetTotal.Add(1)
	}
}

// Sync blocks until every record queued before the call is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqSync, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AssetsByDigest lists the keys under which content with the given digest was
// packaged, most recent build first.
func (s *SQLiteIndex) AssetsByDigest(ctx context.Context, digest string) ([]Asset, error) {
	if err := s.Sync(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT a.build_id,a.project,a.scene_id,a.key,a.size,a.blake3
		FROM assets a JOIN builds b ON b.build_id = a.build_id
		WHERE a.blake3 = ? ORDER BY b.started_at DESC, a.key`, digest)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Asset
	for rows.Next() {
		var a Asset
		if err := rows.Scan(&a.BuildID, &a.Project, &a.SceneID, &a.Key, &a.Size, &a.Digest); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertBuild, _ := s.db.Prepare(`INSERT INTO builds(build_id,output_dir,started_at,finished_at,projects,scenes,policies) VALUES(?,?,?,?,?,?,?)
		ON CONFLICT(build_id) DO UPDATE SET finished_at=excluded.finished_at, projects=excluded.projects, scenes=excluded.scenes, policies=excluded.policies`)
	insertScene, _ := s.db.Prepare(`INSERT OR REPLACE INTO scenes(build_id,project,scene_id,name,format,path,assets,bytes) VALUES(?,?,?,?,?,?,?,?)`)
	insertAsset, _ := s.db.Prepare(`INSERT OR REPLACE INTO assets(build_id,project,scene_id,key,size,blake3) VALUES(?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertBuild, insertScene, insertAsset} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 1000
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	// Idle transactions are committed on a tick so readers sharing the single
	// connection are never blocked for longer than commitMaxWait.
	tick := time.NewTicker(commitMaxWait)
	defer tick.Stop()

	for {
		var r req
		select {
		case <-tick.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
			continue
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		}

		if r.kind == reqSync {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqBuild:
			b := r.build
			exec(insertBuild, b.ID, b.OutputDir, formatTime(b.StartedAt), formatTime(b.FinishedAt), b.Projects, b.Scenes, b.Policies)
		case reqScene:
			sc := r.scene
			exec(insertScene, sc.BuildID, sc.Project, sc.SceneID, sc.Name, sc.Format, sc.Path, sc.Assets, sc.Bytes)
		case reqAsset:
			a := r.asset
			exec(insertAsset, a.BuildID, a.Project, a.SceneID, a.Key, a.Size, a.Digest)
		}
		if tx != nil && opCount >= commitEvery {
			commit()
		}
	}
}
