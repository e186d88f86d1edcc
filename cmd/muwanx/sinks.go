package main

import (
	"log/slog"
	"strings"

	"muwanx.dev/internal/config"
	"muwanx.dev/internal/persistence/indexdb"
	"muwanx.dev/internal/persistence/journal"
)

// sinks are the optional build index and journal named by the environment.
type sinks struct {
	index   *indexdb.SQLiteIndex
	journal *journal.Journal
}

func openSinks(env config.Env, logger *slog.Logger) (*sinks, error) {
	s := &sinks{}
	if p := strings.TrimSpace(env.IndexPath); p != "" {
		idx, err := indexdb.OpenSQLite(p)
		if err != nil {
			return nil, err
		}
		s.index = idx
		logger.Debug("build index open", "path", p)
	}
	if d := strings.TrimSpace(env.JournalDir); d != "" {
		s.journal = journal.Open(d)
		logger.Debug("build journal open", "dir", d)
	}
	return s, nil
}

func (s *sinks) services(logger *slog.Logger) config.Services {
	svc := config.Services{Logger: logger}
	// Leave the interfaces nil rather than holding typed nil pointers.
	if s.index != nil {
		svc.Index = s.index
	}
	if s.journal != nil {
		svc.Journal = s.journal
	}
	return svc
}

func (s *sinks) Close(logger *slog.Logger) {
	if s.index != nil {
		st := s.index.Stats()
		if err := s.index.Close(); err != nil {
			logger.Warn("close build index", "err", err)
		}
		if dropped := st.DropBuildTotal + st.DropSceneTotal + st.DropAssetTotal; dropped > 0 {
			logger.Warn("build index dropped rows", "dropped", dropped)
		}
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			logger.Warn("close build journal", "err", err)
		}
	}
}
