package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logx "nftwatch/pkg/logx"
)

// fileStore keeps one plain-text file per (collection, category):
//
//	<dir>/known_<category>_<collection>.txt
//
// One event id per line, in discovery order, no header. Writes go through
// a temp file and rename so a crash mid-write never leaves a truncated
// file behind.
type fileStore struct {
	dir string
	log logx.Logger
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{dir: dir, log: log}, nil
}

func (s *fileStore) path(collection, category string) string {
	name := fmt.Sprintf("known_%s_%s.txt", category, collection)
	return filepath.Join(s.dir, name)
}

func (s *fileStore) LoadIDs(ctx context.Context, collection, category string) ([]string, error) {
	_ = ctx
	f, err := os.Open(s.path(collection, category))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *fileStore) SaveIDs(ctx context.Context, collection, category string, ids []string) error {
	_ = ctx
	path := s.path(collection, category)

	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	w := bufio.NewWriter(tmp)
	for _, id := range ids {
		if _, err := w.WriteString(id + "\n"); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	s.log.Debug("ledger persisted",
		logx.String("collection", collection),
		logx.String("category", category),
		logx.Int("ids", len(ids)))
	return nil
}

func (s *fileStore) Close() error { return nil }
