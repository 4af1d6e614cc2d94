package dagstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/shaiso/Arbiter/internal/domain"
)

const dagFileExt = ".json"

// FileStore — Store поверх локальной директории: один JSON-файл на DAG.
//
// Запись идёт во временный файл с fsync и атомарным rename,
// поэтому после падения процесса файл содержит либо старое,
// либо новое состояние, но не обрывок.
type FileStore struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewFileStore создаёт FileStore, при необходимости создавая директорию.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create state dir %s: %v", ErrCheckpointIO, dir, err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// Dir возвращает директорию хранилища.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(id domain.DagID) string {
	return filepath.Join(s.dir, url.PathEscape(id.String())+dagFileExt)
}

// WriteCheckpoint атомарно перезаписывает файл DAG.
func (s *FileStore) WriteCheckpoint(ctx context.Context, dag *domain.Dag) error {
	if err := validateDag(dag); err != nil {
		return err
	}

	data, err := json.MarshalIndent(dag, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dag %s: %w", dag.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(s.dir, s.path(dag.ID), data); err != nil {
		return fmt.Errorf("%w: write checkpoint %s: %v", ErrCheckpointIO, dag.ID, err)
	}
	return nil
}

// CleanUp удаляет файл DAG.
func (s *FileStore) CleanUp(ctx context.Context, id domain.DagID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: clean up %s: %v", ErrCheckpointIO, id, err)
	}
	return nil
}

// GetDag читает DAG по id.
func (s *FileStore) GetDag(ctx context.Context, id domain.DagID) (*domain.Dag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readFile(s.path(id))
}

// GetDags читает все DAG. Повреждённые файлы пропускаются с предупреждением:
// один битый файл не должен блокировать восстановление остальных.
func (s *FileStore) GetDags(ctx context.Context) ([]*domain.Dag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read state dir: %v", ErrCheckpointIO, err)
	}

	dags := make([]*domain.Dag, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, dagFileExt) {
			continue
		}

		dag, err := s.readFile(filepath.Join(s.dir, name))
		if err != nil {
			if errors.Is(err, ErrCheckpointIO) {
				return nil, err
			}
			s.logger.Warn("skipping unreadable dag checkpoint", "file", name, "error", err)
			continue
		}
		dags = append(dags, dag)
	}

	sort.Slice(dags, func(i, j int) bool {
		return dags[i].ID.String() < dags[j].ID.String()
	})
	return dags, nil
}

// GetDagIDs возвращает id всех DAG.
func (s *FileStore) GetDagIDs(ctx context.Context) ([]domain.DagID, error) {
	dags, err := s.GetDags(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]domain.DagID, len(dags))
	for i, dag := range dags {
		ids[i] = dag.ID
	}
	return ids, nil
}

func (s *FileStore) readFile(path string) (*domain.Dag, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrCheckpointIO, filepath.Base(path), err)
	}

	var dag domain.Dag
	if err := json.Unmarshal(data, &dag); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", filepath.Base(path), err)
	}
	return &dag, nil
}

// writeFileAtomic пишет data во временный файл и переименовывает его в path.
func writeFileAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// При любой ошибке временный файл удаляется
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}

	// fsync директории, чтобы rename пережил падение
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
