package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/telhawk-systems/crm-ingest/common/logging"
	"github.com/telhawk-systems/crm-ingest/common/queue"
)

const defaultBasePath = "/var/lib/crm-ingest/dlq"

// FileQueue writes one JSON file per failed message. It suits a single core
// instance; use the JetStream backend when several instances share a DLQ.
type FileQueue struct {
	basePath string
	logger   *slog.Logger

	mu      sync.Mutex
	written uint64
}

func NewFileQueue(basePath string, logger *slog.Logger) (*FileQueue, error) {
	if basePath == "" {
		basePath = defaultBasePath
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create dlq directory: %w", err)
	}
	return &FileQueue{basePath: basePath, logger: logger}, nil
}

func (q *FileQueue) Write(_ context.Context, d queue.Delivery, err error, reason string) error {
	failed := newFailedEvent(d, err, reason)

	q.mu.Lock()
	defer q.mu.Unlock()

	filename := fmt.Sprintf("failed_%d_%d.json", failed.Timestamp.UnixNano(), q.written)
	data, marshalErr := json.MarshalIndent(failed, "", "  ")
	if marshalErr != nil {
		return fmt.Errorf("marshal dlq entry: %w", marshalErr)
	}
	if err := os.WriteFile(filepath.Join(q.basePath, filename), data, 0o644); err != nil {
		return fmt.Errorf("write dlq entry: %w", err)
	}

	q.written++
	q.logger.Warn("DLQ: wrote failed message",
		slog.String("file", filename),
		slog.String("reason", reason),
		logging.MessageID(d.ID))
	return nil
}

// List returns up to limit entries, oldest first. limit <= 0 means all.
func (q *FileQueue) List(_ context.Context, limit int) ([]FailedEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.entries()
	if err != nil {
		return nil, err
	}

	var events []FailedEvent
	for _, name := range names {
		if limit > 0 && len(events) >= limit {
			break
		}
		data, err := os.ReadFile(filepath.Join(q.basePath, name))
		if err != nil {
			q.logger.Error("failed to read DLQ file", slog.String("file", name), logging.Error(err))
			continue
		}
		var failed FailedEvent
		if err := json.Unmarshal(data, &failed); err != nil {
			q.logger.Error("failed to parse DLQ file", slog.String("file", name), logging.Error(err))
			continue
		}
		events = append(events, failed)
	}
	return events, nil
}

func (q *FileQueue) Purge(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.entries()
	if err != nil {
		return err
	}
	deleted := 0
	for _, name := range names {
		if err := os.Remove(filepath.Join(q.basePath, name)); err != nil {
			q.logger.Error("failed to delete DLQ file", slog.String("file", name), logging.Error(err))
			continue
		}
		deleted++
	}
	q.logger.Info("DLQ: purged messages", slog.Int("count", deleted))
	return nil
}

func (q *FileQueue) Stats(_ context.Context) map[string]any {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := map[string]any{
		"enabled":   true,
		"backend":   BackendFile,
		"written":   q.written,
		"base_path": q.basePath,
	}
	names, err := q.entries()
	if err != nil {
		stats["error"] = err.Error()
		return stats
	}
	stats["pending_files"] = len(names)
	return stats
}

// entries lists DLQ file names in write order. Callers hold q.mu.
func (q *FileQueue) entries() ([]string, error) {
	files, err := os.ReadDir(q.basePath)
	if err != nil {
		return nil, fmt.Errorf("read dlq directory: %w", err)
	}
	var names []string
	for _, f := range files {
		if f.IsDir() || !strings.HasPrefix(f.Name(), "failed_") {
			continue
		}
		names = append(names, f.Name())
	}
	sort.Strings(names)
	return names, nil
}

var _ Queue = (*FileQueue)(nil)
