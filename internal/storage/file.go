package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nick-cb/game-reseller-scraper/pkg/types"
)

// FileRecordStore writes each record as <ref_slug>.json under a directory.
type FileRecordStore struct {
	baseDir string
}

// NewFileRecordStore constructs a filesystem-backed record store.
func NewFileRecordStore(baseDir string) (*FileRecordStore, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("base directory must be provided")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &FileRecordStore{baseDir: baseDir}, nil
}

// SaveRecord overwrites the file for the record's ref_slug. Records without
// a ref_slug are skipped.
func (s *FileRecordStore) SaveRecord(ctx context.Context, record types.GameRecord) error {
	if s == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	slug, ok := fileSlug(record.RefSlug)
	if !ok {
		return nil
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(s.baseDir, slug+".json")
	tmp, err := os.CreateTemp(s.baseDir, "."+slug+"-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write record file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close record file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename record file: %w", err)
	}
	return nil
}

// Path returns where the record for slug is written.
func (s *FileRecordStore) Path(slug string) string {
	return filepath.Join(s.baseDir, slug+".json")
}

func fileSlug(ref *string) (string, bool) {
	if ref == nil {
		return "", false
	}
	slug := strings.TrimSpace(*ref)
	if slug == "" || slug == "." || slug == ".." || strings.ContainsAny(slug, `/\`) {
		return "", false
	}
	return slug, true
}
