package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hvaldezm/delivery-incidents/internal/application/port"
)

// LocalEvidenceStore implements port.EvidenceStore on the local filesystem.
// References are relative paths under the base directory; the rest of the
// system treats them as opaque strings, so swapping in an object store only
// touches this file.
type LocalEvidenceStore struct {
	baseDir string
	logger  *zap.Logger
}

// NewLocalEvidenceStore creates a new local evidence store
func NewLocalEvidenceStore(baseDir string, logger *zap.Logger) port.EvidenceStore {
	return &LocalEvidenceStore{baseDir: baseDir, logger: logger}
}

// Save writes the image and returns its reference. Saving the same
// report/key pair again overwrites the file, which is exactly the retake
// semantics the flow expects.
func (s *LocalEvidenceStore) Save(ctx context.Context, reportID, key string, content []byte, mimeType string) (string, error) {
	ref := filepath.Join(reportID, key+extensionFor(mimeType))
	fullPath := filepath.Join(s.baseDir, ref)

	if err := s.validatePath(fullPath); err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		s.logger.Error("Failed to create evidence directory",
			zap.String("path", filepath.Dir(fullPath)),
			zap.Error(err))
		return "", fmt.Errorf("failed to create directories: %w", err)
	}

	if err := os.WriteFile(fullPath, content, 0644); err != nil {
		s.logger.Error("Failed to write evidence file",
			zap.String("path", fullPath),
			zap.Error(err))
		return "", fmt.Errorf("failed to write evidence: %w", err)
	}

	s.logger.Debug("Evidence saved",
		zap.String("reference", ref),
		zap.Int("size", len(content)))

	return ref, nil
}

// Read loads the image behind a reference and reports its MIME type
func (s *LocalEvidenceStore) Read(ctx context.Context, reference string) ([]byte, string, error) {
	fullPath := filepath.Join(s.baseDir, reference)

	if err := s.validatePath(fullPath); err != nil {
		return nil, "", err
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read evidence %s: %w", reference, err)
	}

	return content, mimeFor(filepath.Ext(reference)), nil
}

// validatePath rejects references escaping the base directory
func (s *LocalEvidenceStore) validatePath(fullPath string) error {
	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %w", err)
	}
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return fmt.Errorf("path escapes evidence directory: %s", fullPath)
	}
	return nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func mimeFor(ext string) string {
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
