package transfer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ResumeSuffix is appended to a destination path to name its sidecar.
const ResumeSuffix = ".resume"

// ResumeRecord is stored next to a partial download and records what the
// server announced when the download began.
type ResumeRecord struct {
	RelativePath string `yaml:"relative_path"`
	TotalSize    uint64 `yaml:"total_size"`
}

// ResumePath returns the sidecar path for destination.
func ResumePath(destination string) string {
	return destination + ResumeSuffix
}

// LoadResumeRecord reads the sidecar for destination. A missing sidecar
// returns (nil, nil).
func LoadResumeRecord(destination string) (*ResumeRecord, error) {
	data, err := os.ReadFile(ResumePath(destination))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read resume record: %w", err)
	}

	var rec ResumeRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse resume record: %w", err)
	}
	return &rec, nil
}

// SaveResumeRecord writes the sidecar for destination.
func SaveResumeRecord(destination string, rec *ResumeRecord) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode resume record: %w", err)
	}
	if err := os.WriteFile(ResumePath(destination), data, 0o644); err != nil {
		return fmt.Errorf("write resume record: %w", err)
	}
	return nil
}

// RemoveResumeRecord deletes the sidecar for destination if present.
func RemoveResumeRecord(destination string) {
	if err := os.Remove(ResumePath(destination)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.WithFields(logrus.Fields{
			"function":    "RemoveResumeRecord",
			"destination": destination,
			"error":       err.Error(),
		}).Warn("Failed to remove resume record")
	}
}

// PartialSize returns the size of an existing partial download at
// destination, or 0 when there is none.
func PartialSize(destination string) (uint64, error) {
	info, err := os.Stat(destination)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("destination %s is not a regular file", destination)
	}
	return uint64(info.Size()), nil
}

// discardPartial removes a partial download and its sidecar.
func discardPartial(destination string) {
	if err := os.Remove(destination); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.WithFields(logrus.Fields{
			"function":    "discardPartial",
			"destination": destination,
			"error":       err.Error(),
		}).Warn("Failed to remove partial download")
	}
	RemoveResumeRecord(destination)
}
