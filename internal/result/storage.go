package result

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const RecordFile = "run.json"

// PrepareOutputDir creates dir if needed and returns its absolute path.
func PrepareOutputDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving output dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}
	return abs, nil
}

// RemoveStale deletes an artifact left by an earlier run. A missing file is not an error.
func RemoveStale(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("removing stale artifact %s: %w", path, err)
}

// Size returns the artifact size, or 0 if it was never written.
func Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Compress writes path+".zst" and removes path.
func Compress(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening artifact: %w", err)
	}
	defer in.Close()

	dest := path + ".zst"
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("creating compressed artifact: %w", err)
	}
	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		out.Close()
		return "", fmt.Errorf("creating zstd writer: %w", err)
	}
	if _, err := io.Copy(enc, in); err != nil {
		enc.Close()
		out.Close()
		return "", fmt.Errorf("compressing artifact: %w", err)
	}
	if err := enc.Close(); err != nil {
		out.Close()
		return "", fmt.Errorf("compressing artifact: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("writing compressed artifact: %w", err)
	}
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("removing uncompressed artifact: %w", err)
	}
	return dest, nil
}

// Decompress streams a .zst artifact to w.
func Decompress(path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening compressed artifact: %w", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("creating zstd reader: %w", err)
	}
	defer dec.Close()
	if _, err := io.Copy(w, dec); err != nil {
		return fmt.Errorf("decompressing artifact: %w", err)
	}
	return nil
}

func WriteRunRecord(dir string, rec *RunRecord) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run record: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, RecordFile), data, 0o644)
}

func ReadRunRecord(path string) (*RunRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run record: %w", err)
	}
	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing run record: %w", err)
	}
	return &rec, nil
}
