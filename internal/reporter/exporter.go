package reporter

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// BundleInfo describes a profile bundle.
type BundleInfo struct {
	Version     string       `json:"version"`
	Actor       string       `json:"actor"`
	RequestID   string       `json:"request_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	ToolVersion string       `json:"tool_version"`
	Files       []BundleFile `json:"files"`
}

// BundleFile records a file included in the bundle.
type BundleFile struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// WriteJSON writes v as indented JSON to outputDir/name.
func WriteJSON(outputDir, name string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", name, err)
	}
	path := filepath.Join(outputDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}

// ExportBundle creates a ZIP archive of the output directory for handoff.
// The archive holds every file in the directory plus a bundle_info.json with
// per-file SHA-256 hashes. Returns the path to the created ZIP file.
func ExportBundle(outputDir string, info BundleInfo) (string, error) {
	zipPath := outputDir + ".zip"

	zipFile, err := os.Create(zipPath)
	if err != nil {
		return "", fmt.Errorf("create zip: %w", err)
	}
	defer zipFile.Close()

	w := zip.NewWriter(zipFile)
	defer w.Close()

	dirBase := filepath.Base(outputDir)

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return "", fmt.Errorf("read output dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outputDir, entry.Name()))
		if err != nil {
			return "", fmt.Errorf("read %s: %w", entry.Name(), err)
		}

		zf, err := w.Create(dirBase + "/" + entry.Name())
		if err != nil {
			return "", fmt.Errorf("zip create %s: %w", entry.Name(), err)
		}
		if _, err := zf.Write(content); err != nil {
			return "", fmt.Errorf("zip write %s: %w", entry.Name(), err)
		}

		h := sha256.Sum256(content)
		info.Files = append(info.Files, BundleFile{
			Name:   entry.Name(),
			SHA256: hex.EncodeToString(h[:]),
			Size:   int64(len(content)),
		})
	}

	if info.Version == "" {
		info.Version = "1.0"
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now().UTC()
	}
	infoJSON, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal bundle info: %w", err)
	}

	zf, err := w.Create(dirBase + "/bundle_info.json")
	if err != nil {
		return "", fmt.Errorf("zip create bundle_info: %w", err)
	}
	if _, err := zf.Write(infoJSON); err != nil {
		return "", fmt.Errorf("zip write bundle_info: %w", err)
	}

	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close zip writer: %w", err)
	}
	if err := zipFile.Close(); err != nil {
		return "", fmt.Errorf("close zip file: %w", err)
	}

	return zipPath, nil
}
