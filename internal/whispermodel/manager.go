package whispermodel

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/echonotehq/echonote-core/internal/config"
	"github.com/echonotehq/echonote-core/internal/events"
)

var (
	ErrUnknownVariant     = errors.New("unknown model variant")
	ErrDownloadInProgress = errors.New("model download already in progress")
	ErrNotInstalled       = errors.New("model not installed")
	ErrChecksumMismatch   = errors.New("model checksum mismatch")
)

// Status reports one catalog variant against the models directory.
type Status struct {
	Name           string `json:"name"`
	Filename       string `json:"filename"`
	SizeBytes      int64  `json:"size_bytes"`
	Installed      bool   `json:"installed"`
	InstalledBytes int64  `json:"installed_bytes,omitempty"`
}

// Manager owns the GGML model files on disk: catalog lookups, verified
// downloads with progress events, and deletion.
type Manager struct {
	dir        string
	catalog    Catalog
	httpClient *http.Client
	pub        events.Publisher
	log        *slog.Logger

	mu       sync.Mutex
	inflight map[string]bool
}

func NewManager(cfg config.ModelsConfig, catalog Catalog, pub events.Publisher, log *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create models dir: %w", err)
	}
	return &Manager{
		dir:     cfg.Dir,
		catalog: catalog,
		// Model files run to gigabytes; the timeout covers the whole stream.
		httpClient: &http.Client{Timeout: 30 * time.Minute},
		pub:        pub,
		log:        log.With(slog.String("component", "model-manager")),
		inflight:   make(map[string]bool),
	}, nil
}

// Catalog returns the manager's model catalog.
func (m *Manager) Catalog() Catalog {
	return m.catalog
}

// InstalledPath returns the on-disk path of an installed variant.
func (m *Manager) InstalledPath(name string) (string, error) {
	v, ok := m.catalog.Lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownVariant, name)
	}
	path := filepath.Join(m.dir, v.Filename)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotInstalled, name)
	}
	return path, nil
}

// Path returns where a variant lives (or would live) on disk.
func (m *Manager) Path(name string) (string, error) {
	v, ok := m.catalog.Lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownVariant, name)
	}
	return filepath.Join(m.dir, v.Filename), nil
}

// Statuses reports every catalog variant against the models directory.
func (m *Manager) Statuses() []Status {
	statuses := make([]Status, 0, len(m.catalog.Variants()))
	for _, v := range m.catalog.Variants() {
		status := Status{Name: v.Name, Filename: v.Filename, SizeBytes: v.SizeBytes}
		if info, err := os.Stat(filepath.Join(m.dir, v.Filename)); err == nil {
			status.Installed = true
			status.InstalledBytes = info.Size()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// StartDownload validates the request, reserves the variant, and runs the
// download in the background. Progress flows over the event bus.
func (m *Manager) StartDownload(name string) error {
	v, ok := m.catalog.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVariant, name)
	}
	if !m.tryAcquire(name) {
		return fmt.Errorf("%w: %s", ErrDownloadInProgress, name)
	}
	go func() {
		defer m.release(name)
		if err := m.download(context.Background(), v); err != nil {
			m.log.Error("model download failed",
				slog.String("variant", name),
				slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Download fetches a variant synchronously. Used by the CLI.
func (m *Manager) Download(ctx context.Context, name string) error {
	v, ok := m.catalog.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVariant, name)
	}
	if !m.tryAcquire(name) {
		return fmt.Errorf("%w: %s", ErrDownloadInProgress, name)
	}
	defer m.release(name)
	return m.download(ctx, v)
}

// Delete removes an installed model file.
func (m *Manager) Delete(name string) error {
	v, ok := m.catalog.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVariant, name)
	}
	path := filepath.Join(m.dir, v.Filename)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotInstalled, name)
		}
		return fmt.Errorf("delete model: %w", err)
	}
	m.log.Info("model deleted", slog.String("variant", name))
	return nil
}

// Checksum computes the SHA-256 of an installed model file.
func (m *Manager) Checksum(name string) (string, error) {
	path, err := m.InstalledPath(name)
	if err != nil {
		return "", err
	}
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open model: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hash model: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func (m *Manager) tryAcquire(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight[name] {
		return false
	}
	m.inflight[name] = true
	return true
}

func (m *Manager) release(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, name)
}

func (m *Manager) download(ctx context.Context, v Variant) error {
	target := filepath.Join(m.dir, v.Filename)
	temp := target + ".tmp"

	m.emit(v.Name, 0, v.SizeBytes, "starting", nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.URL, nil)
	if err != nil {
		m.emit(v.Name, 0, v.SizeBytes, "failed", err)
		return fmt.Errorf("build download request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.emit(v.Name, 0, v.SizeBytes, "failed", err)
		return fmt.Errorf("download request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("download returned status %d", resp.StatusCode)
		m.emit(v.Name, 0, v.SizeBytes, "failed", err)
		return err
	}

	total := v.SizeBytes
	if resp.ContentLength > 0 {
		total = resp.ContentLength
	}

	file, err := os.Create(temp)
	if err != nil {
		m.emit(v.Name, 0, total, "failed", err)
		return fmt.Errorf("create temp file: %w", err)
	}

	hasher := sha256.New()
	var downloaded int64
	buf := make([]byte, 256*1024)
	copyErr := func() error {
		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				if _, err := file.Write(buf[:n]); err != nil {
					return fmt.Errorf("write to disk: %w", err)
				}
				hasher.Write(buf[:n])
				downloaded += int64(n)
				m.emit(v.Name, downloaded, total, "downloading", nil)
			}
			if readErr == io.EOF {
				return nil
			}
			if readErr != nil {
				return fmt.Errorf("read download stream: %w", readErr)
			}
		}
	}()
	closeErr := file.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(temp)
		m.emit(v.Name, downloaded, total, "failed", copyErr)
		return copyErr
	}

	m.emit(v.Name, downloaded, total, "validating", nil)

	if v.SHA256 != "" {
		actual := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(actual, v.SHA256) {
			os.Remove(temp)
			err := fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, v.SHA256, actual)
			m.emit(v.Name, downloaded, total, "failed", err)
			return err
		}
	}

	if err := os.Rename(temp, target); err != nil {
		os.Remove(temp)
		m.emit(v.Name, downloaded, total, "failed", err)
		return fmt.Errorf("finalize download: %w", err)
	}

	m.emit(v.Name, downloaded, total, "completed", nil)
	m.log.Info("model downloaded",
		slog.String("variant", v.Name),
		slog.Int64("bytes", downloaded))
	return nil
}

func (m *Manager) emit(variant string, downloaded, total int64, status string, cause error) {
	if m.pub == nil {
		return
	}
	progress := events.DownloadProgress{
		Variant:         variant,
		BytesDownloaded: downloaded,
		TotalBytes:      total,
		Status:          status,
		Timestamp:       time.Now().UTC(),
	}
	if total > 0 {
		progress.Percentage = float64(downloaded) / float64(total) * 100
	}
	if cause != nil {
		progress.Error = cause.Error()
	}
	m.pub.PublishJSON(events.SubjectModelDownloadProgress, progress)
}
