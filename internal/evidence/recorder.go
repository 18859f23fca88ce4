// File: internal/evidence/recorder.go

// Package evidence captures page state artifacts for audit. Artifacts are
// content-addressed by SHA-256, so identical captures share one file and a
// stored artifact is never overwritten.
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/coordops/caerun/api/schemas"
	"github.com/coordops/caerun/internal/browser"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LightweightSnapshot is the cheap always-on capture: enough to fingerprint
// the page state without storing the page itself.
type LightweightSnapshot struct {
	URL              string    `json:"url"`
	StructuralDigest string    `json:"structural_digest"`
	VisualHash       string    `json:"visual_hash"`
	CapturedAt       time.Time `json:"captured_at"`
}

// Recorder writes evidence artifacts for one run under root/<run-id>/.
type Recorder struct {
	root   string
	runID  string
	driver browser.Driver
	logger *zap.Logger

	manifest schemas.EvidenceManifest
	now      func() time.Time
}

// NewRecorder creates the run's evidence directory and an empty manifest.
func NewRecorder(root, runID string, driver browser.Driver, logger *zap.Logger) (*Recorder, error) {
	dir := filepath.Join(root, runID, "artifacts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create evidence directory: %w", err)
	}
	return &Recorder{
		root:     root,
		runID:    runID,
		driver:   driver,
		logger:   logger.Named("evidence"),
		manifest: schemas.EvidenceManifest{RunID: runID},
		now:      time.Now,
	}, nil
}

// CaptureLightweight records URL, structural digest and visual hash. It is
// called after every action and must stay cheap; the page markup is read but
// not stored.
func (r *Recorder) CaptureLightweight(ctx context.Context, phase schemas.Phase, attempt int, actionID string) (*LightweightSnapshot, error) {
	url, err := r.driver.Location(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to observe url for snapshot: %w", err)
	}
	html, err := r.driver.OuterHTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page for snapshot: %w", err)
	}
	png, err := r.driver.Screenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot for snapshot: %w", err)
	}

	snap := &LightweightSnapshot{
		URL:              url,
		StructuralDigest: StructuralDigest(html),
		VisualHash:       hashHex(png),
		CapturedAt:       r.now(),
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if _, err := r.store(data, ".json", schemas.ArtifactLightweightSnapshot, phase, attempt, actionID); err != nil {
		return nil, err
	}
	return snap, nil
}

// CaptureFull stores the complete page markup and an after screenshot. A
// before screenshot, when the caller captured one ahead of the action, is
// stored alongside.
func (r *Recorder) CaptureFull(ctx context.Context, phase schemas.Phase, attempt int, actionID string, beforePNG []byte) error {
	html, err := r.driver.OuterHTML(ctx)
	if err != nil {
		return fmt.Errorf("failed to read page for full snapshot: %w", err)
	}
	if _, err := r.store([]byte(html), ".html", schemas.ArtifactFullSnapshot, phase, attempt, actionID); err != nil {
		return err
	}

	if len(beforePNG) > 0 {
		if _, err := r.store(beforePNG, ".png", schemas.ArtifactVisualBefore, phase, attempt, actionID); err != nil {
			return err
		}
	}

	after, err := r.driver.Screenshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to capture after screenshot: %w", err)
	}
	_, err = r.store(after, ".png", schemas.ArtifactVisualAfter, phase, attempt, actionID)
	return err
}

// store writes content-addressed bytes and appends a manifest entry. An
// artifact file that already exists is reused untouched.
func (r *Recorder) store(data []byte, ext string, kind schemas.ArtifactKind, phase schemas.Phase, attempt int, actionID string) (string, error) {
	hash := hashHex(data)
	rel := filepath.Join("artifacts", hash[:16]+ext)
	abs := filepath.Join(r.root, r.runID, rel)

	if _, err := os.Stat(abs); os.IsNotExist(err) {
		if err := os.WriteFile(abs, data, 0o644); err != nil {
			return "", fmt.Errorf("failed to write artifact: %w", err)
		}
	}

	r.manifest.Artifacts = append(r.manifest.Artifacts, schemas.EvidenceArtifact{
		Phase:        phase,
		Attempt:      attempt,
		ActionID:     actionID,
		Kind:         kind,
		ContentHash:  hash,
		RelativePath: rel,
		CapturedAt:   r.now(),
	})
	r.logger.Debug("Artifact stored.",
		zap.String("kind", string(kind)),
		zap.String("hash", hash[:16]))
	return rel, nil
}

// Manifest returns a copy of the manifest accumulated so far.
func (r *Recorder) Manifest() schemas.EvidenceManifest {
	out := schemas.EvidenceManifest{RunID: r.manifest.RunID}
	out.Artifacts = append(out.Artifacts, r.manifest.Artifacts...)
	return out
}

// WriteManifest persists the manifest as manifest.json in the run directory.
func (r *Recorder) WriteManifest() error {
	data, err := json.MarshalIndent(r.manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	path := filepath.Join(r.root, r.runID, "manifest.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
