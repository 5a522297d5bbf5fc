// Package export writes portable snapshots of the local store and
// reads them back, for backups and device hand-off.
//
// A snapshot is a directory with one file per entity, grouped by
// collection, plus a manifest.toml describing what was written. Entity
// files are JSON by default; YAML is available for hand-edited
// snapshots. Imports replay each file as a local mutation, so imported
// entities flow through the normal journal/sync path.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/satchelhq/satchel/internal/model"
	"github.com/satchelhq/satchel/internal/store"
)

const manifestName = "manifest.toml"

// Format selects the entity file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Options configures an export or import run.
type Options struct {
	// Dir is the snapshot directory.
	Dir string
	// Format is the entity file encoding. Defaults to JSON.
	Format Format
	// DryRun previews the run without writing anything.
	DryRun bool
	// AsRemote imports records as remote applies: timestamps kept,
	// marked synced, not journaled. Used when restoring a snapshot
	// that the remote already has, to avoid re-pushing every entity.
	AsRemote bool
}

// Result reports what a run did. Individual file failures land in
// Errors and do not stop the run.
type Result struct {
	Entities     int
	FilesWritten int
	Errors       []string
}

// Manifest is the snapshot's table of contents.
type Manifest struct {
	Version    int            `toml:"version"`
	ExportedAt time.Time      `toml:"exported_at"`
	Format     string         `toml:"format"`
	Counts     map[string]int `toml:"counts"`
}

// Export writes every entity to opts.Dir, one file per entity under a
// per-collection subdirectory, then the manifest.
func Export(ctx context.Context, db *store.DB, opts Options) (*Result, error) {
	format, err := normalizeFormat(opts.Format)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	manifest := Manifest{
		Version:    1,
		ExportedAt: time.Now().UTC(),
		Format:     string(format),
		Counts:     make(map[string]int),
	}

	for _, coll := range model.Collections() {
		recs, err := db.Query(ctx, coll, store.Filter{})
		if err != nil {
			return nil, fmt.Errorf("failed to read %s for export: %w", coll, err)
		}
		manifest.Counts[string(coll)] = len(recs)
		result.Entities += len(recs)

		if opts.DryRun {
			continue
		}
		for _, rec := range recs {
			if err := writeEntityFile(opts.Dir, rec, format); err != nil {
				result.Errors = append(result.Errors,
					fmt.Sprintf("failed to write %s %s: %v", coll, rec.ID, err))
				continue
			}
			result.FilesWritten++
		}
	}

	if opts.DryRun {
		return result, nil
	}
	if err := writeManifest(opts.Dir, manifest); err != nil {
		return nil, err
	}
	result.FilesWritten++
	return result, nil
}

// Import replays a snapshot directory into the store as local
// mutations. Spaces are imported before content so ownership always
// resolves. Files that fail to decode or validate are recorded in
// Errors and skipped.
func Import(ctx context.Context, db *store.DB, opts Options) (*Result, error) {
	manifest, err := ReadManifest(opts.Dir)
	if err != nil {
		return nil, err
	}
	format, err := normalizeFormat(Format(manifest.Format))
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, coll := range model.Collections() {
		dir := filepath.Join(opts.Dir, string(coll))
		names, err := snapshotFiles(dir, format)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			path := filepath.Join(dir, name)
			rec, err := ReadEntityFile(path)
			if err != nil {
				result.Errors = append(result.Errors,
					fmt.Sprintf("failed to read %s: %v", path, err))
				continue
			}
			if rec.Collection != coll {
				result.Errors = append(result.Errors,
					fmt.Sprintf("%s declares collection %q, expected %q", path, rec.Collection, coll))
				continue
			}
			result.Entities++
			if opts.DryRun {
				continue
			}
			if err := db.Put(ctx, rec, store.PutOptions{FromRemote: opts.AsRemote}); err != nil {
				result.Errors = append(result.Errors,
					fmt.Sprintf("failed to import %s %s: %v", coll, rec.ID, err))
				continue
			}
			result.FilesWritten++
		}
	}
	return result, nil
}

// ReadEntityFile decodes one snapshot file (JSON or YAML, by
// extension) into a validated record envelope.
func ReadEntityFile(path string) (*model.Record, error) {
	// #nosec G304 - controlled path from CLI/daemon
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rec model.Record
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
		bridge, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to convert YAML: %w", err)
		}
		if err := json.Unmarshal(bridge, &rec); err != nil {
			return nil, fmt.Errorf("invalid snapshot: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ReadManifest loads and sanity-checks a snapshot manifest.
func ReadManifest(dir string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(filepath.Join(dir, manifestName), &m); err != nil {
		return nil, fmt.Errorf("failed to read snapshot manifest: %w", err)
	}
	if m.Version != 1 {
		return nil, fmt.Errorf("unsupported snapshot version %d", m.Version)
	}
	return &m, nil
}

func writeEntityFile(dir string, rec *model.Record, format Format) error {
	path := filepath.Join(dir, string(rec.Collection), rec.ID+"."+string(format))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	var data []byte
	var err error
	switch format {
	case FormatYAML:
		// Bridge through JSON so the payload serializes as a
		// nested document, not a byte array.
		bridge, merr := json.Marshal(rec)
		if merr != nil {
			return fmt.Errorf("failed to marshal entity: %w", merr)
		}
		var raw map[string]any
		if merr := json.Unmarshal(bridge, &raw); merr != nil {
			return fmt.Errorf("failed to convert entity: %w", merr)
		}
		data, err = yaml.Marshal(raw)
	default:
		data, err = json.MarshalIndent(rec, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal entity: %w", err)
	}

	return atomicWrite(path, data)
}

func writeManifest(dir string, m Manifest) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return atomicWrite(filepath.Join(dir, manifestName), []byte(buf.String()))
}

// atomicWrite writes via a temp file and rename so a crash never
// leaves a half-written snapshot file.
func atomicWrite(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func snapshotFiles(dir string, format Format) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == "."+string(format) || (format == FormatYAML && ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func normalizeFormat(f Format) (Format, error) {
	switch f {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown snapshot format %q: %w", f, model.ErrValidation)
	}
}
