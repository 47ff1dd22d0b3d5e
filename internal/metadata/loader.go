package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"permission-explorer/internal/store"
	"permission-explorer/internal/valuehash"
)

// Format is the on-disk encoding of a metadata document.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONC Format = "jsonc"
	FormatYAML  Format = "yaml"
)

// FormatFromPath picks a format from the file extension. Unknown
// extensions are read as JSONC, which also accepts plain JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	default:
		return FormatJSONC
	}
}

// Decode turns raw bytes into the generic JSON value model: map[string]any,
// []any, string, float64, bool and nil.
func Decode(data []byte, format Format) (any, error) {
	switch format {
	case FormatYAML:
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
		return normalizeYAML(v), nil
	case FormatJSON, FormatJSONC, "":
		var v any
		// Comments and trailing commas are tolerated for hand-edited exports.
		if err := json.Unmarshal(jsonc.ToJSON(data), &v); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case uint64:
		return float64(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return val
	}
}

// ReadFile decodes the document at path using the format implied by its
// extension.
func ReadFile(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Decode(data, FormatFromPath(path))
}

// Build decodes body and indexes it. A decode error is returned directly;
// structural problems in a decoded document are reported by the index's Err.
func Build(name string, body []byte, format Format, opts ...Option) (*Document, *Index, error) {
	raw, err := Decode(body, format)
	if err != nil {
		return nil, nil, err
	}
	doc := &Document{
		Name:     name,
		Hash:     valuehash.Sum(raw),
		Raw:      raw,
		LoadedAt: time.Now().UTC(),
	}
	return doc, Parse(raw, opts...), nil
}

// Open reads and indexes the document at path.
func Open(path string, opts ...Option) (*Document, *Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Build(filepath.Base(path), data, FormatFromPath(path), opts...)
}

// Encode renders a decoded document as the JSON stored in snapshots.
func Encode(raw any) ([]byte, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// DocumentSource supplies stored snapshots. *store.Store implements it.
type DocumentSource interface {
	ActiveDocument(ctx context.Context) (*store.Document, error)
	LatestDocument(ctx context.Context) (*store.Document, error)
}

// LoadLatest loads the active snapshot, or the newest one when none is
// active, into reg. It returns nil without touching reg when nothing is
// stored.
func LoadLatest(ctx context.Context, src DocumentSource, reg *Registry, logger *zap.Logger, opts ...Option) (*Document, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	stored, err := src.ActiveDocument(ctx)
	if errors.Is(err, store.ErrNotFound) {
		stored, err = src.LatestDocument(ctx)
	}
	if errors.Is(err, store.ErrNotFound) {
		logger.Info("no stored metadata document")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}

	doc, ix, err := Build(stored.Name, stored.Body, FormatJSON, opts...)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", stored.ID, err)
	}
	doc.ID = stored.ID

	reg.Load(doc, ix)

	if perr := ix.Err(); perr != nil {
		logger.Warn("stored metadata document did not parse",
			zap.String("id", doc.ID), zap.String("name", doc.Name), zap.Error(perr))
	} else {
		logger.Info("metadata loaded",
			zap.String("id", doc.ID),
			zap.String("name", doc.Name),
			zap.Int("tables", len(ix.Tables())),
			zap.Int("roles", len(ix.Roles())),
		)
	}
	return doc, nil
}
