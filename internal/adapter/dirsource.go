package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/h2hsecure/usermanage/internal/domain"
)

// DirSource reads a data bag laid out on disk as <dir>/<bag>/<item>.json,
// .yaml or .yml. Items are visited in file name order.
type DirSource struct {
	dir string
	bag string
}

func NewDirSource(dir, bag string) *DirSource {
	return &DirSource{dir: dir, bag: bag}
}

// Query implements domain.RecordSource.
func (s *DirSource) Query(ctx context.Context, filter domain.Filter) ([]domain.UserRecord, error) {
	root := filepath.Join(s.dir, s.bag)
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("data bag %s: %w", root, err)
	}

	var all []domain.UserRecord
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		p := filepath.Join(root, e.Name())
		rec, ok, err := ReadRecordFile(p)
		if err != nil {
			return nil, err
		}
		if !ok {
			log.Debug().Str("path", p).Msg("skipping non item file")
			continue
		}
		all = append(all, rec)
	}

	return matching(all, filter), nil
}

// ReadRecordFile decodes one item file. ok is false for files that are not
// JSON or YAML. An item without id takes the file name.
func ReadRecordFile(p string) (rec domain.UserRecord, ok bool, err error) {
	ext := strings.ToLower(filepath.Ext(p))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return rec, false, nil
	}

	b, err := os.ReadFile(p)
	if err != nil {
		return rec, false, fmt.Errorf("read item: %w", err)
	}

	if ext == ".json" {
		err = json.Unmarshal(b, &rec)
	} else {
		err = yaml.Unmarshal(b, &rec)
	}
	if err != nil {
		return rec, false, fmt.Errorf("parse item %s: %w", p, err)
	}

	if rec.ID == "" {
		rec.ID = strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
	}
	return rec, true, nil
}
