package engine

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/lox/yieldwise/internal/ensemble"
	"github.com/lox/yieldwise/internal/features"
)

// File layout: magic, big-endian uint32 format version, gob-encoded modelFile.
var magic = []byte("YIELDWISE-MODEL\n")

const formatVersion uint32 = 1

type modelFile struct {
	SchemaVersion int
	Dimensions    []string
	ID            string
	TrainedAt     time.Time
	Examples      int
	CorpusDigest  string
	Standardizer  ensemble.Standardizer
	Forest        ensemble.Forest
	Trained       bool
}

// Save writes the published model to path. The file is written to a
// temporary sibling and renamed into place.
func (e *Engine) Save(path string) error {
	snap := e.current.Load()
	if snap == nil || !snap.Trained {
		return ErrUntrained
	}

	if err := writeModel(path, snap); err != nil {
		return &PersistenceError{Op: "save", Path: path, Err: err}
	}
	e.logger.Info("model saved", zap.String("path", path), zap.String("model_id", snap.ID))
	return nil
}

func writeModel(path string, snap *Snapshot) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := encodeModel(w, snap); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func encodeModel(w io.Writer, snap *Snapshot) error {
	if _, err := w.Write(magic); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, formatVersion); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	mf := modelFile{
		SchemaVersion: snap.SchemaVersion,
		Dimensions:    features.Names(),
		ID:            snap.ID,
		TrainedAt:     snap.TrainedAt,
		Examples:      snap.Examples,
		CorpusDigest:  snap.CorpusDigest,
		Standardizer:  snap.Standardizer,
		Forest:        *snap.Forest,
		Trained:       snap.Trained,
	}
	if err := gob.NewEncoder(w).Encode(&mf); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}

// Load reads a model file and publishes it, replacing whatever was published
// before. A failed load leaves the current model untouched.
func (e *Engine) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &PersistenceError{Op: "load", Path: path, Err: err}
	}
	defer f.Close()

	snap, err := decodeModel(bufio.NewReader(f))
	if err != nil {
		return &PersistenceError{Op: "load", Path: path, Err: err}
	}

	e.writeMu.Lock()
	e.publish(snap)
	e.writeMu.Unlock()

	e.logger.Info("model loaded",
		zap.String("path", path),
		zap.String("model_id", snap.ID),
		zap.Int("trees", len(snap.Forest.Trees)),
	)
	return nil
}

func decodeModel(r io.Reader) (*Snapshot, error) {
	header := make([]byte, len(magic))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrBadMagic, err)
	}
	if !bytes.Equal(header, magic) {
		return nil, ErrBadMagic
	}
	var version uint32
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: read version: %v", ErrCorrupt, err)
	}
	if version != formatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedFormat, version)
	}

	var mf modelFile
	if err := gob.NewDecoder(r).Decode(&mf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if mf.SchemaVersion != features.SchemaVersion || !slices.Equal(mf.Dimensions, features.Names()) {
		return nil, fmt.Errorf("%w: file has schema v%d", ErrSchemaMismatch, mf.SchemaVersion)
	}
	if !mf.Trained || !mf.Standardizer.Fitted {
		return nil, fmt.Errorf("%w: model is not marked trained", ErrCorrupt)
	}
	if err := checkStandardizer(&mf.Standardizer); err != nil {
		return nil, err
	}
	if err := checkForest(&mf.Forest); err != nil {
		return nil, err
	}

	forest := mf.Forest
	return &Snapshot{
		ID:            mf.ID,
		TrainedAt:     mf.TrainedAt,
		SchemaVersion: mf.SchemaVersion,
		Examples:      mf.Examples,
		CorpusDigest:  mf.CorpusDigest,
		Standardizer:  mf.Standardizer,
		Forest:        &forest,
		Trained:       true,
	}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func checkStandardizer(s *ensemble.Standardizer) error {
	for d := range features.Len {
		if !finite(s.Mean[d]) || !finite(s.Scale[d]) || s.Scale[d] < 0 {
			return fmt.Errorf("%w: standardizer dimension %s is invalid", ErrCorrupt, features.Dimension(d))
		}
	}
	return nil
}

// checkForest makes sure every tree can be walked without going out of
// bounds and only yields finite values. Children are always stored after
// their parent, which also rules out cycles.
func checkForest(f *ensemble.Forest) error {
	if len(f.Trees) == 0 {
		return fmt.Errorf("%w: no trees", ErrCorrupt)
	}
	for t, tree := range f.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("%w: tree %d is empty", ErrCorrupt, t)
		}
		for i, n := range tree.Nodes {
			if !finite(n.Value) {
				return fmt.Errorf("%w: tree %d node %d has a non-finite value", ErrCorrupt, t, i)
			}
			if n.Feature < 0 {
				continue
			}
			if !finite(n.Threshold) || n.Feature >= features.Len ||
				n.Left <= i || n.Left >= len(tree.Nodes) ||
				n.Right <= i || n.Right >= len(tree.Nodes) {
				return fmt.Errorf("%w: tree %d node %d is malformed", ErrCorrupt, t, i)
			}
		}
	}
	return nil
}
