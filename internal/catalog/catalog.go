// Package catalog loads the offer catalog into immutable snapshots.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"microloan-funnel/internal/models"
	"microloan-funnel/internal/validation"
)

// ErrNotFound is returned when an offer id is not part of the snapshot.
var ErrNotFound = errors.New("catalog: offer not found")

// Repository is the read contract the funnel consumes.
type Repository interface {
	// Snapshot returns the current immutable catalog.
	Snapshot() *Snapshot
	// GetOffer looks an offer up by id in the current snapshot.
	GetOffer(id string) (models.Offer, error)
	// ListActive returns the active offers in catalog order.
	ListActive() []models.Offer
}

// Snapshot is an immutable view of the catalog. Offers keep the order in
// which they appear in the source file.
type Snapshot struct {
	offers   []models.Offer
	index    map[string]int
	LoadedAt time.Time
}

// NewSnapshot builds a snapshot from offers in catalog order. Later
// duplicates of an id are ignored.
func NewSnapshot(offers []models.Offer) *Snapshot {
	s := &Snapshot{
		offers:   make([]models.Offer, 0, len(offers)),
		index:    make(map[string]int, len(offers)),
		LoadedAt: time.Now().UTC(),
	}
	for _, o := range offers {
		if _, dup := s.index[o.ID]; dup {
			continue
		}
		s.index[o.ID] = len(s.offers)
		s.offers = append(s.offers, o)
	}
	return s
}

// Offers returns a copy of all offers in catalog order.
func (s *Snapshot) Offers() []models.Offer {
	out := make([]models.Offer, len(s.offers))
	copy(out, s.offers)
	return out
}

// Len returns the number of offers in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.offers)
}

// Get returns the offer with the given id.
func (s *Snapshot) Get(id string) (models.Offer, bool) {
	i, ok := s.index[id]
	if !ok {
		return models.Offer{}, false
	}
	return s.offers[i], true
}

// Active returns the active offers in catalog order.
func (s *Snapshot) Active() []models.Offer {
	var out []models.Offer
	for _, o := range s.offers {
		if o.Status.IsActive {
			out = append(out, o)
		}
	}
	return out
}

// FileRepository serves snapshots loaded from a JSON catalog file.
type FileRepository struct {
	path    string
	logger  *zap.Logger
	current atomic.Pointer[Snapshot]
}

// NewFileRepository loads the catalog at path. A missing file yields an
// empty catalog so the funnel can start before the first offer is added.
func NewFileRepository(path string, logger *zap.Logger) (*FileRepository, error) {
	r := &FileRepository{path: path, logger: logger}
	if _, err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Path returns the catalog file path.
func (r *FileRepository) Path() string {
	return r.path
}

// Reload re-reads the catalog file and swaps the snapshot in. On error the
// previous snapshot stays in place.
func (r *FileRepository) Reload() (*Snapshot, error) {
	offers, err := LoadFile(r.path, r.logger)
	if err != nil {
		return nil, err
	}
	snap := NewSnapshot(offers)
	r.current.Store(snap)
	r.logger.Info("catalog loaded",
		zap.String("path", r.path),
		zap.Int("offers", snap.Len()),
		zap.Int("active", len(snap.Active())))
	return snap, nil
}

func (r *FileRepository) Snapshot() *Snapshot {
	return r.current.Load()
}

func (r *FileRepository) GetOffer(id string) (models.Offer, error) {
	offer, ok := r.Snapshot().Get(id)
	if !ok {
		return models.Offer{}, ErrNotFound
	}
	return offer, nil
}

func (r *FileRepository) ListActive() []models.Offer {
	return r.Snapshot().Active()
}

// StaticRepository serves a fixed snapshot. It is used by the CLI and tests.
type StaticRepository struct {
	snap *Snapshot
}

func NewStaticRepository(offers []models.Offer) *StaticRepository {
	return &StaticRepository{snap: NewSnapshot(offers)}
}

func (r *StaticRepository) Snapshot() *Snapshot { return r.snap }

func (r *StaticRepository) GetOffer(id string) (models.Offer, error) {
	offer, ok := r.snap.Get(id)
	if !ok {
		return models.Offer{}, ErrNotFound
	}
	return offer, nil
}

func (r *StaticRepository) ListActive() []models.Offer { return r.snap.Active() }

// LoadFile reads a catalog file. Offers failing validation are skipped and
// logged.
func LoadFile(path string, logger *zap.Logger) ([]models.Offer, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn("catalog file not found, starting empty", zap.String("path", path))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	offers, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode catalog %s: %w", path, err)
	}

	valid := offers[:0]
	for _, offer := range offers {
		if err := validation.ValidateOffer(offer); err != nil {
			logger.Warn("skipping invalid offer", zap.String("offer_id", offer.ID), zap.Error(err))
			continue
		}
		valid = append(valid, offer)
	}
	return valid, nil
}

// Decode parses the {"microloans": {"<id>": {...}}} layout, preserving the
// order in which offers appear. The map key becomes the offer id.
func Decode(data []byte) ([]models.Offer, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}

	var offers []models.Offer
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return nil, err
		}

		if key != "microloans" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, err
			}
			continue
		}

		if offers, err = decodeOffers(dec); err != nil {
			return nil, err
		}
	}

	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return offers, nil
}

func decodeOffers(dec *json.Decoder) ([]models.Offer, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, fmt.Errorf("microloans: %w", err)
	}

	var offers []models.Offer
	for dec.More() {
		id, err := readKey(dec)
		if err != nil {
			return nil, err
		}

		var offer models.Offer
		if err := dec.Decode(&offer); err != nil {
			return nil, fmt.Errorf("offer %s: %w", id, err)
		}
		offer.ID = id
		offers = append(offers, offer)
	}

	if err := expectDelim(dec, '}'); err != nil {
		return nil, fmt.Errorf("microloans: %w", err)
	}
	return offers, nil
}

func readKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("expected object key, got %v", tok)
	}
	return key, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err == io.EOF {
		return fmt.Errorf("unexpected end of catalog, expected %q", want)
	}
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}
