// Package jsonstore keeps user records in a single JSON document, the
// format of the legacy data/db.json file.
package jsonstore

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"imagetovideo/internal/constants"
	"imagetovideo/internal/ledger"
	"imagetovideo/internal/models"
)

// legacyID accepts both the numeric IDs of old documents and string IDs.
type legacyID string

func (id *legacyID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = legacyID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("decoding user id: %w", err)
	}
	*id = legacyID(n.String())
	return nil
}

type userRecord struct {
	ID          legacyID   `json:"id,omitempty"`
	Name        *string    `json:"name,omitempty"`
	Email       string     `json:"email"`
	Credits     int64      `json:"credits"`
	VideoIDs    []string   `json:"videoIds"`
	BucketLinks []string   `json:"bucketLinks"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `json:"deletedAt"`
}

type paymentEvent struct {
	EventID   string    `json:"eventId"`
	Email     string    `json:"email"`
	Credits   int64     `json:"credits"`
	CreatedAt time.Time `json:"createdAt"`
}

type document struct {
	Users         []*userRecord  `json:"users"`
	PaymentEvents []paymentEvent `json:"paymentEvents"`
}

// Store serializes every mutation behind one mutex and rewrites the file
// through a temp file and rename.
type Store struct {
	mu   sync.Mutex
	path string
	doc  document
	now  func() time.Time
}

var _ ledger.Store = (*Store)(nil)

// Open loads path, creating an empty document when the file does not exist.
func Open(path string) (*Store, error) {
	s := &Store{
		path: path,
		doc:  document{Users: []*userRecord{}, PaymentEvents: []paymentEvent{}},
		now:  time.Now,
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
		if err := s.persist(); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("reading store: %w", err)
	}

	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("decoding store: %w", err)
	}
	if s.doc.Users == nil {
		s.doc.Users = []*userRecord{}
	}
	if s.doc.PaymentEvents == nil {
		s.doc.PaymentEvents = []paymentEvent{}
	}
	for _, u := range s.doc.Users {
		if u.ID == "" {
			id, err := newID()
			if err != nil {
				return nil, err
			}
			u.ID = legacyID(id)
		}
		if u.VideoIDs == nil {
			u.VideoIDs = []string{}
		}
		if u.BucketLinks == nil {
			u.BucketLinks = []string{}
		}
	}

	return s, nil
}

// PingContext reports whether the backing file is still reachable.
func (s *Store) PingContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(s.path); err != nil {
		return fmt.Errorf("checking store file: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.find(email)
	if u == nil {
		return nil, ledger.ErrUserNotFound
	}
	return u.toModel(), nil
}

// Users returns a copy of every record in file order.
func (s *Store) Users(ctx context.Context) ([]*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]*models.User, 0, len(s.doc.Users))
	for _, u := range s.doc.Users {
		users = append(users, u.toModel())
	}
	return users, nil
}

func (s *Store) ApplyDelta(ctx context.Context, email string, delta int64, videoID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var balance int64
	err := s.mutate(func() error {
		var err error
		balance, err = s.applyDelta(email, delta, videoID)
		return err
	})
	return balance, err
}

func (s *Store) AppendBucketLink(ctx context.Context, email, link string, minBalance int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutate(func() error {
		u := s.find(email)
		if u == nil {
			return ledger.ErrUserNotFound
		}
		if u.Credits < minBalance {
			return ledger.ErrInsufficientCredits
		}
		u.BucketLinks = append(u.BucketLinks, link)
		u.UpdatedAt = s.now().UTC()
		return nil
	})
}

func (s *Store) SpendForBucketLink(ctx context.Context, email, link string, cost int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var balance int64
	err := s.mutate(func() error {
		u := s.find(email)
		if u == nil {
			return ledger.ErrUserNotFound
		}
		if u.Credits < cost {
			return ledger.ErrInsufficientCredits
		}
		u.Credits -= cost
		u.BucketLinks = append(u.BucketLinks, link)
		u.UpdatedAt = s.now().UTC()
		balance = u.Credits
		return nil
	})
	return balance, err
}

func (s *Store) ApplyPurchase(ctx context.Context, eventID, email string, credits int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.doc.PaymentEvents {
		if e.EventID == eventID {
			var balance int64
			if u := s.find(email); u != nil {
				balance = u.Credits
			}
			return balance, false, nil
		}
	}

	var balance int64
	err := s.mutate(func() error {
		var err error
		if balance, err = s.applyDelta(email, credits, ""); err != nil {
			return err
		}
		s.doc.PaymentEvents = append(s.doc.PaymentEvents, paymentEvent{
			EventID:   eventID,
			Email:     email,
			Credits:   credits,
			CreatedAt: s.now().UTC(),
		})
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return balance, true, nil
}

// PurgePaymentEvents drops payment events recorded before cutoff.
func (s *Store) PurgePaymentEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	err := s.mutate(func() error {
		kept := s.doc.PaymentEvents[:0]
		for _, e := range s.doc.PaymentEvents {
			if e.CreatedAt.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, e)
		}
		s.doc.PaymentEvents = kept
		return nil
	})
	return deleted, err
}

// applyDelta must be called with mu held.
func (s *Store) applyDelta(email string, delta int64, videoID string) (int64, error) {
	now := s.now().UTC()

	u := s.find(email)
	if u == nil {
		id, err := newID()
		if err != nil {
			return 0, err
		}
		u = &userRecord{
			ID:          legacyID(id),
			Email:       email,
			VideoIDs:    []string{},
			BucketLinks: []string{},
			CreatedAt:   now,
		}
		s.doc.Users = append(s.doc.Users, u)
	}

	u.Credits = max(0, u.Credits+delta)
	if videoID != "" {
		u.VideoIDs = append(u.VideoIDs, videoID)
	}
	u.UpdatedAt = now
	return u.Credits, nil
}

// mutate applies fn to a snapshot and keeps it only when both fn and the
// write to disk succeed.
func (s *Store) mutate(fn func() error) error {
	snapshot := s.doc.clone()
	if err := fn(); err != nil {
		s.doc = snapshot
		return err
	}
	if err := s.persist(); err != nil {
		s.doc = snapshot
		return err
	}
	return nil
}

func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replacing store: %w", err)
	}
	return nil
}

func (s *Store) find(email string) *userRecord {
	for _, u := range s.doc.Users {
		if u.Email == email {
			return u
		}
	}
	return nil
}

func (d document) clone() document {
	out := document{
		Users:         make([]*userRecord, len(d.Users)),
		PaymentEvents: append([]paymentEvent{}, d.PaymentEvents...),
	}
	for i, u := range d.Users {
		c := *u
		c.VideoIDs = append([]string{}, u.VideoIDs...)
		c.BucketLinks = append([]string{}, u.BucketLinks...)
		out.Users[i] = &c
	}
	return out
}

func (u *userRecord) toModel() *models.User {
	return &models.User{
		ID:          string(u.ID),
		Name:        u.Name,
		Email:       u.Email,
		Credits:     u.Credits,
		VideoIDs:    append([]string{}, u.VideoIDs...),
		BucketLinks: append([]string{}, u.BucketLinks...),
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
		DeletedAt:   u.DeletedAt,
	}
}

func newID() (string, error) {
	b := make([]byte, constants.IDRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating user ID: %w", err)
	}
	return "usr_" + hex.EncodeToString(b), nil
}

// LegacyNumericID reports whether id came from an integer-keyed document.
func LegacyNumericID(id string) bool {
	_, err := strconv.ParseInt(id, 10, 64)
	return err == nil
}
