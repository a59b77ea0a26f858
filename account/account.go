// Package account implements draft/account-registration and SASL
// credential storage: a bbolt-backed table of account name, Argon2id
// password hash, and TLS certificate fingerprints for SASL EXTERNAL,
// following history.Store's "bbolt bucket per concern" shape rather
// than the teacher's ingest auth (which has no durable account
// concept at all — it verifies a single shared secret per-connection).
package account

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/nerion-net/ircd/auth"
)

var (
	ErrExists   = errors.New("account: name already registered")
	ErrNoSuch   = errors.New("account: no such account")
	bucketAccts = []byte("accounts")
)

// Record is one registered account (§4.2 draft/account-registration).
type Record struct {
	Name         string   `json:"name"`
	Email        string   `json:"email,omitempty"`
	PasswordHash string   `json:"password_hash"`
	Fingerprints []string `json:"fingerprints,omitempty"`
}

// Store is the durable account table, opened once at startup.
type Store struct {
	db   *bolt.DB
	pool *auth.Pool
}

func Open(path string, pool *auth.Pool) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAccts)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, pool: pool}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func foldName(name string) string { return strings.ToLower(name) }

// Register creates a new account with an Argon2id-hashed password,
// failing if the name is already taken (§4.2: REGISTER FAIL
// ACCOUNT_EXISTS).
func (s *Store) Register(name, email, password string) error {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	hash := auth.Hash(password, salt, auth.DefaultParams())
	rec := Record{Name: name, Email: email, PasswordHash: hash}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccts)
		key := []byte(foldName(name))
		if b.Get(key) != nil {
			return ErrExists
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *Store) lookup(name string) (Record, error) {
	var rec Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccts)
		data := b.Get([]byte(foldName(name)))
		if data == nil {
			return ErrNoSuch
		}
		return json.Unmarshal(data, &rec)
	})
	return rec, err
}

// VerifyPlain implements SASL PLAIN (§4.2): authcid and password are
// checked against the stored hash off the reactor via the shared
// Argon2id pool.
func (s *Store) VerifyPlain(authzid, authcid, password string) bool {
	rec, err := s.lookup(authcid)
	if err != nil {
		return false
	}
	return s.pool.VerifyPassword(context.Background(), password, rec.PasswordHash) == nil
}

// VerifyExternal implements SASL EXTERNAL: the client's TLS
// certificate fingerprint (SHA-256, base64url, no padding — see
// auth.Fingerprint) must be on file for some account.
func (s *Store) VerifyExternal(fingerprint string) (string, bool) {
	var found string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAccts).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			for _, fp := range rec.Fingerprints {
				if fp == fingerprint {
					found = rec.Name
					return nil
				}
			}
		}
		return ErrNoSuch
	})
	return found, err == nil
}

// AddFingerprint links a TLS certificate fingerprint to an existing
// account for later SASL EXTERNAL logins.
func (s *Store) AddFingerprint(name, fingerprint string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccts)
		key := []byte(foldName(name))
		data := b.Get(key)
		if data == nil {
			return ErrNoSuch
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		rec.Fingerprints = append(rec.Fingerprints, fingerprint)
		out, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(key, out)
	})
}
