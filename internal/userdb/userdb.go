// Package userdb implements a simple user database.
//
// # Format
//
// The user database is a YAML file containing a list of users and their
// bcrypt password hashes. We write YAML instead of a binary or protobuf
// format to make it easy for administrators to read and edit by hand, and
// since performance is not an issue for our expected usage.
//
// Users must be UTF-8 and NOT contain whitespace; the library will enforce
// this via normalize.User.
//
// # Writing
//
// The functions that write a database file will not preserve ordering,
// invalid lines, empty lines, or any formatting.
//
// It is also not safe for concurrent use from different processes.
package userdb

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v2"

	"blitiri.com.ar/go/correo/internal/normalize"
)

// bcryptCost is the work factor used for all newly hashed passwords.
// Kept well above bcrypt.DefaultCost since authentication is not a hot
// path for a submission server.
const bcryptCost = 12

// fileFormat is the on-disk YAML representation of a DB.
type fileFormat struct {
	Users map[string][]byte `yaml:"users"`
}

// DB represents a single user database.
type DB struct {
	fname string
	users map[string][]byte // name -> bcrypt hash

	// Lock protecting users.
	mu sync.RWMutex
}

// New returns a new, empty user database, on the given file name.
func New(fname string) *DB {
	return &DB{
		fname: fname,
		users: map[string][]byte{},
	}
}

// Load the database from the given file.
// Return the database, and an error if the database could not be loaded.
// A missing file is not an error: it is treated as an empty database, so
// callers can Load a not-yet-created file and start adding users to it.
func Load(fname string) (*DB, error) {
	db := New(fname)

	raw, err := os.ReadFile(fname)
	if err != nil {
		if os.IsNotExist(err) {
			return db, nil
		}
		return db, err
	}

	var ff fileFormat
	if err := yaml.Unmarshal(raw, &ff); err != nil {
		return db, fmt.Errorf("parsing %q: %v", fname, err)
	}

	if ff.Users != nil {
		db.users = ff.Users
	}

	return db, nil
}

// Reload the database, refreshing its contents from the current file on
// disk. If there are errors reading from the file, they are returned and
// the database is not changed.
func (db *DB) Reload() error {
	newdb, err := Load(db.fname)
	if err != nil {
		return err
	}

	db.mu.Lock()
	db.users = newdb.users
	db.mu.Unlock()

	return nil
}

// Write the database to disk. It will do a complete rewrite each time, and
// is not safe to call from different processes in parallel.
func (db *DB) Write() error {
	db.mu.RLock()
	ff := fileFormat{Users: db.users}
	db.mu.RUnlock()

	raw, err := yaml.Marshal(ff)
	if err != nil {
		return err
	}

	return os.WriteFile(db.fname, raw, 0660)
}

// Authenticate returns true if the password is valid for the user, false
// otherwise.
func (db *DB) Authenticate(name, plainPassword string) bool {
	db.mu.RLock()
	hash, ok := db.users[name]
	db.mu.RUnlock()

	if !ok {
		return false
	}

	return bcrypt.CompareHashAndPassword(hash, []byte(plainPassword)) == nil
}

// AddUser to the database. If the user is already present, override it.
// Note we enforce that the name has been normalized previously.
func (db *DB) AddUser(name, plainPassword string) error {
	if norm, err := normalize.User(name); err != nil || name != norm {
		return fmt.Errorf("invalid username")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plainPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("bcrypt failed: %v", err)
	}

	db.mu.Lock()
	db.users[name] = hash
	db.mu.Unlock()

	return nil
}

// RemoveUser from the database. Returns true if the user was there, false
// otherwise.
func (db *DB) RemoveUser(name string) bool {
	db.mu.Lock()
	_, present := db.users[name]
	delete(db.users, name)
	db.mu.Unlock()
	return present
}

// Exists returns true if the user is present, false otherwise.
func (db *DB) Exists(name string) bool {
	db.mu.RLock()
	_, present := db.users[name]
	db.mu.RUnlock()
	return present
}

// Len returns the number of users in the database.
func (db *DB) Len() int {
	db.mu.RLock()
	n := len(db.users)
	db.mu.RUnlock()
	return n
}
