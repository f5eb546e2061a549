// Package store persists accounts, encrypted provider keys, and per-agent
// model assignments in an embedded SQLite database.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"aura/internal/logging"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
	ErrBadLogin  = errors.New("invalid email or password")
)

// User is one registered account.
type User struct {
	ID             int64  `json:"id"`
	Email          string `json:"email"`
	HashedPassword string `json:"-"`
}

// Assignment binds an agent role ("planner", "coder", "chat") to a model
// for one user. ModelID is "provider/model", e.g. "openai/gpt-5".
type Assignment struct {
	RoleName    string  `json:"role_name"`
	ModelID     string  `json:"model_id"`
	Temperature float64 `json:"temperature"`
}

// Split breaks the ModelID into its provider and model parts. Both come
// back empty when the ID is malformed.
func (a Assignment) Split() (provider, model string) {
	provider, model, ok := strings.Cut(a.ModelID, "/")
	if !ok {
		return "", ""
	}
	return provider, model
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT NOT NULL UNIQUE,
	hashed_password TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS provider_keys (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	provider_name TEXT NOT NULL,
	encrypted_key TEXT NOT NULL,
	UNIQUE(user_id, provider_name)
);
CREATE TABLE IF NOT EXISTS model_assignments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	role_name TEXT NOT NULL,
	model_id TEXT NOT NULL,
	temperature REAL NOT NULL DEFAULT 0.7,
	UNIQUE(user_id, role_name)
);
`

// Store wraps the database handle and the key cipher.
type Store struct {
	db     *sql.DB
	cipher *Cipher
	log    logging.Logger
}

// Open connects to the database named by databaseURL and applies the schema.
// Accepts a bare file path or a sqlite:// style URL.
func Open(databaseURL, encryptionSecret string, log logging.Logger) (*Store, error) {
	dsn := strings.TrimPrefix(databaseURL, "sqlite:///")
	dsn = strings.TrimPrefix(dsn, "sqlite://")
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc sqlite serializes writes itself; a single connection avoids
	// SQLITE_BUSY churn under concurrent handlers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	cipher, err := NewCipher(encryptionSecret)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, cipher: cipher, log: logging.OrNop(log)}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// CreateUser registers an account with a bcrypt-hashed password.
func (s *Store) CreateUser(email, password string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	res, err := s.db.Exec(
		`INSERT INTO users (email, hashed_password) VALUES (?, ?)`, email, string(hashed))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, fmt.Errorf("%w: user %s", ErrDuplicate, email)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.log.Info("registered user %s (id %d)", email, id)
	return &User{ID: id, Email: email, HashedPassword: string(hashed)}, nil
}

// GetUserByEmail looks an account up by email.
func (s *Store) GetUserByEmail(email string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var u User
	err := s.db.QueryRow(
		`SELECT id, email, hashed_password FROM users WHERE email = ?`, email).
		Scan(&u.ID, &u.Email, &u.HashedPassword)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, email)
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

// GetUserByID looks an account up by primary key.
func (s *Store) GetUserByID(id int64) (*User, error) {
	var u User
	err := s.db.QueryRow(
		`SELECT id, email, hashed_password FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.HashedPassword)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

// Authenticate verifies credentials and returns the account. Unknown emails
// and wrong passwords both return ErrBadLogin so callers cannot probe for
// registered addresses.
func (s *Store) Authenticate(email, password string) (*User, error) {
	u, err := s.GetUserByEmail(email)
	if err != nil {
		return nil, ErrBadLogin
	}
	if bcrypt.CompareHashAndPassword([]byte(u.HashedPassword), []byte(password)) != nil {
		return nil, ErrBadLogin
	}
	return u, nil
}

// UpsertProviderKey stores (or replaces) a user's API key for a provider,
// encrypted at rest.
func (s *Store) UpsertProviderKey(userID int64, provider, plaintextKey string) error {
	encrypted, err := s.cipher.Encrypt(plaintextKey)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO provider_keys (user_id, provider_name, encrypted_key)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, provider_name) DO UPDATE SET encrypted_key = excluded.encrypted_key`,
		userID, provider, encrypted)
	if err != nil {
		return fmt.Errorf("save provider key: %w", err)
	}
	return nil
}

// GetProviderKey returns the decrypted API key for a provider.
func (s *Store) GetProviderKey(userID int64, provider string) (string, error) {
	var encrypted string
	err := s.db.QueryRow(
		`SELECT encrypted_key FROM provider_keys WHERE user_id = ? AND provider_name = ?`,
		userID, provider).Scan(&encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: no key for provider %s", ErrNotFound, provider)
	}
	if err != nil {
		return "", fmt.Errorf("query provider key: %w", err)
	}
	return s.cipher.Decrypt(encrypted)
}

// ListProviders returns the providers the user has keys for, sorted.
func (s *Store) ListProviders(userID int64) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT provider_name FROM provider_keys WHERE user_id = ? ORDER BY provider_name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()
	var providers []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list providers: %w", err)
		}
		providers = append(providers, name)
	}
	return providers, rows.Err()
}

// DeleteProviderKey removes a user's key for a provider.
func (s *Store) DeleteProviderKey(userID int64, provider string) error {
	res, err := s.db.Exec(
		`DELETE FROM provider_keys WHERE user_id = ? AND provider_name = ?`, userID, provider)
	if err != nil {
		return fmt.Errorf("delete provider key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: no key for provider %s", ErrNotFound, provider)
	}
	return nil
}

// UpsertAssignment binds a role to a model for one user.
func (s *Store) UpsertAssignment(userID int64, a Assignment) error {
	_, err := s.db.Exec(`
		INSERT INTO model_assignments (user_id, role_name, model_id, temperature)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, role_name) DO UPDATE SET
			model_id = excluded.model_id,
			temperature = excluded.temperature`,
		userID, a.RoleName, a.ModelID, a.Temperature)
	if err != nil {
		return fmt.Errorf("save model assignment: %w", err)
	}
	return nil
}

// GetAssignment returns the model bound to a role.
func (s *Store) GetAssignment(userID int64, roleName string) (Assignment, error) {
	var a Assignment
	err := s.db.QueryRow(`
		SELECT role_name, model_id, temperature
		FROM model_assignments WHERE user_id = ? AND role_name = ?`,
		userID, roleName).Scan(&a.RoleName, &a.ModelID, &a.Temperature)
	if errors.Is(err, sql.ErrNoRows) {
		return Assignment{}, fmt.Errorf("%w: no model assigned to role %s", ErrNotFound, roleName)
	}
	if err != nil {
		return Assignment{}, fmt.Errorf("query model assignment: %w", err)
	}
	return a, nil
}

// ListAssignments returns all of a user's role bindings, sorted by role.
func (s *Store) ListAssignments(userID int64) ([]Assignment, error) {
	rows, err := s.db.Query(`
		SELECT role_name, model_id, temperature
		FROM model_assignments WHERE user_id = ? ORDER BY role_name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list model assignments: %w", err)
	}
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.RoleName, &a.ModelID, &a.Temperature); err != nil {
			return nil, fmt.Errorf("list model assignments: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ResolveRole picks the assignment to use for a role, falling back through
// the other roles when the requested one is unbound. Returns ErrNotFound
// only when the user has no assignments at all.
func (s *Store) ResolveRole(userID int64, roleName string) (Assignment, error) {
	if a, err := s.GetAssignment(userID, roleName); err == nil {
		return a, nil
	}
	for _, fallback := range []string{"coder", "planner", "chat"} {
		if fallback == roleName {
			continue
		}
		if a, err := s.GetAssignment(userID, fallback); err == nil {
			return a, nil
		}
	}
	all, err := s.ListAssignments(userID)
	if err != nil {
		return Assignment{}, err
	}
	if len(all) == 0 {
		return Assignment{}, fmt.Errorf("%w: no model assigned to role %s", ErrNotFound, roleName)
	}
	return all[0], nil
}
