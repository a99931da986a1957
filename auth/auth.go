package auth

import (
	stderrors "errors"
	"fmt"
	"strings"
	"sync"

	"bankd/config"
	"bankd/db"
	"bankd/errors"
	"bankd/jsonx"
	"bankd/ledger"
	"bankd/logx"
	"bankd/store"
	"bankd/types"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/bcrypt"
)

const (
	ErrCodeInvalidCredentials errors.LedgerErrorCode = "invalid_credentials"
	ErrCodeUsernameTaken      errors.LedgerErrorCode = "username_taken"
)

var (
	ErrInvalidCredentials = errors.NewError(ErrCodeInvalidCredentials, "Unknown username or wrong password")
	ErrUsernameTaken      = errors.NewError(ErrCodeUsernameTaken, "Username is already registered")
)

// credential is the persisted record binding a username to an account.
type credential struct {
	AccountID    uint64     `json:"account_id"`
	PasswordHash []byte     `json:"password_hash"`
	Role         types.Role `json:"role"`
}

// Service maps usernames and passwords to ledger accounts. Passwords are
// stored as bcrypt hashes under their own key prefix in the same provider
// as the ledger state.
type Service struct {
	mu         sync.Mutex
	dbProvider db.DatabaseProvider
	ledger     *ledger.Ledger
}

func NewService(dbProvider db.DatabaseProvider, ledger *ledger.Ledger) *Service {
	return &Service{dbProvider: dbProvider, ledger: ledger}
}

// Register creates a ledger account for a new username. The account starts
// unfunded; customers fund it with their first deposit.
func (s *Service) Register(username, password string, role types.Role) (*types.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.dbProvider.Get(s.credentialKey(username))
	if err != nil {
		return nil, fmt.Errorf("could not look up username: %w", err)
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	acc, err := s.ledger.CreateAccount(username, role)
	if err != nil {
		return nil, err
	}
	if err := s.saveCredential(username, &credential{AccountID: acc.ID, PasswordHash: hash, Role: role}); err != nil {
		return nil, err
	}

	logx.Info("AUTH", fmt.Sprintf("Registered %s account %d for user %s", role, acc.ID, username))
	return acc, nil
}

// Login verifies the password and returns the session the ledger operates
// on. The error is identical for unknown usernames and wrong passwords.
func (s *Service) Login(username, password string) (*types.Session, error) {
	cred, err := s.credentialOf(username)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword(cred.PasswordHash, []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &types.Session{UserID: cred.AccountID, Role: cred.Role}, nil
}

// ChangePassword replaces the stored hash after verifying the old password.
func (s *Service) ChangePassword(username, oldPassword, newPassword string) error {
	if newPassword == "" {
		return ErrInvalidCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.credentialOf(username)
	if err != nil {
		return err
	}
	if cred == nil || bcrypt.CompareHashAndPassword(cred.PasswordHash, []byte(oldPassword)) != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	cred.PasswordHash = hash
	return s.saveCredential(username, cred)
}

// Bootstrap registers the genesis users and seeds their opening balances.
// Users that already exist from a previous run are skipped, so restarting
// against a persistent backend is harmless.
func (s *Service) Bootstrap(genesis *config.GenesisConfig) error {
	for _, user := range genesis.Users {
		acc, err := s.Register(user.Username, user.Password, types.Role(user.Role))
		if err != nil {
			if stderrors.Is(err, ErrUsernameTaken) {
				logx.Info("AUTH", fmt.Sprintf("Genesis user %s already registered, skipping", user.Username))
				continue
			}
			return fmt.Errorf("failed to register genesis user %s: %w", user.Username, err)
		}
		if user.OpeningBalance == "" {
			continue
		}
		balance, parseErr := uint256.FromDecimal(user.OpeningBalance)
		if parseErr != nil {
			return fmt.Errorf("invalid opening balance %q for genesis user %s: %w", user.OpeningBalance, user.Username, parseErr)
		}
		if err := s.ledger.SeedBalance(acc.ID, balance); err != nil {
			return fmt.Errorf("failed to seed balance for genesis user %s: %w", user.Username, err)
		}
	}
	return nil
}

func (s *Service) credentialOf(username string) (*credential, error) {
	data, err := s.dbProvider.Get(s.credentialKey(username))
	if err != nil {
		return nil, fmt.Errorf("could not look up username: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	var cred credential
	if err := jsonx.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	return &cred, nil
}

func (s *Service) saveCredential(username string, cred *credential) error {
	data, err := jsonx.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}
	if err := s.dbProvider.Put(s.credentialKey(username), data); err != nil {
		return fmt.Errorf("could not persist credential: %w", err)
	}
	return nil
}

func (s *Service) credentialKey(username string) []byte {
	return []byte(store.PrefixCredential + strings.ToLower(username))
}
