package httpapi

import (
	"context"
	"sync"
	"time"

	"github.com/caremesh/authcore"
)

// memoryCredentials is an in-memory CredentialStore for handler tests.
type memoryCredentials struct {
	mu         sync.Mutex
	principals map[string]*authcore.Principal
	twoFactor  map[string]*authcore.TwoFactorRecord
}

func newMemoryCredentials() *memoryCredentials {
	return &memoryCredentials{
		principals: map[string]*authcore.Principal{},
		twoFactor:  map[string]*authcore.TwoFactorRecord{},
	}
}

func (m *memoryCredentials) FindByIdentifier(_ context.Context, identifier string) (*authcore.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.principals {
		if p.Identifier == identifier {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memoryCredentials) FindByID(_ context.Context, principalID string) (*authcore.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[principalID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memoryCredentials) CreatePrincipal(_ context.Context, p *authcore.Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.principals {
		if existing.Identifier == p.Identifier {
			return authcore.ErrPrincipalExists
		}
	}
	cp := *p
	m.principals[p.PrincipalID] = &cp
	return nil
}

func (m *memoryCredentials) UpdatePasswordHash(_ context.Context, principalID, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.principals[principalID]; ok {
		p.PasswordHash = newHash
	}
	return nil
}

func (m *memoryCredentials) RecordLoginOutcome(context.Context, string, bool, time.Time) error {
	return nil
}

func (m *memoryCredentials) TwoFactor(_ context.Context, principalID string) (*authcore.TwoFactorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.twoFactor[principalID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	cp.BackupCodeHashes = append([][32]byte(nil), rec.BackupCodeHashes...)
	return &cp, nil
}

func (m *memoryCredentials) SaveTwoFactor(_ context.Context, principalID string, record *authcore.TwoFactorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *record
	cp.BackupCodeHashes = append([][32]byte(nil), record.BackupCodeHashes...)
	m.twoFactor[principalID] = &cp
	return nil
}

func (m *memoryCredentials) UpdateTwoFactorCounter(_ context.Context, principalID string, counter int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.twoFactor[principalID]; ok {
		rec.LastUsedCounter = counter
	}
	return nil
}

func (m *memoryCredentials) ConsumeBackupCode(_ context.Context, principalID string, hash [32]byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.twoFactor[principalID]
	if !ok {
		return false, nil
	}
	for i, h := range rec.BackupCodeHashes {
		if h == hash {
			rec.BackupCodeHashes = append(rec.BackupCodeHashes[:i], rec.BackupCodeHashes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}
