package gateway

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Fake — in-process шлюз для локальной разработки и тестов.
// Ссылки создаются в памяти, сеть не используется.
type Fake struct {
	mu sync.Mutex

	// CreateErr/DeactivateErr возвращаются вместо успешного ответа, если заданы.
	CreateErr     error
	DeactivateErr error

	Created     []CreateLinkRequest
	Deactivated []string
}

// NewFake создаёт фейковый шлюз.
func NewFake() *Fake {
	return &Fake{}
}

// CreateLink возвращает ACTIVE ссылку с новым id.
func (f *Fake) CreateLink(_ context.Context, req CreateLinkRequest) (*Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	f.Created = append(f.Created, req)

	id := "PL" + uuid.New().String()
	return &Link{
		ExternalID: id,
		URL:        "https://fake-finix.local/pay/" + id,
		State:      StateActive,
	}, nil
}

// DeactivateLink запоминает id деактивированной ссылки.
func (f *Fake) DeactivateLink(_ context.Context, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.DeactivateErr != nil {
		return f.DeactivateErr
	}
	f.Deactivated = append(f.Deactivated, externalID)
	return nil
}

// DeactivatedIDs возвращает копию списка деактивированных ссылок.
func (f *Fake) DeactivatedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Deactivated...)
}

// CreatedCount возвращает число успешных CreateLink.
func (f *Fake) CreatedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Created)
}
