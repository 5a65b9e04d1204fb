package store

import (
	"context"
	"errors"

	"fives-agent/internal/repository"
)

type kvRepository interface {
	Get(ctx context.Context, name string) ([]byte, error)
	Put(ctx context.Context, name string, payload []byte) error
	Delete(ctx context.Context, name string) error
}

// SQLStore keeps the value as one row of the cache_store table.
type SQLStore struct {
	repo kvRepository
	name string
}

func NewSQL(repo kvRepository, name string) *SQLStore {
	return &SQLStore{repo: repo, name: name}
}

func (s *SQLStore) Load(ctx context.Context) ([]byte, error) {
	data, err := s.repo.Get(ctx, s.name)
	if errors.Is(err, repository.ErrNoValue) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *SQLStore) Save(ctx context.Context, data []byte) error {
	return s.repo.Put(ctx, s.name, data)
}

func (s *SQLStore) Delete(ctx context.Context) error {
	return s.repo.Delete(ctx, s.name)
}
