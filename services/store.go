package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"ai-player-service/models"
)

// ClientStore is the durable home of AIClient records. The registry is the
// only writer; the listener and ops handlers read through the registry.
// It is an interface so tests can run against an in-memory double.
type ClientStore interface {
	Create(ctx context.Context, client *models.AIClient) error
	Get(ctx context.Context, id string) (*models.AIClient, error)
	List(ctx context.Context) ([]models.AIClient, error)
	// Update applies a partial set of fields (status, match binding, seat,
	// liveness timestamp) to one record.
	Update(ctx context.Context, id string, fields map[string]interface{}) error
}

// GormClientStore backs ClientStore with the Postgres ai_clients table.
type GormClientStore struct {
	DB *gorm.DB
}

func NewGormClientStore(db *gorm.DB) *GormClientStore {
	return &GormClientStore{DB: db}
}

func (s *GormClientStore) Create(ctx context.Context, client *models.AIClient) error {
	return s.DB.WithContext(ctx).Create(client).Error
}

func (s *GormClientStore) Get(ctx context.Context, id string) (*models.AIClient, error) {
	var client models.AIClient
	err := s.DB.WithContext(ctx).First(&client, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{ClientID: id}
		}
		return nil, err
	}
	return &client, nil
}

func (s *GormClientStore) List(ctx context.Context) ([]models.AIClient, error) {
	var clients []models.AIClient
	err := s.DB.WithContext(ctx).Order("created_at ASC").Find(&clients).Error
	return clients, err
}

func (s *GormClientStore) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	res := s.DB.WithContext(ctx).Model(&models.AIClient{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &NotFoundError{ClientID: id}
	}
	return nil
}
