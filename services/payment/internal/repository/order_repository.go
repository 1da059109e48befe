package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"example.com/quickpay/pkg/outbox"
	"example.com/quickpay/services/payment/internal/domain"
)

// OrderRepository — хранилище заказов и парных им платёжных ссылок.
// Поле status меняется только через ApplyTransition.
type OrderRepository interface {
	// CreateWithLink сохраняет ссылку, заказ и событие outbox одной транзакцией.
	CreateWithLink(ctx context.Context, order *domain.Order, link *domain.PaymentLink, event *outbox.Outbox) error

	// GetByID возвращает заказ или domain.ErrOrderNotFound.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// GetLink возвращает платёжную ссылку или domain.ErrLinkNotFound.
	GetLink(ctx context.Context, id string) (*domain.PaymentLink, error)

	// ListRecent возвращает последние заказы, новые первыми.
	ListRecent(ctx context.Context, limit int) ([]*domain.Order, error)

	// ApplyTransition выполняет compare-and-set статусов заказа и ссылки
	// и пишет событие outbox. Если хотя бы одна строка не совпала с ожидаемым
	// статусом, транзакция откатывается и возвращается domain.ErrStaleStatus.
	ApplyTransition(ctx context.Context, t domain.Transition, event *outbox.Outbox) error
}

type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository создаёт репозиторий заказов.
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) CreateWithLink(ctx context.Context, order *domain.Order, link *domain.PaymentLink, event *outbox.Outbox) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(linkModelFromDomain(link)).Error; err != nil {
			return fmt.Errorf("ошибка сохранения платёжной ссылки: %w", err)
		}

		if err := tx.Create(orderModelFromDomain(order)).Error; err != nil {
			return fmt.Errorf("ошибка сохранения заказа: %w", err)
		}

		if event != nil {
			return outbox.Insert(tx, event)
		}
		return nil
	})
}

func (r *orderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel

	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

func (r *orderRepository) GetLink(ctx context.Context, id string) (*domain.PaymentLink, error) {
	var model PaymentLinkModel

	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrLinkNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

func (r *orderRepository) ListRecent(ctx context.Context, limit int) ([]*domain.Order, error) {
	var models []OrderModel

	if err := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	orders := make([]*domain.Order, len(models))
	for i := range models {
		orders[i] = models[i].toDomain()
	}
	return orders, nil
}

func (r *orderRepository) ApplyTransition(ctx context.Context, t domain.Transition, event *outbox.Outbox) error {
	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if t.ChangesOrder() {
			res := tx.Model(&OrderModel{}).
				Where("id = ? AND status = ?", t.OrderID, string(t.From)).
				Updates(map[string]any{
					"status":     string(t.To),
					"updated_at": at,
				})
			if res.Error != nil {
				return fmt.Errorf("ошибка обновления статуса заказа: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return domain.ErrStaleStatus
			}
		}

		// id ссылки совпадает с id заказа
		if t.ChangesLink() {
			res := tx.Model(&PaymentLinkModel{}).
				Where("id = ? AND status = ?", t.OrderID, string(t.LinkFrom)).
				Updates(map[string]any{
					"status":     string(t.LinkTo),
					"updated_at": at,
				})
			if res.Error != nil {
				return fmt.Errorf("ошибка обновления статуса ссылки: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return domain.ErrStaleStatus
			}
		}

		if event != nil {
			return outbox.Insert(tx, event)
		}
		return nil
	})
}
