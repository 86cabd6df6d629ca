package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kanflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrCardNotFound is returned when a card id does not exist.
var ErrCardNotFound = errors.New("card not found")

// BoardService applies card mutations issued by automation actions. Each
// method touches a single card.
type BoardService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewBoardService(db *gorm.DB, logger *logrus.Logger) *BoardService {
	if logger == nil {
		logger = logrus.New()
	}
	return &BoardService{db: db, logger: logger}
}

func (s *BoardService) updateCard(ctx context.Context, cardID string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	result := s.db.WithContext(ctx).Model(&models.Card{}).Where("id = ?", cardID).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCardNotFound
	}
	return nil
}

func (s *BoardService) UpdateCardStatus(ctx context.Context, cardID, status string) error {
	return s.updateCard(ctx, cardID, map[string]interface{}{"status": status})
}

func (s *BoardService) UpdateCardPriority(ctx context.Context, cardID, priority string) error {
	return s.updateCard(ctx, cardID, map[string]interface{}{"priority": priority})
}

func (s *BoardService) AssignCard(ctx context.Context, cardID, userID string) error {
	return s.updateCard(ctx, cardID, map[string]interface{}{"assignee_id": userID})
}

// MoveCard moves the card to targetListID and returns its previous list.
func (s *BoardService) MoveCard(ctx context.Context, cardID, targetListID string) (string, error) {
	var source string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var card models.Card
		if err := tx.Select("id", "list_id").First(&card, "id = ?", cardID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCardNotFound
			}
			return err
		}
		source = card.ListID
		return tx.Model(&models.Card{}).Where("id = ?", cardID).
			Updates(map[string]interface{}{"list_id": targetListID, "updated_at": time.Now()}).Error
	})
	if err != nil {
		return "", err
	}
	return source, nil
}

func (s *BoardService) CreateTasks(ctx context.Context, cardID string, titles []string) error {
	if len(titles) == 0 {
		return nil
	}
	if err := s.ensureCard(ctx, cardID); err != nil {
		return err
	}
	tasks := make([]models.Task, 0, len(titles))
	for _, title := range titles {
		tasks = append(tasks, models.Task{CardID: cardID, Title: title})
	}
	if err := s.db.WithContext(ctx).Create(&tasks).Error; err != nil {
		return fmt.Errorf("failed to create tasks: %w", err)
	}
	return nil
}

// AddTag is idempotent per card and tag name.
func (s *BoardService) AddTag(ctx context.Context, cardID, tag, color string) error {
	if err := s.ensureCard(ctx, cardID); err != nil {
		return err
	}
	row := &models.CardTag{CardID: cardID, Name: tag, Color: color, CreatedAt: time.Now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error
}

func (s *BoardService) ensureCard(ctx context.Context, cardID string) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Card{}).Where("id = ?", cardID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrCardNotFound
	}
	return nil
}
