package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"kanflow/internal/automation"
	"kanflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_.\-]+)`)

var ErrTaskNotFound = errors.New("task not found")

// CardService is the user-facing card API. Every mutation raises its
// automation trigger after the change is committed.
type CardService struct {
	db         *gorm.DB
	logger     *logrus.Logger
	automation automation.Dispatcher
}

func NewCardService(db *gorm.DB, logger *logrus.Logger) *CardService {
	if logger == nil {
		logger = logrus.New()
	}
	return &CardService{db: db, logger: logger}
}

// SetAutomation 注入自动化调度器
func (s *CardService) SetAutomation(d automation.Dispatcher) {
	s.automation = d
}

// CardCreateRequest 创建卡片请求
type CardCreateRequest struct {
	WorkspaceID string     `json:"workspace_id"`
	BoardID     string     `json:"board_id" binding:"required"`
	ListID      string     `json:"list_id" binding:"required"`
	Title       string     `json:"title" binding:"required"`
	Description string     `json:"description"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"due_date"`
}

// CardUpdateRequest 更新卡片请求；nil 字段保持不变
type CardUpdateRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Status      *string    `json:"status"`
	Priority    *string    `json:"priority"`
	DueDate     *time.Time `json:"due_date"`
}

// AttachmentRequest describes an uploaded file.
type AttachmentRequest struct {
	FileName string `json:"file_name" binding:"required"`
	FileType string `json:"file_type"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}

func (s *CardService) dispatch(ctx context.Context, t automation.TriggerType, card *models.Card, evt automation.EventContext) {
	if s.automation == nil {
		return
	}
	evt.CardID = card.ID
	if evt.ListID == "" {
		evt.ListID = card.ListID
	}
	if evt.Title == "" {
		evt.Title = card.Title
	}
	if evt.DueDate == nil {
		evt.DueDate = card.DueDate
	}
	if err := s.automation.Process(ctx, t, evt, card.BoardID, card.WorkspaceID); err != nil {
		s.logger.WithFields(logrus.Fields{
			"card_id": card.ID,
			"trigger": t,
		}).Errorf("automation dispatch failed: %v", err)
	}
}

// GetCard loads a card with its tasks and tags.
func (s *CardService) GetCard(ctx context.Context, cardID string) (*models.Card, error) {
	var card models.Card
	err := s.db.WithContext(ctx).Preload("Tasks").Preload("Tags").First(&card, "id = ?", cardID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

func (s *CardService) CreateCard(ctx context.Context, req *CardCreateRequest, userID string) (*models.Card, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("title required")
	}
	card := &models.Card{
		WorkspaceID: req.WorkspaceID,
		BoardID:     req.BoardID,
		ListID:      req.ListID,
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		CreatedBy:   userID,
		DueDate:     req.DueDate,
	}
	if card.Priority == "" {
		card.Priority = "medium"
	}
	card.Status = "open"
	if err := s.db.WithContext(ctx).Create(card).Error; err != nil {
		return nil, fmt.Errorf("failed to create card: %w", err)
	}
	s.logger.Infof("Created card %s on board %s", card.ID, card.BoardID)

	s.dispatch(ctx, automation.TriggerCardCreated, card, automation.EventContext{
		UserID:   userID,
		Status:   card.Status,
		Priority: card.Priority,
	})
	return s.GetCard(ctx, card.ID)
}

func (s *CardService) UpdateCard(ctx context.Context, cardID string, req *CardUpdateRequest, userID string) (*models.Card, error) {
	old, err := s.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	var changed []string
	if req.Title != nil && *req.Title != old.Title {
		updates["title"] = *req.Title
		changed = append(changed, "title")
	}
	if req.Description != nil && *req.Description != old.Description {
		updates["description"] = *req.Description
		changed = append(changed, "description")
	}
	if req.Status != nil && *req.Status != old.Status {
		updates["status"] = *req.Status
		changed = append(changed, "status")
	}
	if req.Priority != nil && *req.Priority != old.Priority {
		updates["priority"] = *req.Priority
		changed = append(changed, "priority")
	}
	if req.DueDate != nil && (old.DueDate == nil || !old.DueDate.Equal(*req.DueDate)) {
		updates["due_date"] = *req.DueDate
		changed = append(changed, "dueDate")
	}
	if len(changed) == 0 {
		return old, nil
	}

	updates["updated_at"] = time.Now()
	if err := s.db.WithContext(ctx).Model(&models.Card{}).Where("id = ?", cardID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update card: %w", err)
	}

	card, err := s.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, automation.TriggerCardUpdated, card, automation.EventContext{
		UserID:        userID,
		Status:        card.Status,
		Priority:      card.Priority,
		UpdatedFields: changed,
	})
	return card, nil
}

func (s *CardService) MoveCard(ctx context.Context, cardID, targetListID, userID string) (*models.Card, error) {
	card, err := s.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	source := card.ListID
	if err := s.db.WithContext(ctx).Model(&models.Card{}).Where("id = ?", cardID).
		Updates(map[string]interface{}{"list_id": targetListID, "updated_at": time.Now()}).Error; err != nil {
		return nil, fmt.Errorf("failed to move card: %w", err)
	}
	card.ListID = targetListID

	s.dispatch(ctx, automation.TriggerCardMoved, card, automation.EventContext{
		UserID:            userID,
		SourceListID:      source,
		DestinationListID: targetListID,
		ListID:            targetListID,
	})
	return s.GetCard(ctx, cardID)
}

func (s *CardService) AssignCard(ctx context.Context, cardID, assigneeID, userID string) (*models.Card, error) {
	card, err := s.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&models.Card{}).Where("id = ?", cardID).
		Updates(map[string]interface{}{"assignee_id": assigneeID, "updated_at": time.Now()}).Error; err != nil {
		return nil, fmt.Errorf("failed to assign card: %w", err)
	}
	card.AssigneeID = assigneeID

	s.dispatch(ctx, automation.TriggerCardAssigned, card, automation.EventContext{
		UserID:     userID,
		AssigneeID: assigneeID,
	})
	return s.GetCard(ctx, cardID)
}

// AddComment stores a comment and raises COMMENT_ADDED, then USER_MENTIONED
// once per distinct @mention.
func (s *CardService) AddComment(ctx context.Context, cardID, userID, content string) (*models.Comment, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("content required")
	}
	card, err := s.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	comment := &models.Comment{CardID: cardID, UserID: userID, Content: content}
	if err := s.db.WithContext(ctx).Create(comment).Error; err != nil {
		return nil, fmt.Errorf("failed to add comment: %w", err)
	}

	s.dispatch(ctx, automation.TriggerCommentAdded, card, automation.EventContext{
		UserID:      userID,
		CommentID:   comment.ID,
		CommentText: content,
	})
	for _, mentioned := range ParseMentions(content) {
		s.dispatch(ctx, automation.TriggerUserMentioned, card, automation.EventContext{
			UserID:        userID,
			CommentID:     comment.ID,
			CommentText:   content,
			MentionedUser: mentioned,
		})
	}
	return comment, nil
}

// ParseMentions returns the distinct @handles in text, in order of first use.
func ParseMentions(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		handle := strings.TrimRight(m[1], ".-")
		if handle == "" || seen[handle] {
			continue
		}
		seen[handle] = true
		out = append(out, handle)
	}
	return out
}

// CompleteTask marks a task done, raises TASK_COMPLETED and, when it was the
// card's last open task, ALL_TASKS_COMPLETED.
func (s *CardService) CompleteTask(ctx context.Context, taskID, userID string) (*models.Task, error) {
	var task models.Task
	if err := s.db.WithContext(ctx).First(&task, "id = ?", taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	if task.Completed {
		return &task, nil
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&task).
		Updates(map[string]interface{}{"completed": true, "completed_at": &now, "completed_by": userID}).Error; err != nil {
		return nil, fmt.Errorf("failed to complete task: %w", err)
	}
	task.Completed = true
	task.CompletedAt = &now
	task.CompletedBy = userID

	card, err := s.GetCard(ctx, task.CardID)
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, automation.TriggerTaskCompleted, card, automation.EventContext{
		UserID: userID,
		TaskID: task.ID,
	})

	var open int64
	if err := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("card_id = ? AND completed = ?", task.CardID, false).Count(&open).Error; err != nil {
		return nil, err
	}
	if open == 0 {
		s.dispatch(ctx, automation.TriggerAllTasksCompleted, card, automation.EventContext{UserID: userID})
	}
	return &task, nil
}

// AddAttachment records an attachment. FileType defaults to the file
// extension.
func (s *CardService) AddAttachment(ctx context.Context, cardID, userID string, req *AttachmentRequest) (*models.Attachment, error) {
	card, err := s.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	fileType := req.FileType
	if fileType == "" {
		fileType = strings.TrimPrefix(strings.ToLower(filepath.Ext(req.FileName)), ".")
	}
	att := &models.Attachment{
		CardID:   cardID,
		UserID:   userID,
		FileName: req.FileName,
		FileType: fileType,
		Size:     req.Size,
		URL:      req.URL,
	}
	if err := s.db.WithContext(ctx).Create(att).Error; err != nil {
		return nil, fmt.Errorf("failed to add attachment: %w", err)
	}

	s.dispatch(ctx, automation.TriggerAttachmentAdded, card, automation.EventContext{
		UserID:       userID,
		AttachmentID: att.ID,
		FileType:     fileType,
	})
	return att, nil
}
