package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"taskminder/internal/model"
)

// TaskRepository reads and writes tasks. The reminder engine only reads.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// FindByID returns the task or ErrNotFound.
func (r *TaskRepository) FindByID(ctx context.Context, taskID string) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).Where("id = ?", taskID).First(&task).Error; err != nil {
		return nil, notFound(err)
	}
	return &task, nil
}

// ListByOwner returns the owner's tasks, optionally narrowed to one workspace.
func (r *TaskRepository) ListByOwner(ctx context.Context, ownerID string, workspaceID *string) ([]model.Task, error) {
	q := r.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if workspaceID != nil {
		q = q.Where("workspace_id = ?", *workspaceID)
	}
	var tasks []model.Task
	if err := q.Order("start_date, due_date, created_at").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// Delete removes a task. Reminders referencing it are left to the sweeper.
func (r *TaskRepository) Delete(ctx context.Context, taskID string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", taskID).Delete(&model.Task{}).Error; err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}
