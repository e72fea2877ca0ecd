package repository

import (
	"gorm.io/gorm"
	"tbkb-submission-go/internal/model"
)

// UserRepository 接口定义了用户数据的持久化操作。
type UserRepository interface {
	Create(user *model.User) error
	FindByID(userID uint) (*model.User, error)
	FindByUsername(username string) (*model.User, error)
	// FindAdminsOnDuty 返回当前值班的管理员，新提交的包会通知他们。
	FindAdminsOnDuty() ([]model.User, error)
}

// userRepository 是 UserRepository 接口的 GORM 实现。
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建一个新的 UserRepository 实例。
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Create 在数据库中创建一个新的用户记录。
func (r *userRepository) Create(user *model.User) error {
	if user.Role == "" {
		user.Role = model.RoleUser
	}
	return r.db.Create(user).Error
}

// FindByID 根据 ID 查找用户。
func (r *userRepository) FindByID(userID uint) (*model.User, error) {
	var user model.User
	if err := r.db.First(&user, userID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByUsername 根据用户名从数据库中查找一个用户。
func (r *userRepository) FindByUsername(username string) (*model.User, error) {
	var user model.User
	if err := r.db.Where("username = ?", username).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) FindAdminsOnDuty() ([]model.User, error) {
	var users []model.User
	err := r.db.Where("role = ? AND on_duty = ?", model.RoleAdmin, true).Order("id").Find(&users).Error
	return users, err
}
