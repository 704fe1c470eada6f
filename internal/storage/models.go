package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// 本文件定义服务使用的 GORM 模型，集中管理数据结构。

// MaxGalonLength 对应 galon 列的 VARCHAR 长度。
const MaxGalonLength = 255

// GalonData 为一次设备上报产生的读数记录，表名沿用 galon_data。
type GalonData struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Galon     string    `gorm:"size:255;index;index:idx_galon_ts,priority:1" json:"galon" validate:"max=255"`
	Value     float64   `gorm:"not null" json:"value"`
	Timestamp time.Time `gorm:"index;index:idx_galon_ts,priority:2" json:"timestamp" validate:"required"`
}

func (GalonData) TableName() string { return "galon_data" }

var validate = validator.New()

// Validate 校验写入前的读数（galon 长度按字符计算）。
func (g *GalonData) Validate() error {
	if err := validate.Struct(g); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s:%s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("validation failed: %s", strings.Join(msgs, ","))
		}
		return err
	}
	return nil
}

// IngestLog 记录未能落库的上报（格式错误、类型错误、存储失败），便于排查设备固件问题。
type IngestLog struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	Timestamp   time.Time `gorm:"index"`
	Level       string    `gorm:"size:16;index"`
	Event       string    `gorm:"size:64;index"`
	Galon       *string   `gorm:"size:255;index"`
	Description string    `gorm:"type:text"`
	IPAddress   string    `gorm:"size:64"`
	RequestID   string    `gorm:"size:64;index"`
	Status      int       `gorm:"index"`
}

// AutoMigrate 执行数据库自动迁移。
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&GalonData{}, &IngestLog{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
