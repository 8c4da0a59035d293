package query

import (
	"context"
	"copyflow/internal/model/entity"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type accountStateDao struct {
	db *gorm.DB
}

// NewAccountStateDao 创建 DAO
func NewAccountStateDao(db *gorm.DB) *accountStateDao {
	return &accountStateDao{
		db: db,
	}
}

func (dao *accountStateDao) StateGetByAccount(ctx context.Context, account string) (*entity.AccountState, error) {
	var st entity.AccountState
	err := dao.db.WithContext(ctx).
		Where("account = ?", account).
		First(&st).Error
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (dao *accountStateDao) StateUpsert(ctx context.Context, st *entity.AccountState) error {
	if st == nil {
		return gorm.ErrInvalidData
	}
	return dao.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account"}},
			UpdateAll: true,
		}).
		Create(st).Error
}
