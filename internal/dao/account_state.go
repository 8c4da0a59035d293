package dao

import (
	"context"
	"copyflow/internal/model/entity"
)

type AccountStateDao interface {
	// 按账户名读取状态，没有则返回gorm.ErrRecordNotFound
	StateGetByAccount(ctx context.Context, account string) (*entity.AccountState, error)
	// 插入或整体覆盖账户状态
	StateUpsert(ctx context.Context, st *entity.AccountState) error
}
