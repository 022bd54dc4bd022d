package mysql

import (
	"context"
	"fmt"

	"github.com/grafioschtrader/gtnet/pkg/db"
)

// AutoMigrate 创建或更新 GTNet 所需的全部表
func AutoMigrate(ctx context.Context, database *db.DB) error {
	if err := database.DB.WithContext(ctx).AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("gtnet auto migrate: %w", err)
	}
	return nil
}
