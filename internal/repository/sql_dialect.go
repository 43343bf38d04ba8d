package repository

import (
	"strings"

	"gorm.io/gorm"
)

// 单条语句可绑定的参数上限
const (
	sqliteMaxBindVars   = 32766
	postgresMaxBindVars = 65535
	maxInsertBatchRows  = 1000
)

// dbDialectName 获取数据库方言名称，默认按 sqlite 处理。
func dbDialectName(db *gorm.DB) string {
	if db == nil || db.Dialector == nil {
		return "sqlite"
	}
	name := strings.ToLower(strings.TrimSpace(db.Dialector.Name()))
	if name == "" {
		return "sqlite"
	}
	return name
}

// insertBatchSize 计算多行 INSERT 每批行数，保证不超过方言的参数上限。
func insertBatchSize(db *gorm.DB, columns int) int {
	return insertBatchSizeByDialect(dbDialectName(db), columns)
}

func insertBatchSizeByDialect(dialect string, columns int) int {
	if columns <= 0 {
		columns = 1
	}
	limit := sqliteMaxBindVars
	switch strings.ToLower(strings.TrimSpace(dialect)) {
	case "postgres", "postgresql":
		limit = postgresMaxBindVars
	}
	size := limit / columns
	if size > maxInsertBatchRows {
		size = maxInsertBatchRows
	}
	if size < 1 {
		size = 1
	}
	return size
}
