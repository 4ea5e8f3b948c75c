package timescale

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrations embed.FS

const hypertableSuffix = ".hypertable.sql"

// Migrate 按文件名顺序执行建表脚本；hypertables 为 false 时跳过
// 依赖 timescaledb 扩展的脚本，便于在普通 PostgreSQL 上运行。
func Migrate(ctx context.Context, db DBClient, hypertables bool) ([]string, error) {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	var applied []string
	for _, name := range names {
		if strings.HasSuffix(name, hypertableSuffix) && !hypertables {
			continue
		}
		body, err := migrations.ReadFile(name)
		if err != nil {
			return applied, err
		}
		if err := db.Exec(ctx, string(body)); err != nil {
			return applied, fmt.Errorf("migration %s: %w", name, err)
		}
		applied = append(applied, name)
	}
	return applied, nil
}
