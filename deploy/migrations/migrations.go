package migrations

import "embed"

// Files 暴露回合、认证与集成凭据相关的 SQL 迁移文件。
//
//go:embed *.sql
var Files embed.FS
