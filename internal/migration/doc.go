// 版权所有 2024 Herd Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理持久化存储（workflows / proxies / trackings 三张表）
的版本化 Schema，支持 PostgreSQL、MySQL 与 SQLite，基于 golang-migrate。

# 概述

各方言的 SQL 迁移文件通过 embed.FS 内嵌在二进制中。SQLite 连接由
纯 Go 的 glebarez/go-sqlite 打开，再交给 golang-migrate 的 sqlite3
驱动（WithInstance），运行时无需 CGO。
开发与测试环境也可以直接使用 persistence.DurableStore.AutoMigrate，
生产环境推荐 herd migrate up。

# 核心接口与类型

  - Migrator：Up/Down/Steps/Force/Version/Status/Info/Close。
  - DefaultMigrator：封装 golang-migrate 实例，日志接入 zap。
  - Config：数据库类型、连接 URL、迁移表名与锁超时。
  - CLI：面向终端的格式化输出。

# 主要能力

  - 工厂函数：NewMigratorFromConfig / NewMigratorFromDatabaseConfig /
    NewMigratorFromURL。
  - 辅助工具：ParseDatabaseType 解析类型字符串，BuildDatabaseURL
    按方言拼接连接 URL。
*/
package migration
