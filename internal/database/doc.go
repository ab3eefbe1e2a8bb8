/*
包 database 管理 durable store 使用的 GORM 连接池。

# 概述

Open 按配置的驱动（postgres / mysql / sqlite）建立 GORM 连接；
PoolManager 负责连接池调优、后台探活与事务执行。

# 主要能力

  - 连接池调优：MaxIdleConns / MaxOpenConns / ConnMaxLifetime。
  - 健康检查：后台定时 PingContext，Close 时停止。
  - 事务管理：WithTransaction 单次执行；WithTransactionRetry 对死锁、
    序列化失败、sqlite 忙等瞬时错误按 internal/retry 退避重试。
  - 错误分类：IsRetryableError、IsUniqueViolation。
*/
package database
