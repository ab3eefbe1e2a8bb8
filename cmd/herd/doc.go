/*
Package main 提供 herd worker 进程入口。

# 概述

cmd/herd 是编排引擎的可执行入口，提供 worker（消费执行队列）、
数据库迁移、健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标与 OpenTelemetry 导出。

# 主要能力

  - 子命令：worker、migrate、version、health
  - 运维端口：独立监听 /metrics、/healthz、/stats
  - 优雅关闭：SIGINT/SIGTERM → 停止出队 → 等待在途作业 ack → 关闭运维端口
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
