/*
包 cache 管理 herd 共享的 Redis 连接。

# 概述

临时图存储、分布式锁和 Redis 执行队列共用同一个客户端。Manager
负责建立连接、启动时探活、后台健康检查与关闭。

# 主要能力

  - 连接管理：NewManager 按配置建连并 Ping；NewManagerWithClient
    包装已有客户端（测试中用于 miniredis）。
  - 健康检查：后台定时 Ping，Close 时停止。
  - 统计信息：GetStats 解析 INFO（命中、未命中、内存、连接数）与 DBSIZE。
*/
package cache
