/*
包 metrics 提供基于 Prometheus 的编排引擎指标采集。

# 概述

Collector 通过 promauto.With(registry) 注册指标，测试与多实例场景
可以传入独立的 prometheus.Registry。所有记录方法对 nil 接收者安全。

# 主要能力

  - 作业指标：proxy 状态转换计数、作业主体耗时、派发计数。
  - 工作流指标：持久状态转换计数（completed / failed / stopped 等）。
  - 分布式锁指标：获取结果（acquired / exhausted）、竞争重试次数、
    等待时间直方图，按 scope（next / finish）分组。
  - 执行队列指标：ack / nack / dead 投递结果。
  - HTTP 与数据库：/metrics 端点请求计数、连接池 Gauge。
*/
package metrics
