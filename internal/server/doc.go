// 版权所有 2024 Herd Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 为 worker 进程提供运维 HTTP 端点。

# 概述

Manager 封装 net/http.Server 的非阻塞启动与优雅关闭；Ops 组装路由：

  - /metrics：Prometheus 指标（promhttp）。
  - /healthz：依次执行注册的健康检查（数据库、Redis），任一失败返回 503。
  - /stats：注册的统计项，例如执行队列积压、Redis INFO、连接池与执行池状态。

/healthz 与 /stats 的请求计数和耗时记录到 metrics.Collector。
*/
package server
