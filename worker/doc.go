/*
包 worker 执行从执行队列取出的作业，并完成作业结束后的协调协议。

# 概述

一次投递的处理分三步：

  - Setup：加载工作流与作业，按入边顺序收集前驱输出，标记作业开始。
    作业已经成功时只标记 Duplicate，不再执行主体。
  - 主体：调用按作业类型注册的 Handler，panic 视为失败。
    嵌套工作流节点不执行 Handler，而是创建并启动子工作流。
  - Teardown：成功时在 finish 锁下标记完成，再对每条出边在后继的
    next 锁下检查就绪并派发；失败时标记作业与工作流失败并返回错误，
    由队列重投。

# 核心类型

  - Worker：单次投递的 Setup / Perform / Teardown。
  - Coordinator：MarkFinished、EnqueueOutgoing 与 Settle，后者在子工作流
    结束时把结果传回父节点。
  - Handlers：作业类型到 Handler 的注册表。
  - Pool：按队列轮询（errgroup + 限速），在有界 goroutine 池中执行，
    成功 ack、失败 nack。
*/
package worker
