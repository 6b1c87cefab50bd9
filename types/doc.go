// Copyright 2026 AdvisorFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package types 定义 AdvisorFlow 的共享领域类型与统一错误模型。

# 核心类型

  - HandoffRequest / HandoffStatus / HandoffPriority：转接请求记录及其状态机，
    pending → assigned → active → completed，支持 cancelled / timeout 逃逸转移。
  - Connection / ConnectionStatus：一条实时推送通道的持久化记录，
    按 ConnectionID 唯一，一个用户可同时持有多条连接。
  - QueueMessage / MessagePayload / DeadLetter：异步工作队列消息，
    Payload 为按消息类型区分的 tagged variant。
  - HandoffEvent / EventDetail：控制器发布的领域事件。
  - Error / ErrorCode：统一错误结果类型，调用方通过 Code 做穷尽处理，
    取代 per-failure 的异常层级。

# 上下文辅助

WithUserID / WithRequestID / WithRoles 等函数在 context.Context 中
传递认证主体信息，由 JWT 中间件注入、各 handler 读取。
*/
package types
