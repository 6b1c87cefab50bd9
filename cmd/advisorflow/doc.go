// Copyright 2026 AdvisorFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package main 提供 AdvisorFlow 服务端程序入口。

# 概述

cmd/advisorflow 是转接协调服务的可执行入口，提供转接生命周期 API、
消息队列投递、WebSocket 实时推送、健康检查与版本查询等子命令。
程序支持 YAML 配置文件加载、结构化日志（zap）、Prometheus 指标采集
与 OpenTelemetry 遥测。

# 核心类型

  - Server        — 主服务器，管理 HTTP、Metrics 双端口及优雅关闭
  - Middleware    — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve（启动服务）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    CORS、RateLimiter（基于 IP）、JWTAuth（Bearer token）、Metrics
  - 后台任务：超时巡检、过期连接清扫、队列消费循环
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号监听 → 停止消费 → 关闭 HTTP → 释放存储连接
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
