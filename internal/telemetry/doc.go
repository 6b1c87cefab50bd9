// Copyright 2026 AdvisorFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

// 包 telemetry 封装 OpenTelemetry SDK 初始化（OTLP gRPC trace/metric
// 导出器）。关闭遥测时返回 noop providers，不连接任何外部服务。
package telemetry
