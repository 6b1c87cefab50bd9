// Copyright 2026 AdvisorFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

// Package handlers 实现 HTTP API 层: 转接生命周期操作、消息入队、
// WebSocket 接入、广播与健康检查。
package handlers
