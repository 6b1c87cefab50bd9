// Copyright 2026 AdvisorFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

// 包 server 提供 HTTP 服务器生命周期管理：监听、非阻塞启动、
// 信号驱动的优雅关闭。应用服务与 metrics 服务共用此实现。
package server
