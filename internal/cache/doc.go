// Copyright 2026 AdvisorFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
包 cache 提供基于 Redis 的缓存管理能力，支撑 store 包的 cache-aside 读写。

# 概述

本包封装 go-redis 客户端，为上层业务提供统一的缓存读写接口。
Manager 负责连接生命周期管理，包括初始化、健康检查与优雅关闭。
缓存永远不是权威数据源：任何缓存操作失败都由调用方静默降级为
直读持久化存储，绝不向调用方暴露缓存故障。

# 核心类型

  - Manager：缓存管理器，提供 Get/Set/Delete/Exists 等基础操作，
    GetJSON/SetJSON 便捷序列化方法，以及 InvalidateByPattern
    模式批量失效。
  - Config：缓存配置，包含地址、连接池大小、默认 TTL（5 分钟）
    与健康检查间隔等参数。

# 错误语义

未命中返回 ErrCacheMiss 哨兵错误，用 IsCacheMiss 判别；
其余错误均为基础设施故障，调用方按 TRANSIENT_INFRA 降级处理。
*/
package cache
