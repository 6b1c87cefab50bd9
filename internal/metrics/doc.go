// Copyright 2026 AdvisorFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
包 metrics 提供基于 Prometheus 的内部指标收集。

Collector 是本服务唯一的指标契约：转接域指标（created/assigned/completed
计数与 wait/resolution 时延直方图）、缓存命中率、队列吞吐与死信计数、
通知投递指标以及 HTTP 请求指标都经由它记录，由独立的 metrics HTTP
服务通过 promhttp 暴露。
*/
package metrics
