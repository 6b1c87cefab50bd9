// Package config 提供 AdvisorFlow 的配置管理功能。
//
// 包含配置加载与校验。支持从 YAML 文件和带前缀的环境变量
// 加载配置，优先级为: 默认值 → 文件 → 环境变量。
package config
