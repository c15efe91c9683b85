// Package config 提供 ChatFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（CHATFLOW_ 前缀）的顺序加载，
// 覆盖 HTTP 服务、对话拓扑、生成后端、缓存、记录存储、日志与遥测。
// BuildRegistry / BuildGraph / BuildDefinition 将 YAML 中的对话定义
// 转换为引擎输入；Reloader 轮询配置文件并在内容变化时通知订阅者。
package config
