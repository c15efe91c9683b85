// Package factory 根据配置创建生成后端（Gateway），
// 按名称映射到 openai、anthropic 与 OpenAI 兼容实现，并按配置叠加
// 追踪、观测、缓存、熔断、限流与重试中间件。Resolver 为参与者级覆盖
// 配置提供按有效配置去重的 Gateway 实例。
package factory
