// Package openai 基于官方 openai-go SDK 实现 llm.Gateway。
//
// SDK 自带的重试被关闭，重试统一由 llm.WithRetry 负责。
package openai
