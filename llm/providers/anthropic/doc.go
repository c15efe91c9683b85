// Package anthropic 基于官方 anthropic-sdk-go SDK 实现 llm.Gateway。
//
// Messages API 要求 user/assistant 交替出现，相邻同角色消息会被合并，
// system 消息放入 System 字段。
package anthropic
