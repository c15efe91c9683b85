/*
包 openaicompat 提供基于 net/http 的 OpenAI 兼容 Chat Completions 后端。

DeepSeek、Qwen、GLM、Grok、vLLM、Ollama 等服务只需配置 BaseURL、
模型名与认证头即可接入。返回首个 choice 的文本内容。
*/
package openaicompat
