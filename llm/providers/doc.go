// Copyright 2026 ScribeFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 providers 提供跨模型服务商的通用适配与辅助能力，是
llm/providers/openaicompat 的公共基础层，负责请求/响应转换、错误映射等
共享逻辑。providers/anthropic 自带错误映射与序列化，不使用本包。

# 核心类型

  - OpenAICompat* 系列 — OpenAI 兼容 API 的通用请求/响应/工具调用结构体

# 核心函数

  - MapHTTPError — 将 HTTP 状态码映射为语义化的 llm.Error（含 Retryable 标记）
  - ConvertMessagesToOpenAI — 统一消息格式转换
  - ToLLMChatResponse — OpenAI 兼容响应到 llm.ChatResponse 的转换
  - ChooseModel — 按优先级选择模型（请求 > 默认 > 兜底）
  - ListModelsOpenAICompat — 通用模型列表获取

# 支持能力

  - 统一错误语义映射（401/403/429/5xx/529 等）
  - 不含重试逻辑；llm.Error 的 Retryable 标记供调用方判断是否重试
  - OpenAI 兼容格式的请求/响应序列化
  - Bearer Token 认证 header 由 openaicompat 子包构建，不在本包中
*/
package providers
