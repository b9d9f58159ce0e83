// Copyright 2026 ScribeFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 是 ScribeFlow 测试辅助代码的根包。本包自身不含函数或
类型，测试工具位于其子包中。

# 子包

  - testutil/mocks: MockProvider（llm.Provider 的模拟实现），支持 Builder
    模式、自定义响应、流式响应块与错误注入

# 使用示例

	provider := mocks.NewMockProvider().WithResponse("hello")
	resp, err := provider.Completion(ctx, req)
*/
package testutil
