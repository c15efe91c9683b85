// Package hitl 把会话的人类代理挂起转化为可查询、可应答的中断。
//
// 引擎在需要人工输入时挂起并发布中断事件；InterruptManager 记录中断，
// 通知订阅者，并在人工应答后调用 Continue 恢复会话。
package hitl
