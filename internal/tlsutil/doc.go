// Package tlsutil 为模型后端客户端与 HTTP 服务端提供加固的 TLS 设置
// （TLS 1.2+，仅 AEAD 密码套件），并支持追加自定义根证书。
package tlsutil
