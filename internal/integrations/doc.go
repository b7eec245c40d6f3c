// Package integrations 管理外部服务的 OAuth 授权与凭据存储。
// 授权流程产出的凭据可供社交类命令在运行时使用。
package integrations
