// Package storage 提供底层持久化与缓存适配：MySQL 连接池、自动迁移、会话时区校验、Redis 连接以及 GORM 模型声明。
// 其它层应通过 services 间接访问存储。
package storage
