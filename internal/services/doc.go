// Package services 提供读数相关的领域服务：写入与查询、最新读数缓存、上报审计、数据保留与就绪检查。
// handlers 通过这些服务访问存储，不直接操作 gorm 或 redis。
package services
