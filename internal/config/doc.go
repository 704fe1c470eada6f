// Package config 负责加载与解析进程配置：内置默认值、YAML/JSON 配置文件与环境变量按序合并。
package config
