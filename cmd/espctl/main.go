// Package main 为 espctl 入口：面向运维与设备联调的命令行工具。
package main

import (
	"log"
	"os"

	"espdata/cmd/espctl/internal/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}
