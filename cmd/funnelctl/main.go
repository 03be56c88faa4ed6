package main

import "microloan-funnel/internal/cli"

func main() {
	cli.Execute()
}
