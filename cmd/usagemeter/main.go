// Package main is the entry point for usagemeter.
package main

func main() {
	Execute()
}
